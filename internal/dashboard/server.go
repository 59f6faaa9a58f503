// Package dashboard serves the board API: REST endpoints for tasks and
// comments, and a WebSocket change feed at /realtime.
//
// Every /api route requires `Authorization: Bearer <token>`; tokens map to
// user IDs through Config.Tokens. The WebSocket endpoint also accepts the
// token as a ?token= query parameter since browsers cannot set headers on
// an upgrade request.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskboard/kanban/internal/service"
)

// MessageType defines the type of feed message
type MessageType string

const (
	// MessageTypeSubscribed confirms the subscription and echoes its filter
	MessageTypeSubscribed MessageType = "subscribed"

	// MessageTypeChange carries one feed.Event
	MessageTypeChange MessageType = "change"

	// MessageTypeInvalidate tells the client it missed events and should refetch
	MessageTypeInvalidate MessageType = "invalidate"

	// MessageTypeStats carries updated task counts after a task change
	MessageTypeStats MessageType = "stats"
)

// Message is one frame on the /realtime socket
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SubscribedData echoes the effective subscription filter
type SubscribedData struct {
	Channel string `json:"channel"`
	Table   string `json:"table"`
	TaskID  string `json:"task_id,omitempty"`
}

// StatsData contains task statistics
type StatsData struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

// Server hosts the REST API and the WebSocket change feed
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	router   *gin.Engine

	board   *service.Board
	tokens  map[string]string
	version string

	// WebSocket client management
	clients   map[*websocket.Conn]string
	clientsMu sync.RWMutex

	writeTimeout time.Duration

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *zap.Logger
}

// Config holds server configuration
type Config struct {
	// Addr to listen on (default: ":8080"; ":0" picks a free port)
	Addr string

	// Version reported by /health
	Version string

	// Board executes every operation
	Board *service.Board

	// Tokens maps bearer tokens to user IDs
	Tokens map[string]string

	// WriteTimeout bounds each WebSocket write (default: 5s)
	WriteTimeout time.Duration

	// Logger for server activity (default: no-op)
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":8080",
		Version:      "0.0.0-dev",
		WriteTimeout: 5 * time.Second,
		Logger:       zap.NewNop(),
	}
}

// NewServer creates a new API server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.Version == "" {
		config.Version = defaults.Version
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		addr:         config.Addr,
		board:        config.Board,
		tokens:       config.Tokens,
		version:      config.Version,
		clients:      make(map[*websocket.Conn]string),
		writeTimeout: config.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
		logger:       config.Logger,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.handleHealth)
	router.GET("/realtime", s.authenticate(true), s.handleRealtime)

	api := router.Group("/api", s.authenticate(false))
	{
		api.GET("/tasks", s.handleListTasks)
		api.POST("/tasks", s.handleCreateTask)
		api.GET("/tasks/:id", s.handleGetTask)
		api.PATCH("/tasks/:id", s.handleUpdateTask)
		api.DELETE("/tasks/:id", s.handleDeleteTask)
		api.POST("/tasks/:id/move", s.handleMoveTask)
		api.GET("/tasks/:id/comments", s.handleListComments)
		api.POST("/tasks/:id/comments", s.handleAddComment)
		api.DELETE("/comments/:id", s.handleDeleteComment)
		api.GET("/stats", s.handleStats)
		api.GET("/me", s.handleMe)
	}
	return router
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving on the configured address
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	// No WriteTimeout: it would also cut off hijacked WebSocket connections.
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("API server listening", zap.String("addr", ln.Addr().String()))
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Info("stopping API server")

	// Signal shutdown; realtime handlers return and unregister themselves
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Info("API server stopped")
	return nil
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected feed clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) addClient(conn *websocket.Conn, channel string) {
	s.clientsMu.Lock()
	s.clients[conn] = channel
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Info("feed client connected", zap.String("channel", channel), zap.Int("total", count))
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		count := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Info("feed client disconnected", zap.Int("total", count))
	} else {
		s.clientsMu.Unlock()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("user", c.GetString(userKey)))
	}
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.version,
		"clients": s.ClientCount(),
	})
}
