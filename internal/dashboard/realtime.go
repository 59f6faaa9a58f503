package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskboard/kanban/internal/feed"
)

// handleRealtime upgrades to a WebSocket and streams feed events matching
// ?table= (default tasks) and optional ?task_id= until either side closes.
func (s *Server) handleRealtime(c *gin.Context) {
	table := feed.Table(c.DefaultQuery("table", string(feed.TableTasks)))
	if !table.Valid() {
		abortWithError(c, http.StatusBadRequest, "unknown table "+string(table))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sub, err := s.board.Subscribe(ctx, feed.Filter{Table: table, TaskID: c.Query("task_id")})
	if err != nil {
		s.fail(c, err)
		return
	}
	defer sub.Close()

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	filter := sub.Filter()
	s.addClient(conn, filter.String())
	defer s.removeClient(conn)

	if err := s.send(ctx, conn, MessageTypeSubscribed, SubscribedData{
		Channel: filter.String(),
		Table:   string(filter.Table),
		TaskID:  filter.TaskID,
	}); err != nil {
		return
	}

	// Keep connection alive (read loop); a read error means the client left.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := s.deliver(ctx, c, conn, ev); err != nil {
				s.logger.Debug("failed to send to feed client", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) deliver(ctx context.Context, c *gin.Context, conn *websocket.Conn, ev feed.Event) error {
	if ev.Type == feed.EventInvalidate {
		return s.send(ctx, conn, MessageTypeInvalidate, ev)
	}
	if err := s.send(ctx, conn, MessageTypeChange, ev); err != nil {
		return err
	}
	if ev.Table != feed.TableTasks {
		return nil
	}
	stats, err := s.stats(c)
	if err != nil {
		s.logger.Warn("failed to compute stats", zap.Error(err))
		return nil
	}
	return s.send(ctx, conn, MessageTypeStats, stats)
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, typ MessageType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Message{Type: typ, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, frame)
}
