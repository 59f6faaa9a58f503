package dashboard

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taskboard/kanban/internal/db"
	"github.com/taskboard/kanban/internal/schema"
	"github.com/taskboard/kanban/internal/service"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MoveRequest is the body of POST /api/tasks/:id/move.
type MoveRequest struct {
	Status string `json:"status"`
}

// SessionData is the body of GET /api/me.
type SessionData struct {
	UserID string `json:"user_id"`
}

// CommentRequest is the body of POST /api/tasks/:id/comments.
type CommentRequest struct {
	Content string `json:"content"`
}

func abortWithError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg})
}

// statusFor maps service and store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, db.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, db.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		abortWithError(c, status, "internal server error")
		return
	}
	abortWithError(c, status, err.Error())
}

func (s *Server) handleListTasks(c *gin.Context) {
	var filter db.ListTasksFilter
	var err error

	if v := c.Query("status"); v != "" {
		if filter.Status, err = schema.ParseStatus(v); err != nil {
			abortWithError(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	if v := c.Query("priority"); v != "" {
		if filter.Priority, err = schema.ParsePriority(v); err != nil {
			abortWithError(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	filter.Tag = c.Query("tag")
	if filter.Limit, err = queryInt(c, "limit"); err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}
	if filter.Offset, err = queryInt(c, "offset"); err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}

	tasks, err := s.board.ListTasks(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var in schema.TaskInsert
	if err := c.ShouldBindJSON(&in); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid task: "+err.Error())
		return
	}
	task, err := s.board.CreateTask(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.board.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	var patch schema.TaskUpdate
	if err := c.ShouldBindJSON(&patch); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid update: "+err.Error())
		return
	}
	task, err := s.board.UpdateTask(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleMoveTask(c *gin.Context) {
	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid move: "+err.Error())
		return
	}
	status, err := schema.ParseStatus(req.Status)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err.Error())
		return
	}
	task, err := s.board.MoveTask(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	if _, err := s.board.DeleteTask(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListComments(c *gin.Context) {
	comments, err := s.board.ListComments(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, comments)
}

func (s *Server) handleAddComment(c *gin.Context) {
	var req CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "invalid comment: "+err.Error())
		return
	}
	comment, err := s.board.AddComment(c.Request.Context(), c.Param("id"), req.Content)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (s *Server) handleDeleteComment(c *gin.Context) {
	if _, err := s.board.DeleteComment(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.stats(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) stats(c *gin.Context) (StatsData, error) {
	counts, err := s.board.Stats(c.Request.Context())
	if err != nil {
		return StatsData{}, err
	}
	return newStatsData(counts), nil
}

func newStatsData(counts map[schema.Status]int) StatsData {
	data := StatsData{ByStatus: make(map[string]int, len(counts))}
	for status, n := range counts {
		data.ByStatus[string(status)] = n
		data.Total += n
	}
	return data
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, SessionData{UserID: c.GetString(userKey)})
}
