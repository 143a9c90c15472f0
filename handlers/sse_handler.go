package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"campus-election-backend/api"
	"campus-election-backend/errs"
	"campus-election-backend/models"
)

// Subscriber hands out live update channels per election.
type Subscriber interface {
	Subscribe(electionID uint) (<-chan []byte, func())
}

// ElectionLookup resolves the election a stream is opened for.
type ElectionLookup interface {
	GetByID(ctx context.Context, id uint) (*models.Election, error)
}

// SSE streams the same updates as the websocket endpoint to clients that
// prefer server-sent events.
type SSE struct {
	hub       Subscriber
	elections ElectionLookup
	heartbeat time.Duration
	logger    *zap.Logger
}

func NewSSE(hub Subscriber, elections ElectionLookup, logger *zap.Logger) *SSE {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSE{hub: hub, elections: elections, heartbeat: 15 * time.Second, logger: logger}
}

// Stream handles GET /api/elections/:id/live.
func (s *SSE) Stream(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		api.Error(c, errs.Validation("invalid election id"))
		return
	}
	if _, err := s.elections.GetByID(c.Request.Context(), uint(id)); err != nil {
		api.Error(c, err)
		return
	}

	updates, cancel := s.hub.Subscribe(uint(id))
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"election_id\":%d}\n\n", id)
	c.Writer.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for s.next(c, updates, heartbeat.C) {
	}
	s.logger.Debug("sse stream closed", zap.Uint64("election_id", id))
}

// next writes one update or heartbeat and reports whether to keep going.
func (s *SSE) next(c *gin.Context, updates <-chan []byte, beat <-chan time.Time) bool {
	var err error
	select {
	case <-c.Request.Context().Done():
		return false
	case msg, ok := <-updates:
		if !ok {
			return false
		}
		_, err = fmt.Fprintf(c.Writer, "event: update\ndata: %s\n\n", msg)
	case <-beat:
		_, err = fmt.Fprint(c.Writer, ": ping\n\n")
	}
	if err != nil {
		return false
	}
	c.Writer.Flush()
	return true
}
