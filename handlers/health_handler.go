// Package handlers holds the operational endpoints: health and status,
// the SSE tally stream, rate limiting and cache maintenance.
package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// QueueStats reports the depth of the event queues.
type QueueStats interface {
	TransportName() string
	Stats(ctx context.Context) map[string]int64
}

// SystemInfo contains basic runtime metrics and dependency status.
type SystemInfo struct {
	Status       string           `json:"status"`
	Version      string           `json:"version"`
	Uptime       string           `json:"uptime"`
	StartTime    time.Time        `json:"start_time"`
	CurrentTime  time.Time        `json:"current_time"`
	GoVersion    string           `json:"go_version"`
	NumGoroutine int              `json:"num_goroutine"`
	NumCPU       int              `json:"num_cpu"`
	DBStatus     string           `json:"db_status"`
	RedisStatus  string           `json:"redis_status"`
	Queue        string           `json:"queue,omitempty"`
	QueueStats   map[string]int64 `json:"queue_stats,omitempty"`
}

// Health serves the liveness and status endpoints.
type Health struct {
	db        *gorm.DB
	queue     QueueStats
	redisLive func() bool
	version   string
	startTime time.Time
}

// NewHealth builds the endpoints. queue and redisLive may be nil.
func NewHealth(db *gorm.DB, queue QueueStats, redisLive func() bool, version string) *Health {
	return &Health{db: db, queue: queue, redisLive: redisLive, version: version, startTime: time.Now()}
}

// Check is the liveness probe.
func (h *Health) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// Status reports dependency health; it answers 503 when the store is down.
func (h *Health) Status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	info := SystemInfo{
		Status:       "ok",
		Version:      h.version,
		Uptime:       time.Since(h.startTime).Round(time.Second).String(),
		StartTime:    h.startTime,
		CurrentTime:  time.Now(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		DBStatus:     "ok",
		RedisStatus:  "disabled",
	}

	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.PingContext(ctx) != nil {
		info.DBStatus = "error"
		info.Status = "degraded"
	}
	if h.redisLive != nil && h.redisLive() {
		info.RedisStatus = "ok"
	}
	if h.queue != nil {
		info.Queue = h.queue.TransportName()
		info.QueueStats = h.queue.Stats(ctx)
	}

	status := http.StatusOK
	if info.DBStatus != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, info)
}
