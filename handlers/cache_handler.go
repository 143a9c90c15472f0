package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"campus-election-backend/api"
)

// FilterResetter clears the election existence filter.
type FilterResetter interface {
	Reset(ctx context.Context) error
}

// FilterWarmer reloads every election id into the filter.
type FilterWarmer interface {
	WarmFilter(ctx context.Context) error
}

// Cache exposes maintenance of the Redis-backed caches to admins.
type Cache struct {
	filter FilterResetter
	warmer FilterWarmer
	logger *zap.Logger
}

func NewCache(filter FilterResetter, warmer FilterWarmer, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{filter: filter, warmer: warmer, logger: logger}
}

// RebuildFilter empties the election bloom filter and loads it again from
// the store, dropping bits left behind by deleted elections.
func (h *Cache) RebuildFilter(c *gin.Context) {
	if h.filter == nil {
		c.JSON(http.StatusOK, gin.H{"rebuilt": false, "reason": "redis disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := h.filter.Reset(ctx); err != nil {
		api.Error(c, err)
		return
	}
	if err := h.warmer.WarmFilter(ctx); err != nil {
		api.Error(c, err)
		return
	}
	h.logger.Info("election filter rebuilt", zap.Duration("took", time.Since(start)))
	c.JSON(http.StatusOK, gin.H{"rebuilt": true, "took": time.Since(start).String()})
}
