// Package status holds the latest-value pipeline status the UI shell reads.
// Publication never blocks a pipeline: the tracker keeps only the most recent
// report per pipeline, and the optional redis mirror is best-effort.
package status

import (
	"context"
	"sync"
	"time"

	"example.com/storesync/internal/cache"

	"github.com/rs/zerolog/log"
)

// Pipeline states reported to the UI.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateError   = "error"
)

// PipelineStatus is one pipeline's latest observed state.
type PipelineStatus struct {
	Pipeline  string    `json:"pipeline"`
	State     string    `json:"state"`
	Message   string    `json:"message,omitempty"`
	LastRun   time.Time `json:"last_run"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
}

// Tracker keeps the latest status per pipeline.
type Tracker struct {
	mu     sync.RWMutex
	latest map[string]PipelineStatus
	cache  *cache.RedisCache
}

// NewTracker creates a tracker. The cache is optional; pass nil to keep
// status in-process only.
func NewTracker(c *cache.RedisCache) *Tracker {
	return &Tracker{
		latest: make(map[string]PipelineStatus),
		cache:  c,
	}
}

// Publish replaces the stored status for the pipeline and mirrors it to
// redis when configured. Mirror failures are logged and dropped.
func (t *Tracker) Publish(s PipelineStatus) {
	t.mu.Lock()
	t.latest[s.Pipeline] = s
	t.mu.Unlock()

	if t.cache == nil || !t.cache.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := t.cache.Set(ctx, cache.StatusCacheKey(s.Pipeline), s, 24*time.Hour); err != nil {
		log.Debug().Err(err).Str("pipeline", s.Pipeline).Msg("Failed to mirror status to redis")
	}
}

// Snapshot returns a copy of the latest status of every pipeline.
func (t *Tracker) Snapshot() map[string]PipelineStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]PipelineStatus, len(t.latest))
	for name, s := range t.latest {
		out[name] = s
	}
	return out
}

// Get returns the latest status of one pipeline.
func (t *Tracker) Get(pipeline string) (PipelineStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.latest[pipeline]
	return s, ok
}
