// Package pipeline contains the two periodic sync pipelines. Cycles of one
// pipeline are strictly serialized: a trigger that arrives while a cycle is
// running is dropped, not queued, so a long cycle can never stack overlapping
// runs behind itself.
package pipeline

import (
	"os"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// runGuard serializes cycles and coalesces triggers.
type runGuard struct {
	running atomic.Bool
}

func (g *runGuard) tryStart() bool {
	return g.running.CompareAndSwap(false, true)
}

func (g *runGuard) finish() {
	g.running.Store(false)
}

// recoverCycle keeps an unexpected panic inside a cycle from taking down the
// daemon; the cycle ends early and the next tick retries.
func recoverCycle(pipeline string) {
	if r := recover(); r != nil {
		log.Error().Str("pipeline", pipeline).Interface("panic", r).Msg("Cycle panicked, ending cycle early")
	}
}

// writeFileAtomic writes data to path through a temporary name and a rename,
// so a concurrent reader never observes a truncated document.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to move %s into place", tmp)
	}
	return nil
}
