// Package supervisor runs the sync pipelines on independent timers and owns
// the daemon's shutdown path.
package supervisor

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Pipeline is one periodic sync pipeline. RunCycle must serialize itself:
// a call made while a cycle is running returns false without doing work.
type Pipeline interface {
	Name() string
	RunCycle(ctx context.Context) bool
}

// Supervisor schedules the pipelines and isolates their failures from one
// another. Each pipeline runs on its own timer; a manual trigger runs a cycle
// immediately and is coalesced with any in-progress cycle of that pipeline.
type Supervisor struct {
	scheduler gocron.Scheduler
	pipelines map[string]Pipeline
	cancel    context.CancelFunc
	ctx       context.Context
}

// New creates a supervisor for the given pipelines with their intervals.
func New(intervals map[string]time.Duration, pipelines ...Pipeline) (*Supervisor, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create scheduler")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		scheduler: scheduler,
		pipelines: make(map[string]Pipeline, len(pipelines)),
		cancel:    cancel,
		ctx:       ctx,
	}

	for _, p := range pipelines {
		p := p
		s.pipelines[p.Name()] = p

		interval, ok := intervals[p.Name()]
		if !ok || interval <= 0 {
			interval = 15 * time.Second
		}

		_, err := scheduler.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(func() {
				p.RunCycle(s.ctx)
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			cancel()
			return nil, errors.Wrapf(err, "failed to schedule %s pipeline", p.Name())
		}
		log.Info().Str("pipeline", p.Name()).Dur("interval", interval).Msg("Pipeline scheduled")
	}

	return s, nil
}

// Start begins the timers. It returns immediately; cycles run on the
// scheduler's goroutines.
func (s *Supervisor) Start() {
	s.scheduler.Start()
}

// Has reports whether a pipeline with the given name is scheduled.
func (s *Supervisor) Has(name string) bool {
	_, ok := s.pipelines[name]
	return ok
}

// TriggerNow runs one cycle of the named pipeline outside its timer. A
// trigger that lands while that pipeline is mid-cycle is dropped, not
// queued; the returned bool reports whether a cycle actually started.
func (s *Supervisor) TriggerNow(name string) (bool, error) {
	p, ok := s.pipelines[name]
	if !ok {
		return false, errors.Errorf("unknown pipeline %q", name)
	}
	started := p.RunCycle(s.ctx)
	if !started {
		log.Info().Str("pipeline", name).Msg("Manual trigger coalesced with running cycle")
	}
	return started, nil
}

// Shutdown signals both pipelines to finish their current cycle and not
// start another, then stops the timers. In-flight cycles observe the
// cancellation at item boundaries only, so no write is interrupted.
func (s *Supervisor) Shutdown() error {
	s.cancel()
	if err := s.scheduler.Shutdown(); err != nil {
		return errors.Wrap(err, "failed to shut down scheduler")
	}
	log.Info().Msg("Supervisor shut down")
	return nil
}
