package jobs

import (
	"sync"
	"time"

	"runetrack/internal/config"

	"github.com/rs/zerolog"
)

// Scheduler periodically enqueues the flagged-player recheck job so that
// every flagged identity eventually gets a forced second chance at
// automatic resolution.
type Scheduler struct {
	runtime *Runtime
	cfg     config.JobsConfig
	logger  zerolog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

func NewScheduler(runtime *Runtime, cfg *config.Config, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		runtime: runtime,
		cfg:     cfg.Jobs,
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	go s.run()
	s.logger.Info().Dur("interval", s.cfg.FlaggedRecheckEvery).Msg("scheduler started")
}

func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	<-s.doneCh
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.FlaggedRecheckEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.runtime.Enqueue(TypeRecheckFlagged, Payload{}, Options{
				DedupeKey: "recheck",
			}); err != nil {
				s.logger.Error().Err(err).Msg("failed to enqueue flagged recheck")
			}
		}
	}
}
