// Package jobs is the asynchronous work substrate: a bounded worker pool
// with per-type rate limiting, per-key in-flight de-duplication and bounded
// exponential retry for transient failures.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"runetrack/internal/config"
	"runetrack/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

type Type string

const (
	TypeReviewNameChange Type = "review_name_change"
	TypeUpdatePlayer     Type = "update_player"
	TypeRecheckFlagged   Type = "recheck_flagged"
)

// Payload carries a job's arguments. Jobs read only the fields their type
// needs.
type Payload struct {
	NameChangeID int64  `json:"nameChangeId,omitempty"`
	Username     string `json:"username,omitempty"`
}

// Options tunes a single enqueue. DedupeKey enforces at most one in-flight
// execution per (type, key); a second enqueue while one is running is
// coalesced.
type Options struct {
	Delay     time.Duration
	DedupeKey string
}

// Handler executes one job. Errors classified transient via
// domain.IsTransient are retried with backoff; everything else is terminal.
type Handler func(ctx context.Context, payload Payload) error

type job struct {
	id      string
	typ     Type
	payload Payload
	key     string
}

type Runtime struct {
	logger      zerolog.Logger
	cfg         config.JobsConfig
	queue       chan job
	handlers    map[Type]Handler
	limiters    map[Type]*rate.Limiter
	handlerMu   sync.RWMutex
	inflight    map[string]struct{}
	inflightMu  sync.Mutex
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	started     bool
	startedMu   sync.Mutex
}

func NewRuntime(cfg *config.Config, logger zerolog.Logger) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		logger:   logger,
		cfg:      cfg.Jobs,
		queue:    make(chan job, cfg.Jobs.QueueSize),
		handlers: make(map[Type]Handler),
		limiters: make(map[Type]*rate.Limiter),
		inflight: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Register binds a handler to a job type. minInterval > 0 caps the type at
// one execution per interval across all workers.
func (r *Runtime) Register(typ Type, minInterval time.Duration, h Handler) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.handlers[typ] = h
	if minInterval > 0 {
		r.limiters[typ] = rate.NewLimiter(rate.Every(minInterval), 1)
	}
}

// Enqueue schedules a job. Returns false when the job was coalesced into an
// already in-flight execution for the same dedupe key.
func (r *Runtime) Enqueue(typ Type, payload Payload, opts Options) (bool, error) {
	r.handlerMu.RLock()
	_, registered := r.handlers[typ]
	r.handlerMu.RUnlock()
	if !registered {
		return false, fmt.Errorf("no handler registered for job type %q", typ)
	}

	id, err := gonanoid.New()
	if err != nil {
		return false, fmt.Errorf("generating job id: %w", err)
	}

	j := job{id: id, typ: typ, payload: payload}
	if opts.DedupeKey != "" {
		j.key = string(typ) + ":" + opts.DedupeKey
		if !r.claim(j.key) {
			r.logger.Debug().Str("job_type", string(typ)).Str("key", j.key).
				Msg("job coalesced, key already in flight")
			return false, nil
		}
	}

	submit := func() {
		select {
		case r.queue <- j:
		case <-r.ctx.Done():
			r.release(j.key)
		}
	}

	if opts.Delay > 0 {
		fired := make(chan struct{})
		timer := time.AfterFunc(opts.Delay, func() {
			defer close(fired)
			submit()
		})
		// The watcher exits as soon as the timer fires so delayed enqueues
		// do not pile up goroutines until shutdown.
		go func() {
			select {
			case <-fired:
			case <-r.ctx.Done():
				if timer.Stop() {
					r.release(j.key)
				}
			}
		}()
		return true, nil
	}

	submit()
	return true, nil
}

func (r *Runtime) claim(key string) bool {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	if _, busy := r.inflight[key]; busy {
		return false
	}
	r.inflight[key] = struct{}{}
	return true
}

func (r *Runtime) release(key string) {
	if key == "" {
		return
	}
	r.inflightMu.Lock()
	delete(r.inflight, key)
	r.inflightMu.Unlock()
}

// Start launches the worker pool.
func (r *Runtime) Start() {
	r.startedMu.Lock()
	defer r.startedMu.Unlock()
	if r.started {
		return
	}
	r.started = true

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.logger.Info().Int("workers", r.cfg.Workers).Msg("job runtime started")
}

// Stop drains the workers and waits for in-flight jobs to finish.
func (r *Runtime) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info().Msg("job runtime stopped")
}

func (r *Runtime) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case j := <-r.queue:
			r.execute(j)
		}
	}
}

func (r *Runtime) execute(j job) {
	defer r.release(j.key)

	r.handlerMu.RLock()
	handler := r.handlers[j.typ]
	limiter := r.limiters[j.typ]
	r.handlerMu.RUnlock()

	if limiter != nil {
		if err := limiter.Wait(r.ctx); err != nil {
			return
		}
	}

	start := time.Now()
	backoff := retry.WithMaxRetries(uint64(r.cfg.MaxAttempts-1), retry.NewExponential(r.cfg.RetryBackoff))

	err := retry.Do(r.ctx, backoff, func(ctx context.Context) error {
		err := handler(ctx, j.payload)
		if err != nil && domain.IsTransient(err) {
			r.logger.Warn().Err(err).
				Str("job_id", j.id).
				Str("job_type", string(j.typ)).
				Msg("transient job failure, will retry")
			return retry.RetryableError(err)
		}
		return err
	})

	logEvent := r.logger.Debug()
	if err != nil {
		logEvent = r.logger.Error().Err(err)
	}
	logEvent.
		Str("job_id", j.id).
		Str("job_type", string(j.typ)).
		Dur("duration", time.Since(start)).
		Msg("job finished")
}
