package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"

	"medscribe/internal/config"
	"medscribe/internal/logging"
	"medscribe/internal/services"
	"medscribe/internal/stage"
)

// ErrSkip is returned by a Resolver when the request no longer applies (the
// job is terminal or moved past the stage). The request is dropped silently.
var ErrSkip = errors.New("stage request no longer applies")

// Resolver reconstructs the executor input for a request from the job store.
type Resolver func(ctx context.Context, req Request) (stage.Input, error)

// Observer receives execution measurements. Implementations must not block.
type Observer interface {
	ObserveAttempt(stage stage.Name, outcome string, elapsed time.Duration)
}

// Pool runs stage executors on a fixed number of workers.
type Pool struct {
	cfg       *config.Config
	queue     *Queue
	executors map[stage.Name]stage.Executor
	resolve   Resolver
	observer  Observer
	logger    *slog.Logger
	events    chan Event

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// PoolOption customizes a Pool.
type PoolOption func(*Pool)

// WithObserver attaches a measurement sink.
func WithObserver(observer Observer) PoolOption {
	return func(p *Pool) {
		p.observer = observer
	}
}

// NewPool constructs a worker pool over queue.
func NewPool(cfg *config.Config, queue *Queue, executors []stage.Executor, resolve Resolver, logger *slog.Logger, opts ...PoolOption) *Pool {
	byName := make(map[stage.Name]stage.Executor, len(executors))
	for _, exec := range executors {
		if exec != nil {
			byName[exec.Name()] = exec
		}
	}
	buffer := cfg.Workers.QueueCapacity
	if buffer < 16 {
		buffer = 16
	}
	p := &Pool{
		cfg:       cfg,
		queue:     queue,
		executors: byName,
		resolve:   resolve,
		logger:    logging.NewComponentLogger(logger, "worker-pool"),
		events:    make(chan Event, buffer),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Events returns the channel the controller consumes.
func (p *Pool) Events() <-chan Event {
	return p.events
}

// Queue returns the underlying queue.
func (p *Pool) Queue() *Queue {
	return p.queue
}

// Executor returns the executor registered for name.
func (p *Pool) Executor(name stage.Name) (stage.Executor, bool) {
	exec, ok := p.executors[name]
	return exec, ok
}

// Start launches the workers and the lease reaper.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}
	if len(p.executors) == 0 {
		return errors.New("worker pool has no executors")
	}
	workers := p.cfg.Workers.Count
	if workers < 1 {
		workers = 1
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(workers + 1)
	for i := range workers {
		go p.worker(runCtx, i+1)
	}
	go p.reap(runCtx)
	p.logger.Info("worker pool started", logging.Int("workers", workers))
	return nil
}

// Stop cancels the workers and waits for them to return.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

func (p *Pool) leaseTTL(req Request) time.Duration {
	return p.cfg.StageTimeout(string(req.Stage)) + time.Duration(p.cfg.Workers.LeaseGraceSeconds)*time.Second
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(logging.Int("worker", id))
	for {
		req, err := p.queue.Dequeue(ctx, p.leaseTTL)
		if err != nil {
			if !errors.Is(err, ErrClosed) && !errors.Is(err, context.Canceled) {
				logger.Warn("dequeue failed", logging.Error(err))
			}
			return
		}
		p.process(ctx, logger, req)
	}
}

func (p *Pool) process(ctx context.Context, logger *slog.Logger, req Request) {
	ctx = services.WithJobID(ctx, req.JobID)
	ctx = services.WithStage(ctx, string(req.Stage))
	ctx = services.WithAttempt(ctx, req.Attempt)
	logger = logging.WithContext(ctx, logger).With(logging.Int(logging.FieldAttempt, req.Attempt))

	exec, ok := p.executors[req.Stage]
	if !ok {
		err := services.Wrap(services.ErrConfiguration, string(req.Stage), "dispatch", "No executor registered", nil)
		p.finish(ctx, logger, req, err)
		return
	}
	in, err := p.resolve(ctx, req)
	if errors.Is(err, ErrSkip) {
		p.queue.Complete(req.DeliveryID)
		logger.Debug("stage request skipped", logging.Error(err))
		return
	}
	if err != nil {
		p.finish(ctx, logger, req, err)
		return
	}

	p.emit(ctx, Event{Kind: EventStarted, DeliveryID: req.DeliveryID, JobID: req.JobID, Stage: req.Stage, Attempt: req.Attempt})
	started := time.Now()
	output, err := p.invoke(ctx, exec, in, req)
	elapsed := time.Since(started)

	if err != nil && ctx.Err() != nil {
		// Shutting down: hand the request back uncounted.
		p.queue.Release(req.DeliveryID)
		logger.Info("stage interrupted by shutdown")
		return
	}
	if err == nil {
		if !p.queue.Complete(req.DeliveryID) {
			logger.Warn("dropping result of expired lease", logging.String(logging.FieldEventType, "late_result"))
			return
		}
		p.observe(req.Stage, "completed", elapsed)
		logger.Info("stage attempt completed", logging.Duration("elapsed", elapsed))
		p.emit(ctx, Event{Kind: EventCompleted, DeliveryID: req.DeliveryID, JobID: req.JobID, Stage: req.Stage, Attempt: req.Attempt, Output: output})
		return
	}
	p.observe(req.Stage, "failed", elapsed)
	p.finish(ctx, logger, req, err)
}

// finish settles a failed attempt: retry with backoff or report exhaustion.
func (p *Pool) finish(ctx context.Context, logger *slog.Logger, req Request, err error) {
	policy := p.cfg.RetryFor(string(req.Stage))
	retry := retryable(req.Stage, err)
	if retry && req.Attempt < maxAttempts(policy) {
		delay := Backoff(policy, req.Attempt)
		next, ok := p.queue.Retry(req.DeliveryID, delay)
		if !ok {
			logger.Warn("dropping failure of expired lease", logging.Error(err), logging.String(logging.FieldEventType, "late_result"))
			return
		}
		logging.WarnWithContext(logger, "stage attempt failed; will retry", "stage_retry",
			logging.Error(err),
			logging.Int("next_attempt", next.Attempt),
			logging.Duration("retry_in", delay),
		)
		p.emit(ctx, Event{Kind: EventRetrying, DeliveryID: req.DeliveryID, JobID: req.JobID, Stage: req.Stage, Attempt: req.Attempt, Err: err, RetryIn: delay})
		return
	}
	if !p.queue.Complete(req.DeliveryID) {
		logger.Warn("dropping failure of expired lease", logging.Error(err), logging.String(logging.FieldEventType, "late_result"))
		return
	}
	logging.ErrorWithContext(logger, "stage failed permanently", "stage_exhausted",
		logging.Error(err),
		logging.Bool("retryable", retry),
	)
	p.emit(ctx, Event{Kind: EventExhausted, DeliveryID: req.DeliveryID, JobID: req.JobID, Stage: req.Stage, Attempt: req.Attempt, Err: err})
}

// retryable reports whether a failed attempt goes back through the retry
// policy. Only diarization is optional, so an unavailable dependency there is
// final; for transcription and synthesis it counts as a processing failure.
func retryable(name stage.Name, err error) bool {
	if name != stage.Diarization && errors.Is(err, services.ErrStageUnavailable) {
		return true
	}
	return services.Retryable(err)
}

func (p *Pool) invoke(ctx context.Context, exec stage.Executor, in stage.Input, req Request) (output string, err error) {
	execCtx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout(string(req.Stage)))
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("executor panic",
				logging.String(logging.FieldJobID, req.JobID),
				logging.String(logging.FieldStage, string(req.Stage)),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			output = ""
			err = services.Wrap(services.ErrWorkerLost, string(req.Stage), "execute", fmt.Sprintf("Executor panicked: %v", r), nil)
		}
	}()
	output, err = exec.Execute(execCtx, in)
	if err != nil && ctx.Err() == nil && errors.Is(execCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, services.ErrStageTimeout) {
		err = services.Wrap(services.ErrStageTimeout, string(req.Stage), "execute", "Stage exceeded its timeout", err)
	}
	return output, err
}

// reap redelivers requests whose lease expired without a report.
func (p *Pool) reap(ctx context.Context) {
	defer p.wg.Done()
	interval := time.Duration(p.cfg.Workers.LeaseGraceSeconds) * time.Second
	if interval < time.Second {
		interval = time.Second
	}
	ticker := jitterbug.New(interval, &jitterbug.Norm{Stdev: interval / 10})
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ReapExpired(ctx)
		}
	}
}

// ReapExpired settles every expired lease once.
func (p *Pool) ReapExpired(ctx context.Context) {
	for _, req := range p.queue.Expire() {
		lost := services.Wrap(services.ErrWorkerLost, string(req.Stage), "lease", "Worker did not report before its lease expired", nil)
		logger := p.logger.With(
			logging.String(logging.FieldJobID, req.JobID),
			logging.String(logging.FieldStage, string(req.Stage)),
			logging.Int(logging.FieldAttempt, req.Attempt),
		)
		policy := p.cfg.RetryFor(string(req.Stage))
		if req.Attempt < maxAttempts(policy) {
			delay := Backoff(policy, req.Attempt)
			next := p.queue.Redeliver(req, delay)
			logging.WarnWithContext(logger, "lease expired; redelivering", "lease_expired",
				logging.Int("next_attempt", next.Attempt),
			)
			p.emit(ctx, Event{Kind: EventRetrying, DeliveryID: req.DeliveryID, JobID: req.JobID, Stage: req.Stage, Attempt: req.Attempt, Err: lost, RetryIn: delay})
			continue
		}
		p.queue.Abandon(req)
		logging.ErrorWithContext(logger, "lease expired on final attempt", "lease_exhausted")
		p.emit(ctx, Event{Kind: EventExhausted, DeliveryID: req.DeliveryID, JobID: req.JobID, Stage: req.Stage, Attempt: req.Attempt, Err: lost})
	}
}

func (p *Pool) emit(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	select {
	case p.events <- event:
	case <-ctx.Done():
	}
}

func (p *Pool) observe(name stage.Name, outcome string, elapsed time.Duration) {
	if p.observer != nil {
		p.observer.ObserveAttempt(name, outcome, elapsed)
	}
}
