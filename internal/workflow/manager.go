package workflow

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"

	"medscribe/internal/config"
	"medscribe/internal/jobs"
	"medscribe/internal/logging"
	"medscribe/internal/progress"
	"medscribe/internal/stage"
	"medscribe/internal/taskqueue"
)

// Progress milestones persisted with each transition.
const (
	progressTranscribing       = 5
	progressTranscribedDiarize = 40
	progressTranscribedDirect  = 50
	progressDiarized           = 70
	progressSucceeded          = 100
	defaultApplierShards       = 4
	applierShardBuffer         = 64
	failureMessageLimit        = 500
)

// Publisher receives persisted job transitions.
type Publisher interface {
	Publish(ev progress.Event)
}

// Observer receives every persisted transition. Implementations must not block.
type Observer interface {
	ObserveTransition(job *jobs.Job)
}

type availability interface {
	Available() bool
}

// Manager coordinates job state across the worker pool.
type Manager struct {
	cfg       *config.Config
	store     *jobs.Store
	queue     *taskqueue.Queue
	pool      *taskqueue.Pool
	publisher Publisher
	observer  Observer
	logger    *slog.Logger
	executors []stage.Executor
	poolOpts  []taskqueue.PoolOption
	shards    int

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithObserver attaches a transition observer (metrics).
func WithObserver(observer Observer) ManagerOption {
	return func(m *Manager) {
		m.observer = observer
	}
}

// WithPoolOptions forwards options to the worker pool.
func WithPoolOptions(opts ...taskqueue.PoolOption) ManagerOption {
	return func(m *Manager) {
		m.poolOpts = append(m.poolOpts, opts...)
	}
}

// NewManager constructs the controller and its worker pool.
func NewManager(cfg *config.Config, store *jobs.Store, queue *taskqueue.Queue, executors []stage.Executor, publisher Publisher, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	shards := cfg.Workers.Count
	if shards < defaultApplierShards {
		shards = defaultApplierShards
	}
	m := &Manager{
		cfg:       cfg,
		store:     store,
		queue:     queue,
		publisher: publisher,
		logger:    logging.NewComponentLogger(logger, "workflow"),
		executors: executors,
		shards:    shards,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.pool = taskqueue.NewPool(cfg, queue, executors, m.Resolve, logger, m.poolOpts...)
	return m
}

// Pool returns the worker pool.
func (m *Manager) Pool() *taskqueue.Pool {
	return m.pool
}

// Start launches the worker pool and the event appliers.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	if err := m.pool.Start(runCtx); err != nil {
		cancel()
		return err
	}
	m.cancel = cancel
	m.running = true

	lanes := make([]chan taskqueue.Event, m.shards)
	m.wg.Add(len(lanes) + 1)
	for i := range lanes {
		lanes[i] = make(chan taskqueue.Event, applierShardBuffer)
		go m.runApplier(runCtx, lanes[i])
	}
	go m.route(runCtx, lanes)
	return nil
}

// Stop halts the pool and the appliers and waits for them.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.pool.Stop()
	m.wg.Wait()
}

// route fans pool events out to appliers by job id.
func (m *Manager) route(ctx context.Context, lanes []chan taskqueue.Event) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.pool.Events():
			lane := lanes[shardFor(ev.JobID, len(lanes))]
			select {
			case lane <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *Manager) runApplier(ctx context.Context, events <-chan taskqueue.Event) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			err := m.Apply(ctx, ev)
			if err != nil && !errors.Is(err, jobs.ErrNoChange) && !errors.Is(err, context.Canceled) {
				m.setLastError(err)
			}
		}
	}
}

func shardFor(jobID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(jobID))
	return int(h.Sum32() % uint32(n))
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) executor(name stage.Name) (stage.Executor, bool) {
	for _, exec := range m.executors {
		if exec != nil && exec.Name() == name {
			return exec, true
		}
	}
	return nil, false
}

// diarizationAvailable reports whether the diarization stage can run.
func (m *Manager) diarizationAvailable() bool {
	exec, ok := m.executor(stage.Diarization)
	if !ok {
		return false
	}
	if avail, ok := exec.(availability); ok {
		return avail.Available()
	}
	return true
}

// persisted publishes a committed transition.
func (m *Manager) persisted(job *jobs.Job) {
	if m.publisher != nil {
		m.publisher.Publish(progress.FromJob(job, false))
	}
	if m.observer != nil {
		m.observer.ObserveTransition(job)
	}
}
