package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"medscribe/internal/api"
	"medscribe/internal/artifacts"
	"medscribe/internal/config"
	"medscribe/internal/jobs"
	"medscribe/internal/logging"
	"medscribe/internal/metrics"
	"medscribe/internal/preflight"
	"medscribe/internal/progress"
	"medscribe/internal/submission"
	"medscribe/internal/workflow"
)

// Dependencies are the components the daemon coordinates.
type Dependencies struct {
	Config      *config.Config
	Logger      *slog.Logger
	Store       *jobs.Store
	Artifacts   artifacts.Store
	Workflow    *workflow.Manager
	Broadcaster *progress.Broadcaster
	Submission  *submission.Service
	Metrics     *metrics.Metrics
}

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *jobs.Store
	artifacts   artifacts.Store
	workflow    *workflow.Manager
	broadcaster *progress.Broadcaster
	submission  *submission.Service
	metrics     *metrics.Metrics
	server      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a daemon with initialized dependencies.
func New(deps Dependencies) (*Daemon, error) {
	if deps.Config == nil || deps.Store == nil || deps.Artifacts == nil || deps.Workflow == nil ||
		deps.Broadcaster == nil || deps.Submission == nil {
		return nil, errors.New("daemon requires config, store, artifacts, workflow, broadcaster and submission")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	lockPath := filepath.Join(deps.Config.Paths.DataDir, "medscribed.lock")
	d := &Daemon{
		cfg:         deps.Config,
		logger:      logging.NewComponentLogger(logger, "daemon"),
		store:       deps.Store,
		artifacts:   deps.Artifacts,
		workflow:    deps.Workflow,
		broadcaster: deps.Broadcaster,
		submission:  deps.Submission,
		metrics:     deps.Metrics,
		lockPath:    lockPath,
		lock:        flock.New(lockPath),
	}
	d.server = newAPIServer(d, logger)
	return d, nil
}

// Start acquires the lock, starts the controller, recovers active jobs and
// opens the API listener.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another medscribe daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if _, err := d.workflow.Recover(runCtx); err != nil {
		logging.WarnWithContext(d.logger, "job recovery incomplete", "recover_failed", logging.Error(err))
	}
	if err := d.server.start(runCtx); err != nil {
		cancel()
		d.workflow.Stop()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.wg.Add(1)
	go d.runSweeper(runCtx)

	d.running.Store(true)
	d.logger.Info("medscribe daemon started",
		logging.String("lock", d.lockPath),
		logging.String("store", d.store.Target()),
		logging.String("artifacts", d.artifacts.Describe()),
	)
	return nil
}

// Stop halts background processing and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.server.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.workflow.Stop()
	d.broadcaster.Shutdown()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("medscribe daemon stopped")
}

// Close stops the daemon and closes the job store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Running reports whether Start succeeded and Stop has not run.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Addr returns the bound API address, empty before Start.
func (d *Daemon) Addr() string {
	return d.server.addr()
}

// Handler exposes the API router.
func (d *Daemon) Handler() http.Handler {
	return d.server.router
}

// Health aggregates store, artifact, executor and filesystem readiness.
func (d *Daemon) Health(ctx context.Context) (api.Health, bool) {
	health := api.Health{
		Running:      d.running.Load(),
		Store:        api.Check{Name: "job store", Ready: true, Detail: d.store.Target()},
		Artifacts:    api.Check{Name: "artifacts", Ready: true, Detail: d.artifacts.Describe()},
		Checks:       preflight.RunAll(ctx, d.cfg),
		Dependencies: preflight.CheckSystemDeps(d.cfg),
	}
	ready := true
	if err := d.store.Ping(ctx); err != nil {
		health.Store.Ready = false
		health.Store.Detail = err.Error()
		ready = false
	}
	if err := d.artifacts.Check(ctx); err != nil {
		health.Artifacts.Ready = false
		health.Artifacts.Detail = err.Error()
		ready = false
	}
	summary, err := d.workflow.Status(ctx)
	if err != nil {
		health.LastError = err.Error()
		ready = false
	}
	health.Stages = summary.StageHealth
	if summary.LastError != "" {
		health.LastError = summary.LastError
	}
	health.Queue = api.QueueFromStatus(summary, d.broadcaster.Total())
	if !summary.Ready() || !preflight.Passed(health.Checks) {
		ready = false
	}
	health.Status = api.HealthOK
	if !ready {
		health.Status = api.HealthDegraded
	}
	return health, ready
}
