// Package bootstrap wires one worker process together: the shared-memory
// region, the heartbeat table, the liveness tracker, one scheduler
// goroutine per configured peer, and the status/metrics HTTP servers.
// It mirrors the construct-everything-then-defer-cleanup shape a proxy
// worker's entrypoint uses, factored out of main so it can be exercised
// by tests without a process boundary.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/upcheck/upcheck/internal/config"
	"github.com/upcheck/upcheck/internal/liveness"
	"github.com/upcheck/upcheck/internal/metrics"
	"github.com/upcheck/upcheck/internal/scheduler"
	"github.com/upcheck/upcheck/internal/sharedstate"
	"github.com/upcheck/upcheck/internal/statemachine"
	"github.com/upcheck/upcheck/internal/status"
)

// lifecycle tracks a Worker's own start/stop state. It replaces a
// package-level mutable flag: every Worker instance owns its own, so
// two Workers in the same test binary never share shutdown state.
type lifecycle int

const (
	lifecycleNew lifecycle = iota
	lifecycleRunning
	lifecycleStopped
)

// Worker owns every long-lived resource of one health-checking process:
// the shared-memory region, the heartbeat table, the liveness tracker,
// a scheduler per peer, and the status/metrics HTTP servers.
type Worker struct {
	cfg    *config.Config
	logger *zap.Logger

	region    *sharedstate.Region
	heartbeat *sharedstate.HeartbeatTable
	tracker   *liveness.Tracker
	metrics   *metrics.Metrics

	statusSrv  *http.Server
	metricsSrv *http.Server

	cancel context.CancelFunc

	mu    sync.Mutex
	state lifecycle
}

// New constructs every resource a worker needs but starts nothing: no
// goroutine, no listener, no heartbeat stamping happens until Start is
// called. The first worker to boot against a given ShmPath creates the
// region and heartbeat table; every other worker attaches to them. If
// an existing region's slot count no longer matches the configured
// peer count, this is a reload: New remaps the region at the new size,
// preserving prior per-slot state by index and bumping the generation
// (spec.md §4.8, §9.4).
func New(cfg *config.Config, logger *zap.Logger) (*Worker, error) {
	region, err := attachRegion(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: region: %w", err)
	}

	hb, err := attachHeartbeatTable(cfg)
	if err != nil {
		region.Close()
		return nil, fmt.Errorf("bootstrap: heartbeat table: %w", err)
	}

	tracker := liveness.NewTracker(hb, cfg.WorkerID, cfg.HeartbeatInterval(), cfg.HeartbeatTimeout(), logger)
	region.SetLiveness(tracker.IsAlive)

	m := metrics.NewMetrics("upcheck")

	w := &Worker{
		cfg:       cfg,
		logger:    logger,
		region:    region,
		heartbeat: hb,
		tracker:   tracker,
		metrics:   m,
		state:     lifecycleNew,
	}
	return w, nil
}

// attachRegion opens or creates the shared-memory region at
// cfg.ShmPath. A missing file means this worker is the very first to
// boot: it creates the region fresh at generation 1. An existing file
// whose slot count already matches the configured peer count means
// another worker already initialized (or remapped) the region for this
// configuration: attach to it as-is. An existing file whose slot count
// differs means the peer set changed since the region was created — a
// reload — so the region is rebuilt at the new size, prior per-index
// state is carried over, and the generation is bumped past the old
// region's.
func attachRegion(cfg *config.Config, logger *zap.Logger) (*sharedstate.Region, error) {
	if _, err := os.Stat(cfg.ShmPath); errors.Is(err, os.ErrNotExist) {
		return sharedstate.Create(cfg.ShmPath, len(cfg.Peers), cfg.WorkerID)
	}

	existing, err := sharedstate.Open(cfg.ShmPath, cfg.WorkerID)
	if err != nil {
		return nil, fmt.Errorf("open existing region: %w", err)
	}

	if existing.SlotCount() == len(cfg.Peers) {
		return existing, nil
	}

	logger.Info("peer set changed since last boot, remapping shared region",
		zap.Int("old_slots", existing.SlotCount()),
		zap.Int("new_slots", len(cfg.Peers)),
		zap.Uint64("old_generation", existing.Generation()))

	preserved := make([]sharedstate.Snapshot, existing.SlotCount())
	for i := range preserved {
		preserved[i], _ = existing.Snapshot(i)
	}
	oldGeneration := existing.Generation()
	if err := existing.Close(); err != nil {
		return nil, fmt.Errorf("close stale region before remap: %w", err)
	}

	fresh, err := sharedstate.Create(cfg.ShmPath, len(cfg.Peers), cfg.WorkerID)
	if err != nil {
		return nil, fmt.Errorf("recreate region at new size: %w", err)
	}
	for i, snap := range preserved {
		if i >= fresh.SlotCount() {
			break
		}
		if err := fresh.Seed(i, snap.Down, snap.RiseCount, snap.FallCount, snap.Business, snap.AccessCount); err != nil {
			logger.Error("failed to carry over slot state across remap", zap.Int("index", i), zap.Error(err))
		}
	}
	fresh.SetGeneration(oldGeneration)
	newGeneration := fresh.BumpGeneration()
	logger.Info("shared region remapped", zap.Uint64("new_generation", newGeneration))

	return fresh, nil
}

// attachHeartbeatTable opens or creates the heartbeat table. Unlike the
// region, heartbeat entries are transient liveness signals, not state
// that must survive a reload: a worker-count change simply recreates
// the table, and every live worker re-stamps its slot within one
// heartbeat interval.
func attachHeartbeatTable(cfg *config.Config) (*sharedstate.HeartbeatTable, error) {
	info, err := os.Stat(cfg.HeartbeatPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return sharedstate.CreateHeartbeatTable(cfg.HeartbeatPath, cfg.WorkerCount)
	case err != nil:
		return nil, fmt.Errorf("stat heartbeat table: %w", err)
	case info.Size() != sharedstate.HeartbeatTableSize(cfg.WorkerCount):
		return sharedstate.CreateHeartbeatTable(cfg.HeartbeatPath, cfg.WorkerCount)
	default:
		return sharedstate.OpenHeartbeatTable(cfg.HeartbeatPath, cfg.WorkerCount)
	}
}

// Region exposes the worker's shared-memory handle, mainly for tests.
func (w *Worker) Region() *sharedstate.Region { return w.region }

// Metrics exposes the worker's metrics registry.
func (w *Worker) Metrics() *metrics.Metrics { return w.metrics }

// Start launches the liveness tracker, one scheduler goroutine per
// configured peer, and the status and metrics HTTP servers. Start is a
// no-op if the worker was already started or has already been stopped.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.state != lifecycleNew {
		w.mu.Unlock()
		return
	}
	w.state = lifecycleRunning
	w.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.tracker.Start()

	runner := statemachine.New(w.region, w.metrics, w.logger)
	for _, peer := range w.cfg.Peers {
		sched := scheduler.New(w.region, runner, w.metrics, w.logger, w.cfg.WorkerID)
		go sched.Run(runCtx, peer)
	}

	reporter := status.New(w.region, w.cfg.Peers, w.metrics)
	w.statusSrv = &http.Server{Addr: w.cfg.StatusAddr, Handler: reporter}
	go func() {
		w.logger.Info("status server listening", zap.String("addr", w.cfg.StatusAddr))
		if err := w.statusSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			w.logger.Error("status server failed", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(w.metrics.Registry(), promhttp.HandlerOpts{}))
	w.metricsSrv = &http.Server{Addr: w.cfg.MetricsAddr, Handler: mux}
	go func() {
		w.logger.Info("metrics server listening", zap.String("addr", w.cfg.MetricsAddr))
		if err := w.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			w.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Stop cancels every scheduler goroutine, stops the liveness tracker,
// closes the HTTP servers, and unmaps shared memory. Stop is safe to
// call more than once and is a no-op before Start.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.state != lifecycleRunning {
		w.mu.Unlock()
		return nil
	}
	w.state = lifecycleStopped
	w.mu.Unlock()

	w.cancel()
	w.tracker.Stop()

	if w.statusSrv != nil {
		w.statusSrv.Close()
	}
	if w.metricsSrv != nil {
		w.metricsSrv.Close()
	}

	if err := w.heartbeat.Close(); err != nil {
		w.logger.Error("heartbeat table close failed", zap.Error(err))
	}
	return w.region.Close()
}
