package reorgmon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/goware/superr"
	"github.com/prometheus/client_golang/prometheus"
)

// Monitor is the tick controller (C6) plus the MonitorState it owns. One
// Monitor watches one chain, the same one-instance-per-chain model as
// ethmonitor.Monitor.
type Monitor struct {
	options Options
	log     *slog.Logger
	rpc     RPCClient
	runID   string

	running int32
	ctx     context.Context
	ctxStop context.CancelFunc

	cache      *blockCache
	ident      *chainIdentity
	prober     *identityProber
	processor  *blockProcessor
	em         *emitter
	stats      *hourlyStats
	aggregator *aggregator
	metrics    *metricsRecorder
	registry   *prometheus.Registry

	mu                  sync.Mutex
	maxObservedHeight   uint64
	lastProcessedHeight int64 // -1 before the first tick
}

// NewMonitor constructs a Monitor. rpc must not be nil: configuration
// errors are fatal at construction, the same fail-fast posture
// ethmonitor.NewMonitor takes for a nil Logger.
func NewMonitor(rpc RPCClient, opts Options) (*Monitor, error) {
	if rpc == nil {
		return nil, ErrNoRPCClient
	}
	opts = applyDefaults(opts)

	writer := opts.EventWriter
	if writer == nil {
		writer = os.Stdout
	}

	registry := prometheus.NewRegistry()
	metrics := newMetricsRecorder(registry, opts.ChainLabel)

	nowMs := func() int64 { return opts.Now().UnixMilli() }

	stats := newHourlyStats(nowMs())
	em := newEmitter(writer, opts.Logger, opts.Alerter, opts.Now)
	cache := newBlockCache()

	m := &Monitor{
		options:             opts,
		log:                 opts.Logger,
		rpc:                 rpc,
		runID:               uuid.NewString(),
		cache:               cache,
		ident:               &chainIdentity{},
		prober:              newIdentityProber(rpc, opts.ChainMetadataPollInterval.Milliseconds(), em, opts.ChainID),
		processor:           newBlockProcessor(rpc, cache, em, stats),
		em:                  em,
		stats:               stats,
		aggregator:          newAggregator(stats, opts.HourlyReportInterval.Milliseconds(), em, opts.Alerter, metrics),
		metrics:             metrics,
		registry:            registry,
		lastProcessedHeight: -1,
	}

	return m, nil
}

// Registry exposes the Monitor's private Prometheus registry so callers can
// serve it (e.g. behind promhttp.HandlerFor) without colliding with any
// other registry in the same process.
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// Run starts the tick loop and blocks until ctx is canceled, Stop is
// called, or a fatal error occurs. Ticks do not overlap: POLL_INTERVAL_MS
// bounds the minimum spacing between tick starts, and if a tick overruns
// it, the next tick begins immediately after completion (spec §4.6).
func (m *Monitor) Run(ctx context.Context) error {
	if m.IsRunning() {
		return ErrAlreadyRunning
	}

	m.ctx, m.ctxStop = context.WithCancel(ctx)
	atomic.StoreInt32(&m.running, 1)
	defer atomic.StoreInt32(&m.running, 0)

	if err := m.em.emit(EventMonitorStart, map[string]any{
		"message": fmt.Sprintf("reorgmon: starting run %s", m.runID),
		"run_id":  m.runID,
		"chain":   m.options.ChainLabel,
		"rpc":     fmt.Sprintf("%T", m.rpc),
	}); err != nil {
		return fmt.Errorf("reorgmon: failed to emit MONITOR_START: %w", err)
	}

	ticker := time.NewTicker(m.options.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.runTick(m.ctx); err != nil {
				if errors.Is(err, ErrFatal) {
					m.log.Error(fmt.Sprintf("reorgmon: fatal error, stopping: %v", err))
					return err
				}
				m.log.Warn(fmt.Sprintf("reorgmon: tick error: %v", err))
			}
		}
	}
}

// runTick wraps one tick() call with the panic-recovery pattern
// listenNewHead uses around its reconnect loop, and records tick duration.
func (m *Monitor) runTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error(fmt.Sprintf("reorgmon: panic in tick: %v - stack: %s", r, string(debug.Stack())))
			m.options.Alerter.Alert(EventRPCError, map[string]any{"panic": fmt.Sprint(r)})
			m.metrics.observeTickError("fatal")
			err = superr.New(ErrFatal, fmt.Errorf("panic in tick: %v", r))
		}
	}()

	start := time.Now()
	err = m.tick(ctx)
	m.metrics.observeTick(time.Since(start))
	return err
}

// Stop cancels the running tick loop. Safe to call even if Run was never
// called or has already returned.
func (m *Monitor) Stop() {
	if m.ctxStop != nil {
		m.ctxStop()
	}
}

func (m *Monitor) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

// Options returns the effective (defaulted) options this Monitor was built
// with.
func (m *Monitor) Options() Options {
	return m.options
}

func (m *Monitor) nowMs() int64 {
	return m.options.Now().UnixMilli()
}

// tick runs the seven ordered phases of spec §4.6, under the top-level
// error guard: any error whose message contains "Block not found" is
// swallowed silently, anything else emits RPC_ERROR and ends the tick.
// max_observed_height is updated after every successful process() call
// (spec §4.5 step 4 belongs to the block processor, not the tick
// controller, but the watermark itself lives in MonitorState per spec §3,
// so tick folds it in right after each call returns).
func (m *Monitor) tick(ctx context.Context) error {
	now := m.nowMs()

	// Phase 1: identity probe.
	if err := m.prober.maybeProbe(ctx, m.ident, now); err != nil {
		return m.guardTickError(err)
	}

	// Phase 2: tip fetch.
	tip, err := m.rpc.GetBlockLatest(ctx)
	if err != nil {
		return m.guardTickError(err)
	}
	latest := tip.Number

	m.mu.Lock()
	lastProcessed := m.lastProcessedHeight
	maxObserved := m.maxObservedHeight
	m.mu.Unlock()

	// Phase 3: cold start.
	if lastProcessed == -1 && latest > 0 {
		if err := m.em.emit(EventMonitorSkipHistory, map[string]any{
			"message":           fmt.Sprintf("reorgmon: skipping history, starting at height %d", latest),
			"skipped_to_height": latest,
		}); err != nil {
			return err
		}
		lastProcessed = int64(latest) - 1
	}

	// Phase 4: rewind check. The cache is left untouched, so entries above
	// the new tip stay cached and re-processing a rewound height compares
	// against them.
	if latest < maxObserved {
		m.stats.incChainRewinds()
		if err := m.em.emit(EventChainRewind, map[string]any{
			"from_height": maxObserved,
			"to_height":   latest,
			"severity":    severityCritical,
		}); err != nil {
			return err
		}
		maxObserved = latest
		lastProcessed = int64(latest)
	}

	// Phase 5: forward sync. Stop advancing at the first failure so gaps
	// are never introduced silently.
	for h := uint64(lastProcessed + 1); h <= latest; h++ {
		if err := m.processor.process(ctx, h); err != nil {
			if isBlockNotFound(err) {
				m.persist(lastProcessed, maxObserved)
				return nil
			}
			m.stats.incRPCErrors()
			m.metrics.observeTickError("rpc_error")
			emitErr := m.em.emit(EventRPCError, map[string]any{
				"message": fmt.Sprintf("Failed to process block %d", h),
				"error":   err.Error(),
			})
			m.persist(lastProcessed, maxObserved)
			return emitErr
		}
		lastProcessed = int64(h)
		if h > maxObserved {
			maxObserved = h
		}
	}

	// Phase 6: deep recheck. Errors here are individually reported and do
	// not abort the remaining heights.
	recheckFloor := uint64(0)
	if latest+1 > uint64(m.options.RecheckDepth) {
		recheckFloor = latest + 1 - uint64(m.options.RecheckDepth)
	}
	for h := recheckFloor; int64(h) <= lastProcessed; h++ {
		if err := m.processor.process(ctx, h); err != nil {
			if isBlockNotFound(err) {
				continue
			}
			m.stats.incRPCErrors()
			m.metrics.observeTickError("rpc_error")
			if emitErr := m.em.emit(EventRPCError, map[string]any{
				"message": fmt.Sprintf("Failed to process block %d", h),
				"error":   err.Error(),
			}); emitErr != nil {
				m.persist(lastProcessed, maxObserved)
				return emitErr
			}
			continue
		}
		if h > maxObserved {
			maxObserved = h
		}
	}

	// Phase 7: prune.
	pruneFloor := uint64(0)
	if latest+1 > uint64(m.options.CacheDepth) {
		pruneFloor = latest + 1 - uint64(m.options.CacheDepth)
	}
	m.cache.prune(pruneFloor)

	m.persist(lastProcessed, maxObserved)
	m.metrics.observeGauges(m.cache.size(), maxObserved)

	return m.aggregator.maybeReport(now)
}

// persist writes the tick's updated watermarks back into MonitorState
// under m.mu.
func (m *Monitor) persist(lastProcessed int64, maxObserved uint64) {
	m.mu.Lock()
	m.lastProcessedHeight = lastProcessed
	m.maxObservedHeight = maxObserved
	m.mu.Unlock()
}

// guardTickError implements the tick-level error guard: "Block not found"
// substrings are swallowed, everything else becomes an emitted RPC_ERROR. A
// fatal error (e.g. the chain-id assertion in the identity prober) bypasses
// the RPC_ERROR path entirely and propagates as-is, so Run can recognize it
// via errors.Is(err, ErrFatal) and stop the loop.
func (m *Monitor) guardTickError(err error) error {
	if errors.Is(err, ErrFatal) {
		return err
	}
	if isBlockNotFound(err) {
		return nil
	}
	m.stats.incRPCErrors()
	m.metrics.observeTickError("rpc_error")
	return m.em.emit(EventRPCError, map[string]any{
		"error": err.Error(),
	})
}

func isBlockNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), ErrBlockNotFoundSubstring)
}
