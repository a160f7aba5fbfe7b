package reorgmon

import (
	"fmt"
	"sync"
)

// ThreatLevel is the priority-ordered assessment spec §4.7 assigns to one
// reporting window.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "LOW"
	ThreatMedium   ThreatLevel = "MEDIUM"
	ThreatHigh     ThreatLevel = "HIGH"
	ThreatCritical ThreatLevel = "CRITICAL"
)

// hourlyStats accumulates the counters spec §4.7 assesses once per
// HourlyReportInterval. It is reset to zero (with a fresh start time) every
// time maybeReport emits, so windows never overlap.
type hourlyStats struct {
	mu sync.Mutex

	startTimeMs     int64
	blocksProcessed int
	blocksReplaced  int
	reorgsDetected  int
	chainRewinds    int
	rpcErrors       int
}

func newHourlyStats(nowMs int64) *hourlyStats {
	return &hourlyStats{startTimeMs: nowMs}
}

// The counters below are incremented at the exact call sites spec §4.7
// names, not inferred from emitted event types: blocks_processed on every
// successful processBlock call (including no-op rechecks), blocks_replaced
// on rule 1, reorgs_detected on rule 2, chain_rewinds on tick phase 4.
// rpc_errors is a supplementary counter for every RPC_ERROR emission.

func (s *hourlyStats) incBlocksProcessed() {
	s.mu.Lock()
	s.blocksProcessed++
	s.mu.Unlock()
}

func (s *hourlyStats) incBlocksReplaced() {
	s.mu.Lock()
	s.blocksReplaced++
	s.mu.Unlock()
}

func (s *hourlyStats) incReorgsDetected() {
	s.mu.Lock()
	s.reorgsDetected++
	s.mu.Unlock()
}

func (s *hourlyStats) incChainRewinds() {
	s.mu.Lock()
	s.chainRewinds++
	s.mu.Unlock()
}

func (s *hourlyStats) incRPCErrors() {
	s.mu.Lock()
	s.rpcErrors++
	s.mu.Unlock()
}

// snapshot is an immutable copy of the counters at one instant, safe to hand
// to the emitter and to Prometheus without holding hourlyStats' lock.
type snapshot struct {
	startTimeMs     int64
	blocksProcessed int
	blocksReplaced  int
	reorgsDetected  int
	chainRewinds    int
	rpcErrors       int
}

func (s *hourlyStats) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot{
		startTimeMs:     s.startTimeMs,
		blocksProcessed: s.blocksProcessed,
		blocksReplaced:  s.blocksReplaced,
		reorgsDetected:  s.reorgsDetected,
		chainRewinds:    s.chainRewinds,
		rpcErrors:       s.rpcErrors,
	}
}

// reset zeroes the counters and starts a new window at nowMs.
func (s *hourlyStats) reset(nowMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTimeMs = nowMs
	s.blocksProcessed = 0
	s.blocksReplaced = 0
	s.reorgsDetected = 0
	s.chainRewinds = 0
	s.rpcErrors = 0
}

// assess applies spec §4.7's priority-ordered table: the first matching rule
// wins, checked in this exact order.
func (snap snapshot) assess() ThreatLevel {
	switch {
	case snap.chainRewinds > 0:
		return ThreatCritical
	case snap.reorgsDetected > 5 || snap.blocksReplaced > 10:
		return ThreatHigh
	case snap.reorgsDetected > 0 || snap.blocksReplaced > 0:
		return ThreatMedium
	default:
		return ThreatLow
	}
}

// threatDetails explains which counters drove the assessed level, in the
// same priority order assess() checks them. Spec §6.3's HOURLY_REPORT
// documents a `threat_details[]` field but not its exact contents, so this
// renders every contributing threshold breach as a short human-readable
// string rather than just the single winning rule.
func (snap snapshot) threatDetails() []string {
	var details []string
	if snap.chainRewinds > 0 {
		details = append(details, fmt.Sprintf("chain_rewinds=%d (any rewind is CRITICAL)", snap.chainRewinds))
	}
	if snap.reorgsDetected > 5 {
		details = append(details, fmt.Sprintf("reorgs_detected=%d exceeds 5 (HIGH)", snap.reorgsDetected))
	}
	if snap.blocksReplaced > 10 {
		details = append(details, fmt.Sprintf("blocks_replaced=%d exceeds 10 (HIGH)", snap.blocksReplaced))
	}
	if snap.reorgsDetected > 0 && snap.reorgsDetected <= 5 {
		details = append(details, fmt.Sprintf("reorgs_detected=%d (MEDIUM)", snap.reorgsDetected))
	}
	if snap.blocksReplaced > 0 && snap.blocksReplaced <= 10 {
		details = append(details, fmt.Sprintf("blocks_replaced=%d (MEDIUM)", snap.blocksReplaced))
	}
	return details
}

// aggregator owns the hourly reporting cadence: it decides, once per tick,
// whether HourlyReportInterval has elapsed since the window started, and if
// so emits HOURLY_REPORT and starts a fresh window.
type aggregator struct {
	stats      *hourlyStats
	intervalMs int64
	em         *emitter
	alert      Alerter
	metrics    *metricsRecorder
}

func newAggregator(stats *hourlyStats, interval int64, em *emitter, alert Alerter, metrics *metricsRecorder) *aggregator {
	return &aggregator{stats: stats, intervalMs: interval, em: em, alert: alert, metrics: metrics}
}

// maybeReport emits HOURLY_REPORT and resets the window if nowMs has crossed
// the window boundary. Dispatch to the alerter follows spec §4.7's own rule
// ("if assessment != LOW"), which is broader than the emitter's usual
// severity == CRITICAL forwarding rule, so maybeReport calls the alerter
// directly rather than relying on the emitter's payload inspection.
func (a *aggregator) maybeReport(nowMs int64) error {
	snap := a.stats.snapshot()
	if nowMs-snap.startTimeMs < a.intervalMs {
		return nil
	}

	level := snap.assess()

	payload := map[string]any{
		"duration_minutes": float64(nowMs-snap.startTimeMs) / 60000.0,
		"stats": map[string]any{
			"blocks_processed": snap.blocksProcessed,
			"blocks_replaced":  snap.blocksReplaced,
			"reorgs_detected":  snap.reorgsDetected,
			"chain_rewinds":    snap.chainRewinds,
			"rpc_errors":       snap.rpcErrors,
		},
		"threat_assessment": string(level),
		"threat_details":    snap.threatDetails(),
	}

	if a.metrics != nil {
		a.metrics.observeHourlyReport(snap, level)
	}

	a.stats.reset(nowMs)

	err := a.em.emit(EventHourlyReport, payload)

	if level != ThreatLow && a.alert != nil {
		a.alert.Alert(EventHourlyReport, payload)
	}

	return err
}
