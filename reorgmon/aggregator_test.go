package reorgmon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// countingWriter counts how many times Write was called, standing in for a
// real sink when the test only cares whether an event was emitted at all.
type countingWriter struct {
	writes int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.writes++
	return len(p), nil
}

func TestAssessPriorityOrder(t *testing.T) {
	tt := []struct {
		name     string
		snap     snapshot
		expected ThreatLevel
	}{
		{"all zero is low", snapshot{}, ThreatLow},
		{"any rewind is critical regardless of other counters", snapshot{chainRewinds: 1, reorgsDetected: 100, blocksReplaced: 100}, ThreatCritical},
		{"more than five reorgs is high", snapshot{reorgsDetected: 6}, ThreatHigh},
		{"more than ten replaced is high", snapshot{blocksReplaced: 11}, ThreatHigh},
		{"one reorg is medium", snapshot{reorgsDetected: 1}, ThreatMedium},
		{"one replaced is medium", snapshot{blocksReplaced: 1}, ThreatMedium},
		{"five reorgs exactly is still medium", snapshot{reorgsDetected: 5}, ThreatMedium},
		{"ten replaced exactly is still medium", snapshot{blocksReplaced: 10}, ThreatMedium},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.snap.assess())
		})
	}
}

func TestMaybeReportRespectsIntervalAndResets(t *testing.T) {
	stats := newHourlyStats(0)
	stats.incBlocksReplaced()

	buf := &countingWriter{}
	em := newEmitter(buf, discardLogger(), NoopAlerter(), func() time.Time { return epoch })
	agg := newAggregator(stats, 1000, em, NoopAlerter(), nil)

	// Before the interval elapses, no report.
	assert.NoError(t, agg.maybeReport(500))
	assert.Equal(t, 0, buf.writes)

	// At/after the interval, report and reset.
	assert.NoError(t, agg.maybeReport(1000))
	assert.Equal(t, 1, buf.writes)

	snap := stats.snapshot()
	assert.Equal(t, 0, snap.blocksReplaced)
	assert.Equal(t, int64(1000), snap.startTimeMs)
}

func TestMaybeReportDispatchesAlertWhenNotLow(t *testing.T) {
	stats := newHourlyStats(0)
	stats.incChainRewinds()

	alerter := &recordingAlerter{}
	em := newEmitter(&countingWriter{}, discardLogger(), NoopAlerter(), func() time.Time { return epoch })
	agg := newAggregator(stats, 1000, em, alerter, nil)

	assert.NoError(t, agg.maybeReport(1000))
	assert.Equal(t, []EventType{EventHourlyReport}, alerter.calls)
}

func TestMaybeReportDoesNotDispatchWhenLow(t *testing.T) {
	stats := newHourlyStats(0)

	alerter := &recordingAlerter{}
	em := newEmitter(&countingWriter{}, discardLogger(), NoopAlerter(), func() time.Time { return epoch })
	agg := newAggregator(stats, 1000, em, alerter, nil)

	assert.NoError(t, agg.maybeReport(1000))
	assert.Empty(t, alerter.calls)
}
