package reorgmon

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// EventType enumerates the fixed event vocabulary of spec §6.3. Different
// source variants of this system named rule 2 either REORG_DETECTED or
// PARENT_HASH_MISMATCH_DETECTED (spec §9); this implementation adopts
// PARENT_HASH_MISMATCH and never emits the others.
type EventType string

const (
	EventMonitorStart       EventType = "MONITOR_START"
	EventMonitorSkipHistory EventType = "MONITOR_SKIP_HISTORY"
	EventBlockReceived      EventType = "BLOCK_RECEIVED"
	EventBlockReplaced      EventType = "BLOCK_REPLACED"
	EventParentHashMismatch EventType = "PARENT_HASH_MISMATCH"
	EventChainRewind        EventType = "CHAIN_REWIND"
	EventChainIDChanged     EventType = "CHAIN_ID_CHANGED"
	EventGenesisChanged     EventType = "GENESIS_CHANGED"
	EventHourlyReport       EventType = "HOURLY_REPORT"
	EventRPCError           EventType = "RPC_ERROR"
)

const severityCritical = "CRITICAL"

// Event is one emitted record: a timestamp, a type, and a flat payload.
// MarshalJSON flattens Payload's keys alongside timestamp/event_type the
// same way ethmonitor/bootstrap.go hand-rolls Block's JSON shape via a
// shadow struct instead of relying on struct-embedding defaults.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Payload   map[string]any
}

func (e Event) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Payload)+2)
	for k, v := range e.Payload {
		flat[k] = v
	}
	flat["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	flat["event_type"] = string(e.Type)
	return json.Marshal(flat)
}

func (e Event) isCritical() bool {
	sev, ok := e.Payload["severity"]
	if !ok {
		return false
	}
	s, ok := sev.(string)
	return ok && s == severityCritical
}

// emitter writes one JSON record per event to its writer (spec §4.2: "the
// record is written to stdout before control returns") and forwards
// CRITICAL-severity events to an Alerter. Hourly-counter bookkeeping is not
// done here: spec §4.7 increments those counters at the exact call sites in
// C5/C6, not by inspecting emitted event types (see aggregator.go). One
// emitter instance is owned exclusively by the tick controller, same
// single-writer rule as the rest of MonitorState (spec §3).
type emitter struct {
	mu    sync.Mutex
	w     io.Writer
	log   *slog.Logger
	alert Alerter
	nowFn func() time.Time
}

func newEmitter(w io.Writer, log *slog.Logger, alert Alerter, nowFn func() time.Time) *emitter {
	return &emitter{w: w, log: log, alert: alert, nowFn: nowFn}
}

// emit writes the event and, if critical, forwards it to the alerter. It
// returns an error only if the record itself could not be written — alert
// dispatch failures never propagate (spec §4.3).
func (em *emitter) emit(typ EventType, payload map[string]any) error {
	ev := Event{Timestamp: em.nowFn(), Type: typ, Payload: payload}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("reorgmon: failed to marshal event %s: %w", typ, err)
	}
	data = append(data, '\n')

	em.mu.Lock()
	_, writeErr := em.w.Write(data)
	em.mu.Unlock()
	if writeErr != nil {
		em.log.Error(fmt.Sprintf("reorgmon: failed to write event %s: %v", typ, writeErr))
		return writeErr
	}

	if ev.isCritical() && em.alert != nil {
		em.alert.Alert(typ, payload)
	}

	return nil
}
