package reorgmon

import (
	"io"
	"log/slog"
	"time"

	"github.com/goware/calc"
)

// DefaultOptions mirrors ethmonitor.DefaultOptions: a silent logger, a
// no-op alerter, and the chain-agnostic defaults from spec §6.4.
var DefaultOptions = Options{
	Logger:                    slog.New(slog.NewTextHandler(io.Discard, nil)),
	PollInterval:              1500 * time.Millisecond,
	RecheckDepth:              16,
	CacheDepth:                2048,
	ChainMetadataPollInterval: 10 * time.Second,
	HourlyReportInterval:      time.Hour,
	Alerter:                   NoopAlerter(),
	EventWriter:               nil, // defaults to os.Stdout in NewMonitor
}

// Options configures a Monitor. Every field has a spec §6.4 default, and a
// Monitor built from the zero Options{} still runs with those defaults
// layered in by NewMonitor (see applyDefaults).
type Options struct {
	// Logger used for warnings and debug info, same role as
	// ethmonitor.Options.Logger.
	Logger *slog.Logger

	// ChainLabel is a free-form operator label (e.g. "polygon-mainnet")
	// included in MONITOR_START for log correlation. Optional.
	ChainLabel string

	// ChainID, if set, is asserted against the RPC-reported chain id the
	// first time the identity prober runs; a mismatch is a fatal startup
	// error, the same role as ethmonitor.Options.ChainID.
	ChainID *uint64

	// PollInterval is the minimum spacing between tick starts (spec §4.6,
	// §6.4's POLL_INTERVAL_MS).
	PollInterval time.Duration

	// RecheckDepth is the number of most recent heights re-verified every
	// tick (spec §4.6 step 6, §6.4's RECHECK_DEPTH). Clamped to CacheDepth
	// by NewMonitor, per spec §6.4's invariant.
	RecheckDepth int

	// CacheDepth is the maximum number of heights retained in the block
	// cache (spec §3, §6.4's CACHE_DEPTH).
	CacheDepth int

	// ChainMetadataPollInterval spaces out identity probes (spec §4.4,
	// §6.4's CHAIN_METADATA_POLL_MS).
	ChainMetadataPollInterval time.Duration

	// HourlyReportInterval spaces out aggregator emissions (spec §4.7,
	// §6.4's HOURLY_REPORT_INTERVAL_MS). Named for its spec default, not
	// required to be an hour.
	HourlyReportInterval time.Duration

	// Alerter receives CRITICAL-severity events and non-LOW hourly reports
	// (spec §4.3, §4.7). Defaults to
	// NoopAlerter(), same default ethmonitor uses for util.Alerter.
	Alerter Alerter

	// EventWriter receives one JSON record per emitted event (spec §6.3).
	// Defaults to os.Stdout.
	EventWriter io.Writer

	// Now overrides the wall-clock source. Used by tests to drive the
	// identity-probe and hourly-report timers deterministically, per spec
	// §9's "the hourly and metadata timers must consult this clock, never
	// the system clock directly". Defaults to time.Now.
	Now func() time.Time
}

func applyDefaults(opts Options) Options {
	d := DefaultOptions
	if opts.Logger != nil {
		d.Logger = opts.Logger
	}
	d.ChainLabel = opts.ChainLabel
	d.ChainID = opts.ChainID
	if opts.PollInterval > 0 {
		d.PollInterval = opts.PollInterval
	}
	if opts.RecheckDepth > 0 {
		d.RecheckDepth = opts.RecheckDepth
	}
	if opts.CacheDepth > 0 {
		d.CacheDepth = opts.CacheDepth
	}
	if opts.ChainMetadataPollInterval > 0 {
		d.ChainMetadataPollInterval = opts.ChainMetadataPollInterval
	}
	if opts.HourlyReportInterval > 0 {
		d.HourlyReportInterval = opts.HourlyReportInterval
	}
	if opts.Alerter != nil {
		d.Alerter = opts.Alerter
	}
	d.EventWriter = opts.EventWriter
	if opts.Now != nil {
		d.Now = opts.Now
	} else {
		d.Now = time.Now
	}

	// spec §6.4 invariant: RECHECK_DEPTH <= CACHE_DEPTH, clamp rather than
	// reject, the same defensive-clamp idiom as
	// ethmonitor.NewMonitor's BlockRetentionLimit minimum.
	d.RecheckDepth = calc.Min(d.RecheckDepth, d.CacheDepth)

	return d
}
