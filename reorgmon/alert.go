package reorgmon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/traceid"
	"github.com/go-chi/transport"
	memcache "github.com/goware/cachestore-mem"
	cachestore "github.com/goware/cachestore2"
)

// Alerter receives CRITICAL-severity events, HOURLY_REPORT events whose
// assessment is above LOW, and panic reports from the tick loop, the same
// role as ethkit's util.Alerter. Implementations must not block the caller for long; the
// webhook implementation fires its HTTP call from a goroutine.
type Alerter interface {
	Alert(typ EventType, payload map[string]any)
}

// NoopAlerter returns an Alerter that discards everything, the package
// default (spec §4.3 only requires dispatch to exist, not that it go
// anywhere by default).
func NoopAlerter() Alerter {
	return noopAlerter{}
}

type noopAlerter struct{}

func (noopAlerter) Alert(EventType, map[string]any) {}

const dedupTTL = 60 * time.Second

// WebhookAlerter posts the alerts it receives to a webhook URL (e.g. a Slack
// incoming webhook). Its HTTP client is built the way
// ethproviders_test.go's transport.Chain composes a traceid-tagged
// transport, and it suppresses repeat posts of the same alert (same
// dedupKey) within dedupTTL using a cachestore2 Store the way
// ethreceipts.go uses one for its notFoundTxnHashes cache. A failed post is
// dropped silently: nothing is logged and nothing is returned.
type WebhookAlerter struct {
	url    string
	client *http.Client
	dedup  cachestore.Store[time.Time]
}

// NewWebhookAlerter builds a WebhookAlerter posting to url.
func NewWebhookAlerter(url string) (*WebhookAlerter, error) {
	dedup, err := memcache.NewCacheWithSize[time.Time](512)
	if err != nil {
		return nil, fmt.Errorf("reorgmon: failed to create alert dedup cache: %w", err)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: transport.Chain(
			http.DefaultTransport,
			traceid.Transport,
		),
	}

	return &WebhookAlerter{url: url, client: client, dedup: dedup}, nil
}

func (a *WebhookAlerter) Alert(typ EventType, payload map[string]any) {
	ctx := context.Background()
	key := dedupKey(typ, payload)
	now := time.Now()

	if last, exists, _ := a.dedup.Get(ctx, key); exists && now.Sub(last) < dedupTTL {
		return
	}
	_ = a.dedup.Set(ctx, key, now)

	go a.post(ctx, typ, payload)
}

func (a *WebhookAlerter) post(ctx context.Context, typ EventType, payload map[string]any) {
	msg := fmt.Sprintf("[reorgmon] %s: %v", typ, payload)
	body, err := json.Marshal(map[string]string{"content": msg, "text": msg})
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

// dedupDistinguishingFields lists, per event type, the payload field(s) that
// make two events of that type "different alerts" rather than a repeat of
// the same one. BLOCK_RECEIVED/BLOCK_REPLACED key on height,
// PARENT_HASH_MISMATCH on at_height, CHAIN_REWIND on the (from, to) pair it
// rewound across, and CHAIN_ID_CHANGED/GENESIS_CHANGED on the new value they
// diverged to, since those carry no height at all.
var dedupDistinguishingFields = map[EventType][]string{
	EventBlockReceived:      {"height"},
	EventBlockReplaced:      {"height"},
	EventParentHashMismatch: {"at_height"},
	EventChainRewind:        {"from_height", "to_height"},
	EventChainIDChanged:     {"new_chain_id"},
	EventGenesisChanged:     {"new_genesis_hash"},
}

// dedupKey identifies "the same alert" for suppression purposes: the event
// type plus its distinguishing field(s), so that e.g. two PARENT_HASH_MISMATCH
// alerts at different heights within dedupTTL are treated as distinct rather
// than silently collapsed into one webhook post.
func dedupKey(typ EventType, payload map[string]any) string {
	fields, ok := dedupDistinguishingFields[typ]
	if !ok {
		return string(typ)
	}
	key := string(typ)
	for _, f := range fields {
		if v, ok := payload[f]; ok {
			key += fmt.Sprintf(":%v", v)
		}
	}
	return key
}
