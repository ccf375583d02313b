package metrics

import "sync"

// Counter names. Grouped by the subsystem that increments them.
const (
	Logins          = "logins"
	LoginRejected   = "login_rejected"
	Disconnects     = "disconnects"
	Broadcasts      = "broadcasts"
	UnicastsSent    = "unicasts_sent"
	UnicastDropped  = "unicast_dropped" // unresolved target at delivery time
	SendFailed      = "send_failed"     // transport write failure or full queue
	UnknownSender   = "unknown_sender"  // event from a connection with no session
	MalformedEvents = "malformed_events"

	CallsOffered  = "calls_offered"
	CallsAnswered = "calls_answered"
	CallsEnded    = "calls_ended"
	BusyRejected  = "busy_rejected"

	GroupCallJoins  = "group_call_joins"
	GroupCallLeaves = "group_call_leaves"

	RateLimited = "rate_limited"

	PreviewFetches = "preview_fetches"
	PreviewErrors  = "preview_errors"

	MediaTransportsCreated = "media_transports_created"
	MediaTransportsClosed  = "media_transports_closed"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// It keeps relay logic testable without a metrics backend; the counters are
// scraped through the Prometheus text handler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
