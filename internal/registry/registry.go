// Package registry is the authoritative store of live chat sessions.
//
// The registry is not safe for concurrent use on its own: the hub serializes
// every mutation (and the broadcast that follows it) behind a single lock, so
// a broadcast always observes a registry state consistent with the mutation
// that triggered it.
package registry

import (
	"errors"

	"github.com/google/uuid"
)

var ErrTooManySessions = errors.New("too many sessions")

// Status is a session's call availability.
type Status string

const (
	StatusOnline Status = "online"
	StatusBusy   Status = "busy"
)

// Conn is the transport endpoint a session is bound to. The registry holds a
// non-owning reference used only as a lookup key and send address.
//
// Send must never block: implementations queue or drop.
type Conn interface {
	Send(payload []byte)
}

// Session binds a live connection to a user identity and call status.
type Session struct {
	ID     string
	Name   string
	Status Status

	// PeerID is the session id of the 1:1 call peer while Status is StatusBusy.
	// Empty otherwise. It lets disconnect cleanup act as an implicit end_call
	// toward the remote party.
	PeerID string

	Conn Conn
}

// Info is a read-only projection of a Session used for user list snapshots.
type Info struct {
	ID     string
	Name   string
	Status Status
}

// Registry maps session ids to Sessions with a secondary index by connection.
// Both indexes always agree; every connection has at most one session.
type Registry struct {
	maxSessions int

	sessions map[string]*Session
	byConn   map[Conn]*Session

	// order preserves insertion sequence so snapshots are deterministic
	// within a single broadcast.
	order []string
}

// New constructs an empty registry. maxSessions caps concurrent sessions;
// 0 means unlimited.
func New(maxSessions int) *Registry {
	return &Registry{
		maxSessions: maxSessions,
		sessions:    make(map[string]*Session),
		byConn:      make(map[Conn]*Session),
	}
}

// Register creates a session with a fresh unique id and StatusOnline.
//
// The id is a random UUID, so collision with a live id is negligible over the
// process lifetime.
func (r *Registry) Register(c Conn, name string) (*Session, error) {
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return nil, ErrTooManySessions
	}

	s := &Session{
		ID:     uuid.NewString(),
		Name:   name,
		Status: StatusOnline,
		Conn:   c,
	}
	r.sessions[s.ID] = s
	r.byConn[c] = s
	r.order = append(r.order, s.ID)
	return s, nil
}

// ByID returns the session with the given id, or nil.
func (r *Registry) ByID(id string) *Session {
	return r.sessions[id]
}

// ByConn returns the session bound to the given connection, or nil. Used on
// disconnect, where only the connection is known.
func (r *Registry) ByConn(c Conn) *Session {
	return r.byConn[c]
}

// Remove deletes the session and returns it, or nil if absent. Cascading
// cleanup (group-call membership, call teardown) is the caller's job.
func (r *Registry) Remove(id string) *Session {
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	delete(r.byConn, s.Conn)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return s
}

func (r *Registry) Len() int {
	return len(r.sessions)
}

// Snapshot returns all sessions in insertion order.
func (r *Registry) Snapshot() []Info {
	out := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		s := r.sessions[id]
		out = append(out, Info{ID: s.ID, Name: s.Name, Status: s.Status})
	}
	return out
}

// Each calls fn for every session in insertion order.
func (r *Registry) Each(fn func(*Session)) {
	for _, id := range r.order {
		fn(r.sessions[id])
	}
}
