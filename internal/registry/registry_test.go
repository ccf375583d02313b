package registry

import (
	"errors"
	"testing"
)

type nopConn struct{ id int }

func (c *nopConn) Send(payload []byte) {}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := New(0)
	c := &nopConn{}

	sess, err := r.Register(c, "alice")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if sess.ID == "" {
		t.Fatalf("expected a generated session id")
	}
	if sess.Status != StatusOnline {
		t.Fatalf("new session status = %q, want %q", sess.Status, StatusOnline)
	}

	if got := r.ByID(sess.ID); got != sess {
		t.Fatalf("ByID returned %v, want %v", got, sess)
	}
	if got := r.ByConn(c); got != sess {
		t.Fatalf("ByConn returned %v, want %v", got, sess)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}

func TestRegistry_MaxSessions(t *testing.T) {
	r := New(2)

	if _, err := r.Register(&nopConn{id: 1}, "a"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Register(&nopConn{id: 2}, "b"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Register(&nopConn{id: 3}, "c"); !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("Register err = %v, want ErrTooManySessions", err)
	}

	// Removing one frees a slot.
	snap := r.Snapshot()
	if removed := r.Remove(snap[0].ID); removed == nil {
		t.Fatalf("Remove returned nil for live session")
	}
	if _, err := r.Register(&nopConn{id: 4}, "d"); err != nil {
		t.Fatalf("Register after Remove: %v", err)
	}
}

func TestRegistry_RemoveUnknown(t *testing.T) {
	r := New(0)
	if removed := r.Remove("nope"); removed != nil {
		t.Fatalf("Remove of unknown id returned %v", removed)
	}
}

func TestRegistry_SnapshotInsertionOrder(t *testing.T) {
	r := New(0)
	names := []string{"alice", "bob", "carol"}
	ids := make([]string, 0, len(names))
	for i, name := range names {
		sess, err := r.Register(&nopConn{id: i}, name)
		if err != nil {
			t.Fatalf("Register(%q): %v", name, err)
		}
		ids = append(ids, sess.ID)
	}

	snap := r.Snapshot()
	if len(snap) != len(names) {
		t.Fatalf("Snapshot len = %d, want %d", len(snap), len(names))
	}
	for i, info := range snap {
		if info.Name != names[i] || info.ID != ids[i] {
			t.Fatalf("Snapshot[%d] = %+v, want name %q id %q", i, info, names[i], ids[i])
		}
	}

	// Removing the middle session keeps the relative order of the rest.
	r.Remove(ids[1])
	snap = r.Snapshot()
	if len(snap) != 2 || snap[0].Name != "alice" || snap[1].Name != "carol" {
		t.Fatalf("Snapshot after remove = %+v", snap)
	}
}

func TestRegistry_DuplicateNamesAllowed(t *testing.T) {
	r := New(0)
	a, err := r.Register(&nopConn{id: 1}, "sam")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	b, err := r.Register(&nopConn{id: 2}, "sam")
	if err != nil {
		t.Fatalf("Register duplicate name: %v", err)
	}
	if a.ID == b.ID {
		t.Fatalf("expected distinct ids for duplicate names")
	}
}

func TestGroupCall_JoinLeave(t *testing.T) {
	g := NewGroupCall()

	if !g.Join("a") {
		t.Fatalf("first Join should report a change")
	}
	if g.Join("a") {
		t.Fatalf("repeat Join should be a no-op")
	}
	if !g.Contains("a") {
		t.Fatalf("expected member after Join")
	}

	g.Join("b")
	g.Join("c")
	if got := g.Members(); len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("Members = %v, want join order [a b c]", got)
	}

	if !g.Leave("b") {
		t.Fatalf("Leave of member should report a change")
	}
	if g.Leave("b") {
		t.Fatalf("repeat Leave should be a no-op")
	}
	if got := g.Members(); len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("Members after leave = %v", got)
	}
	if g.Len() != 2 {
		t.Fatalf("Len = %d, want 2", g.Len())
	}
}
