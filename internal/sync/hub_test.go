package sync

import (
	"encoding/json"
	"errors"
	"testing"

	"notesync/api/internal/notes"
)

// fakeConn records everything the hub sends it.
type fakeConn struct {
	msgs    [][]byte
	sendErr error
	closed  bool
}

func (c *fakeConn) Send(msg []byte) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) Close() { c.closed = true }

func decodeEnvelope(t *testing.T, msg []byte) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env
}

func TestRegisterSendsCatchUpSnapshot(t *testing.T) {
	h := NewHub()
	c := &fakeConn{}

	set := notes.NoteSet{{ID: "note-1", Title: "First"}}
	if err := h.Register("user-1", c, set); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if len(c.msgs) != 1 {
		t.Fatalf("expected 1 catch-up message, got %d", len(c.msgs))
	}
	env := decodeEnvelope(t, c.msgs[0])
	if env.Type != "notes" {
		t.Errorf("expected type notes, got %s", env.Type)
	}
	if len(env.Notes) != 1 || env.Notes[0].ID != "note-1" {
		t.Errorf("unexpected snapshot: %+v", env.Notes)
	}
}

func TestRegisterNilSnapshotSendsEmptyList(t *testing.T) {
	h := NewHub()
	c := &fakeConn{}

	if err := h.Register("user-1", c, nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	env := decodeEnvelope(t, c.msgs[0])
	if env.Notes == nil || len(env.Notes) != 0 {
		t.Errorf("expected empty notes list, got %+v", env.Notes)
	}
}

func TestPublishReachesAllDevicesOfUser(t *testing.T) {
	h := NewHub()
	a := &fakeConn{}
	b := &fakeConn{}
	other := &fakeConn{}

	h.Register("user-1", a, nil)
	h.Register("user-1", b, nil)
	h.Register("user-2", other, nil)

	h.Publish("user-1", notes.NoteSet{{ID: "note-1"}})

	if len(a.msgs) != 2 || len(b.msgs) != 2 {
		t.Errorf("expected both devices to get the broadcast, got %d and %d", len(a.msgs), len(b.msgs))
	}
	if len(other.msgs) != 1 {
		t.Errorf("expected other user's device untouched, got %d messages", len(other.msgs))
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	h := NewHub()
	c := &fakeConn{}
	h.Register("user-1", c, nil)

	h.Publish("user-1", notes.NoteSet{{ID: "a"}})
	h.Publish("user-1", notes.NoteSet{{ID: "a"}, {ID: "b"}})

	if len(c.msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(c.msgs))
	}
	first := decodeEnvelope(t, c.msgs[1])
	second := decodeEnvelope(t, c.msgs[2])
	if len(first.Notes) != 1 || len(second.Notes) != 2 {
		t.Errorf("snapshots delivered out of order: %d then %d notes", len(first.Notes), len(second.Notes))
	}
}

func TestPublishDropsFailingConn(t *testing.T) {
	h := NewHub()
	healthy := &fakeConn{}
	dead := &fakeConn{sendErr: errors.New("buffer full")}

	h.Register("user-1", healthy, nil)
	h.Register("user-1", dead, nil) // catch-up fails, conn dropped immediately
	if got := h.ConnCount("user-1"); got != 1 {
		t.Fatalf("expected failing conn dropped on register, have %d conns", got)
	}

	h.Publish("user-1", notes.NoteSet{{ID: "note-1"}})

	if len(healthy.msgs) != 2 {
		t.Errorf("expected healthy conn to keep receiving, got %d messages", len(healthy.msgs))
	}
	if !dead.closed {
		t.Error("expected failing conn to be closed")
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	h := NewHub()
	c := &fakeConn{}
	h.Register("user-1", c, nil)

	h.Unregister("user-1", c)
	h.Unregister("user-1", c)

	if got := h.ConnCount("user-1"); got != 0 {
		t.Errorf("expected 0 conns, got %d", got)
	}

	// Publishing to a user with no connections is a no-op.
	h.Publish("user-1", notes.NoteSet{})
	if len(c.msgs) != 1 {
		t.Errorf("expected no messages after unregister, got %d", len(c.msgs))
	}
}
