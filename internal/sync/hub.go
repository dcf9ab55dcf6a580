// Package sync fans out note snapshots to every connected device of a user.
package sync

import (
	"encoding/json"
	"sync"

	"notesync/api/internal/notes"
)

// Conn is one connected device. Send must not block indefinitely; a failed
// send marks the connection dead and the hub drops it.
type Conn interface {
	Send(msg []byte) error
	Close()
}

// Hub tracks connections per user and broadcasts snapshots to all of them,
// including the device that made the change.
type Hub struct {
	mu    sync.Mutex
	conns map[string]map[Conn]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[Conn]struct{})}
}

type envelope struct {
	Type  string        `json:"type"`
	Notes notes.NoteSet `json:"notes"`
}

func encodeSnapshot(set notes.NoteSet) ([]byte, error) {
	if set == nil {
		set = notes.NoteSet{}
	}
	return json.Marshal(envelope{Type: "notes", Notes: set})
}

// Register adds a connection for userID and immediately sends it the current
// snapshot so a fresh device catches up before any mutation happens.
func (h *Hub) Register(userID string, c Conn, snapshot notes.NoteSet) error {
	msg, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	h.mu.Lock()
	set, ok := h.conns[userID]
	if !ok {
		set = make(map[Conn]struct{})
		h.conns[userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	if err := c.Send(msg); err != nil {
		h.Unregister(userID, c)
		return err
	}
	return nil
}

// Unregister removes a connection. It is safe to call for connections the
// hub has already dropped.
func (h *Hub) Unregister(userID string, c Conn) {
	h.mu.Lock()
	set, ok := h.conns[userID]
	if ok {
		if _, present := set[c]; present {
			delete(set, c)
			if len(set) == 0 {
				delete(h.conns, userID)
			}
			h.mu.Unlock()
			c.Close()
			return
		}
	}
	h.mu.Unlock()
}

// Publish broadcasts the full snapshot to every connection of userID.
// Connections whose send fails are dropped; one dead device never blocks
// the rest.
func (h *Hub) Publish(userID string, snapshot notes.NoteSet) {
	msg, err := encodeSnapshot(snapshot)
	if err != nil {
		return
	}

	h.mu.Lock()
	targets := make([]Conn, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.Send(msg); err != nil {
			h.Unregister(userID, c)
		}
	}
}

// ConnCount reports the number of live connections for userID.
func (h *Hub) ConnCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}
