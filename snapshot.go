package channels

import "time"

// EntrySnapshot is a copy of an entry's observable fields.
type EntrySnapshot struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	SettledAt time.Time `json:"settled_at,omitempty"`
}

// Snapshot is a consistent copy of both registry slots.
type Snapshot struct {
	Current       *EntrySnapshot `json:"current,omitempty"`
	Draining      *EntrySnapshot `json:"draining,omitempty"`
	Transitioning bool           `json:"transitioning"`
}

// Snapshot copies both slots under one lock acquisition.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Current:       snapshotEntry(r.current),
		Draining:      snapshotEntry(r.draining),
		Transitioning: r.draining != nil,
	}
}

func snapshotEntry(e *Entry) *EntrySnapshot {
	if e == nil {
		return nil
	}
	settledAt, _ := e.SettledAt()
	return &EntrySnapshot{
		ID:        e.id,
		Room:      e.room,
		State:     e.State().String(),
		CreatedAt: e.createdAt,
		SettledAt: settledAt,
	}
}
