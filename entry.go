package channels

import (
	"reflect"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/collabkit/channels/pkg/clock"
	"github.com/collabkit/channels/pkg/collab"
)

// Entry is one Transport, Document and Presence bound to one room, together
// with its lifecycle state. Entries are created by Registry.Migrate and
// owned by the Registry; callers only read them.
type Entry struct {
	id        string
	room      string
	transport collab.Transport
	document  collab.Document
	presence  collab.Presence
	createdAt time.Time
	span      trace.Span

	// mu guards state and settledAt for readers outside the registry.
	// Writers also hold the registry lock.
	mu        sync.RWMutex
	state     State
	settledAt time.Time

	// The fields below are only touched with the registry lock held.
	synced    bool
	ownUpdate bool
	timer     clock.Timer
	timerGen  uint64
	offs      []func()
}

func (e *Entry) ID() string                  { return e.id }
func (e *Entry) RoomName() string            { return e.room }
func (e *Entry) Transport() collab.Transport { return e.transport }
func (e *Entry) Document() collab.Document   { return e.document }
func (e *Entry) Presence() collab.Presence   { return e.presence }
func (e *Entry) CreatedAt() time.Time        { return e.createdAt }

func (e *Entry) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// SettledAt reports when the entry first became active. The boolean is
// false for entries that never got there.
func (e *Entry) SettledAt() (time.Time, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settledAt, !e.settledAt.IsZero()
}

func (e *Entry) setState(s State, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
	if s == StateActive && e.settledAt.IsZero() {
		e.settledAt = now
	}
}

// ready reports whether both settle preconditions hold.
func (e *Entry) ready() bool {
	return e.synced && e.ownUpdate
}

// startTimer replaces the entry's single timer slot. f receives the slot
// generation it was scheduled under so a stale callback can detect that
// the slot moved on.
func (e *Entry) startTimer(c clock.Clock, d time.Duration, f func(gen uint64)) {
	e.stopTimer()
	gen := e.timerGen
	e.timer = c.AfterFunc(d, func() { f(gen) })
}

func (e *Entry) stopTimer() {
	e.timerGen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// isOwnOrigin reports whether an update origin is this entry's transport.
// Origins of non-comparable types never match.
func (e *Entry) isOwnOrigin(origin any) bool {
	if origin == nil {
		return false
	}
	if !reflect.TypeOf(origin).Comparable() {
		return false
	}
	return origin == any(e.transport)
}
