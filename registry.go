package channels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/collabkit/channels/pkg/clock"
	"github.com/collabkit/channels/pkg/collab"
	"github.com/collabkit/channels/pkg/document"
	"github.com/collabkit/channels/pkg/emitter"
	"github.com/collabkit/channels/pkg/logger"
	"github.com/collabkit/channels/pkg/metrics"
	"github.com/collabkit/channels/pkg/presence"
	"github.com/collabkit/channels/pkg/tracing"
)

// Registry owns the channel entries of one collaborative session. It holds
// at most one current entry and at most one draining entry.
//
// All methods are safe for concurrent use. Subscribers and collaborator
// Destroy calls run without the registry lock held.
type Registry struct {
	logger           logger.Logger
	clock            clock.Clock
	settleTimeout    time.Duration
	drainGracePeriod time.Duration
	newDocument      DocumentFactory
	newPresence      PresenceFactory
	metrics          *metrics.Registry
	tracer           trace.Tracer

	mu        sync.Mutex
	current   *Entry
	draining  *Entry
	pending   *Settlement
	listeners *emitter.Emitter[struct{}]
}

func New(opts ...Option) *Registry {
	r := &Registry{
		logger:           logger.Nop(),
		clock:            clock.Real{},
		settleTimeout:    DefaultSettleTimeout,
		drainGracePeriod: DefaultDrainGracePeriod,
		newDocument: func(string) collab.Document {
			return document.New()
		},
		newPresence: func(string) collab.Presence {
			return presence.New(presence.Config{})
		},
		tracer:    noop.NewTracerProvider().Tracer(""),
		listeners: emitter.New[struct{}](),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// effects collects the work a locked section schedules for after unlock.
type effects struct {
	notify   int
	finished []finished
	teardown []*Entry
}

type finished struct {
	settlement *Settlement
	err        error
}

func (fx *effects) finish(s *Settlement, err error) {
	fx.finished = append(fx.finished, finished{settlement: s, err: err})
}

// Migrate opens a new entry for room through conn and installs it as the
// current entry. An existing draining entry is destroyed at once and the
// previous current entry starts draining.
//
// The returned Settlement finishes when the new entry becomes active or is
// rejected. An error is returned only when conn fails to open the room, in
// which case the registry is left untouched.
func (r *Registry) Migrate(ctx context.Context, conn collab.Opener, room string, params collab.JoinParams) (*Settlement, error) {
	if conn == nil {
		return nil, fmt.Errorf("migrate to %q: nil opener", room)
	}

	doc := r.newDocument(room)
	pres := r.newPresence(room)

	transport, err := conn.Open(room, doc, pres, params)
	if err != nil {
		r.destroyResource(room, "document", doc.Destroy)
		r.destroyResource(room, "presence", pres.Destroy)
		return nil, fmt.Errorf("open room %q: %w", room, err)
	}

	e := &Entry{
		id:        uuid.Must(uuid.NewV4()).String(),
		room:      room,
		transport: transport,
		document:  doc,
		presence:  pres,
		createdAt: r.clock.Now(),
		state:     StateConnecting,
	}
	ctx, e.span = r.tracer.Start(ctx, tracing.SpanMigrate, trace.WithAttributes(
		attribute.String(tracing.AttrRoom, room),
		attribute.String(tracing.AttrEntryID, e.id),
	))
	e.offs = []func(){
		transport.OnStatus(func(ev collab.StatusEvent) { r.handleStatus(e, ev) }),
		transport.OnSynced(func(synced bool) { r.handleSynced(e, synced) }),
		doc.OnUpdate(func(ev collab.UpdateEvent) { r.handleUpdate(e, ev) }),
	}
	s := newSettlement(e, r.metrics)

	var fx effects
	r.mu.Lock()
	if old := r.draining; old != nil {
		r.mustTransition(old, StateDestroyed, &fx)
		r.draining = nil
		fx.teardown = append(fx.teardown, old)
	}
	if displaced := r.current; displaced != nil {
		r.mustTransition(displaced, StateDraining, &fx)
		r.startDrainTimer(displaced)
		r.draining = displaced
		e.span.SetAttributes(attribute.String(tracing.AttrDisplaced, displaced.room))
	}
	if r.pending != nil {
		fx.finish(r.pending, ErrSuperseded)
		r.pending = nil
	}
	r.current = e
	// Handlers are live before installation, so e may already have settled.
	if e.state == StateActive {
		fx.finish(s, nil)
	} else {
		r.pending = s
	}
	r.metrics.RecordMigration()
	r.metrics.RecordCreated(StateConnecting.String())
	r.logger.Debug("channel entry created", "entry_id", e.id, "room", room)
	fx.notify++
	listeners := r.listeners
	r.mu.Unlock()

	r.apply(&fx, listeners)

	if err := transport.Connect(ctx); err != nil {
		r.failEntry(e, err)
	}

	return s, nil
}

// Destroy tears down both entries, rejects a pending migration with
// ErrRegistryDestroyed and drops every subscriber. It is idempotent, and the
// registry may be migrated again afterwards.
func (r *Registry) Destroy() {
	var fx effects
	r.mu.Lock()
	for _, e := range []*Entry{r.current, r.draining} {
		if e == nil {
			continue
		}
		r.mustTransition(e, StateDestroyed, &fx)
		fx.teardown = append(fx.teardown, e)
	}
	r.current = nil
	r.draining = nil
	if r.pending != nil {
		fx.finish(r.pending, ErrRegistryDestroyed)
		r.pending = nil
	}
	listeners := r.listeners
	r.listeners = emitter.New[struct{}]()
	r.mu.Unlock()

	r.apply(&fx, listeners)
	listeners.Close()
}

// Subscribe registers listener to be called after every change of the
// registry: a new current entry, any entry state transition, and the
// destruction of the draining entry. Listeners run without the registry
// lock held and may call any accessor.
func (r *Registry) Subscribe(listener func()) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listeners.On(func(struct{}) { listener() })
}

func (r *Registry) CurrentEntry() *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Registry) DrainingEntry() *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.draining
}

// IsTransitioning reports whether a draining entry exists.
func (r *Registry) IsTransitioning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.draining != nil
}

func (r *Registry) handleStatus(e *Entry, ev collab.StatusEvent) {
	if ev.Status != collab.StatusConnected {
		return
	}

	var fx effects
	r.mu.Lock()
	if e.state != StateConnecting {
		r.mu.Unlock()
		return
	}
	r.mustTransition(e, StateSettling, &fx)
	e.span.AddEvent(tracing.EventConnected)
	r.startSettleTimer(e)
	if e.ready() {
		r.settle(e, &fx)
	}
	listeners := r.listeners
	r.mu.Unlock()

	r.apply(&fx, listeners)
}

func (r *Registry) handleSynced(e *Entry, synced bool) {
	var fx effects
	r.mu.Lock()
	if e.state >= StateActive {
		r.mu.Unlock()
		return
	}
	e.synced = synced
	if e.state == StateSettling && e.ready() {
		r.settle(e, &fx)
	}
	listeners := r.listeners
	r.mu.Unlock()

	r.apply(&fx, listeners)
}

func (r *Registry) handleUpdate(e *Entry, ev collab.UpdateEvent) {
	if !e.isOwnOrigin(ev.Origin) {
		return
	}

	var fx effects
	r.mu.Lock()
	if e.state >= StateActive {
		r.mu.Unlock()
		return
	}
	e.ownUpdate = true
	if e.state == StateSettling && e.ready() {
		r.settle(e, &fx)
	}
	listeners := r.listeners
	r.mu.Unlock()

	r.apply(&fx, listeners)
}

// settle moves a settling entry to active and resolves its settlement.
// Must be called with r.mu held.
func (r *Registry) settle(e *Entry, fx *effects) {
	r.mustTransition(e, StateActive, fx)
	settledAt, _ := e.SettledAt()
	r.metrics.RecordSettled(settledAt.Sub(e.createdAt))
	if r.pending != nil && r.pending.entry == e {
		fx.finish(r.pending, nil)
		r.pending = nil
	}
}

func (r *Registry) startSettleTimer(e *Entry) {
	e.startTimer(r.clock, r.settleTimeout, func(gen uint64) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if gen != e.timerGen || e.state != StateSettling {
			return
		}
		e.timer = nil
		e.span.AddEvent(tracing.EventSettleTimer)
		r.metrics.RecordSettleTimeout()
		r.logger.Warn("channel entry did not settle in time",
			"entry_id", e.id, "room", e.room, "timeout", r.settleTimeout.String())
	})
}

func (r *Registry) startDrainTimer(e *Entry) {
	e.startTimer(r.clock, r.drainGracePeriod, func(gen uint64) {
		var fx effects
		r.mu.Lock()
		if gen != e.timerGen || e.state != StateDraining {
			r.mu.Unlock()
			return
		}
		r.mustTransition(e, StateDestroyed, &fx)
		if r.draining == e {
			r.draining = nil
		}
		fx.teardown = append(fx.teardown, e)
		listeners := r.listeners
		r.mu.Unlock()

		r.apply(&fx, listeners)
	})
}

// failEntry destroys an entry whose transport failed to connect.
func (r *Registry) failEntry(e *Entry, cause error) {
	var fx effects
	r.mu.Lock()
	if e.state == StateDestroyed {
		r.mu.Unlock()
		return
	}
	r.logger.Error("channel transport failed to connect",
		"entry_id", e.id, "room", e.room, "error", cause)
	r.mustTransition(e, StateDestroyed, &fx)
	if r.current == e {
		r.current = nil
	}
	if r.draining == e {
		r.draining = nil
	}
	if r.pending != nil && r.pending.entry == e {
		fx.finish(r.pending, fmt.Errorf("%w: connect to %q: %w", ErrEntryDestroyed, e.room, cause))
		r.pending = nil
	}
	fx.teardown = append(fx.teardown, e)
	listeners := r.listeners
	r.mu.Unlock()

	r.apply(&fx, listeners)
}

// mustTransition advances e and schedules a notification. Callers check the
// current state first, so a refused transition is a bug.
// Must be called with r.mu held.
func (r *Registry) mustTransition(e *Entry, to State, fx *effects) {
	from := e.state
	next, err := from.TransitionTo(to)
	if err != nil {
		panic(fmt.Sprintf("BUG: channel entry %s: %v", e.id, err))
	}

	e.stopTimer()
	e.setState(next, r.clock.Now())
	r.metrics.RecordTransition(from.String(), next.String(), next == StateDestroyed)
	r.logger.Debug("channel entry state transitioned",
		"entry_id", e.id, "room", e.room, "from", from.String(), "to", next.String())
	fx.notify++
}

// apply runs the work scheduled by a locked section: it finishes
// settlements, notifies subscribers and then releases torn down entries.
func (r *Registry) apply(fx *effects, listeners *emitter.Emitter[struct{}]) {
	for _, f := range fx.finished {
		f.settlement.finish(f.err)
	}
	for i := 0; i < fx.notify; i++ {
		listeners.Emit(struct{}{})
	}
	for _, e := range fx.teardown {
		r.teardown(e)
	}
}

// teardown detaches the registry's handlers and destroys the entry's
// collaborators. Each Destroy call is isolated from the others.
func (r *Registry) teardown(e *Entry) {
	for _, off := range e.offs {
		off()
	}
	r.destroyResource(e.room, "transport", e.transport.Destroy)
	r.destroyResource(e.room, "document", e.document.Destroy)
	r.destroyResource(e.room, "presence", e.presence.Destroy)
}

func (r *Registry) destroyResource(room, resource string, destroy func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.RecordCleanupFailure(resource)
			r.logger.Error("channel resource destroy panicked",
				"room", room, "resource", resource, "panic", p)
		}
	}()

	if err := destroy(); err != nil {
		r.metrics.RecordCleanupFailure(resource)
		r.logger.Error("channel resource destroy failed",
			"room", room, "resource", resource, "error", err)
	}
}
