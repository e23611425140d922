// Package mock provides in-memory collaborators whose events are driven by
// the test.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/collabkit/channels/pkg/collab"
	"github.com/collabkit/channels/pkg/emitter"
)

var ErrOpen = errors.New("mock: open failed")

// Destroyer counts Destroy calls and can be told to fail or panic.
type Destroyer struct {
	mu        sync.Mutex
	calls     int
	err       error
	panicWith any
}

// FailDestroy makes later Destroy calls return err.
func (d *Destroyer) FailDestroy(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// PanicOnDestroy makes later Destroy calls panic with v.
func (d *Destroyer) PanicOnDestroy(v any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.panicWith = v
}

func (d *Destroyer) Destroy() error {
	d.mu.Lock()
	d.calls++
	err, p := d.err, d.panicWith
	d.mu.Unlock()

	if p != nil {
		panic(p)
	}
	return err
}

func (d *Destroyer) DestroyCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *Destroyer) Destroyed() bool {
	return d.DestroyCalls() > 0
}

type Transport struct {
	Destroyer

	Room     string
	Document collab.Document
	Presence collab.Presence
	Params   collab.JoinParams

	status *emitter.Emitter[collab.StatusEvent]
	synced *emitter.Emitter[bool]

	mu         sync.Mutex
	connectErr error
	connects   int
	onConnect  func(*Transport)
}

var _ collab.Transport = (*Transport)(nil)

func NewTransport(room string) *Transport {
	return &Transport{
		Room:   room,
		status: emitter.New[collab.StatusEvent](),
		synced: emitter.New[bool](),
	}
}

// FailConnect makes Connect return err.
func (t *Transport) FailConnect(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectErr = err
}

// OnConnectCall runs f synchronously from inside Connect.
func (t *Transport) OnConnectCall(f func(*Transport)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnect = f
}

func (t *Transport) Connect(context.Context) error {
	t.mu.Lock()
	t.connects++
	err, f := t.connectErr, t.onConnect
	t.mu.Unlock()

	if f != nil {
		f(t)
	}
	return err
}

func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

func (t *Transport) OnStatus(h func(collab.StatusEvent)) func() { return t.status.On(h) }
func (t *Transport) OnSynced(h func(bool)) func()               { return t.synced.On(h) }

// EmitStatus delivers a status event to the registered handlers.
func (t *Transport) EmitStatus(s collab.Status) {
	t.status.Emit(collab.StatusEvent{Status: s})
}

func (t *Transport) EmitSynced(synced bool) {
	t.synced.Emit(synced)
}

// Handlers reports how many status and synced handlers are attached.
func (t *Transport) Handlers() int {
	return t.status.Len() + t.synced.Len()
}

// Deliver makes the transport's document emit an update originating from
// the transport.
func (t *Transport) Deliver(update []byte) {
	if d, ok := t.Document.(*Document); ok {
		d.EmitUpdate(update, t)
	}
}

type Document struct {
	Destroyer

	updates *emitter.Emitter[collab.UpdateEvent]
}

var _ collab.Document = (*Document)(nil)

func NewDocument() *Document {
	return &Document{updates: emitter.New[collab.UpdateEvent]()}
}

func (d *Document) OnUpdate(h func(collab.UpdateEvent)) func() { return d.updates.On(h) }

func (d *Document) EmitUpdate(update []byte, origin any) {
	d.updates.Emit(collab.UpdateEvent{Update: update, Origin: origin})
}

func (d *Document) Handlers() int {
	return d.updates.Len()
}

type Presence struct {
	Destroyer
}

var _ collab.Presence = (*Presence)(nil)

func NewPresence() *Presence {
	return &Presence{}
}

// Opener opens mock transports and remembers them in order.
type Opener struct {
	mu         sync.Mutex
	openErr    error
	transports []*Transport
	prepare    func(*Transport)
}

var _ collab.Opener = (*Opener)(nil)

func NewOpener() *Opener {
	return &Opener{}
}

// FailOpen makes later Open calls return err.
func (o *Opener) FailOpen(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.openErr = err
}

// Prepare runs f on every transport right after it is opened.
func (o *Opener) Prepare(f func(*Transport)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prepare = f
}

func (o *Opener) Open(room string, doc collab.Document, presence collab.Presence, params collab.JoinParams) (collab.Transport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.openErr != nil {
		return nil, o.openErr
	}
	t := NewTransport(room)
	t.Document = doc
	t.Presence = presence
	t.Params = params
	if o.prepare != nil {
		o.prepare(t)
	}
	o.transports = append(o.transports, t)
	return t, nil
}

// Transports returns every transport opened so far.
func (o *Opener) Transports() []*Transport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Transport(nil), o.transports...)
}

// Last returns the most recently opened transport.
func (o *Opener) Last() *Transport {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.transports) == 0 {
		return nil
	}
	return o.transports[len(o.transports)-1]
}
