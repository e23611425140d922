// Package document implements a minimal replicated document: an add-only set
// of opaque operations. Updates are CBOR-encoded lists of operations, so
// merging is idempotent and commutative. It exists to give the transports a
// concrete Document to synchronize; it does not interpret operation contents.
package document

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/collabkit/channels/pkg/collab"
	"github.com/collabkit/channels/pkg/emitter"
)

var ErrDestroyed = errors.New("document destroyed")

type Document struct {
	mu        sync.RWMutex
	seen      map[[sha256.Size]byte]struct{}
	ops       [][]byte
	destroyed bool

	updates *emitter.Emitter[collab.UpdateEvent]
}

var _ collab.ReplicatedDocument = (*Document)(nil)

func New() *Document {
	return &Document{
		seen:    make(map[[sha256.Size]byte]struct{}),
		updates: emitter.New[collab.UpdateEvent](),
	}
}

// DecodeUpdate returns the operations carried by an update.
func DecodeUpdate(update []byte) ([][]byte, error) {
	var ops [][]byte
	if err := cbor.Unmarshal(update, &ops); err != nil {
		return nil, fmt.Errorf("decode update: %w", err)
	}
	return ops, nil
}

// EncodeUpdate encodes operations as a single update.
func EncodeUpdate(ops [][]byte) ([]byte, error) {
	if ops == nil {
		ops = [][]byte{}
	}
	return cbor.Marshal(ops)
}

// MergeUpdates combines updates into one, dropping duplicate operations.
// Merging zero updates yields a valid empty update.
func MergeUpdates(updates ...[]byte) ([]byte, error) {
	seen := make(map[[sha256.Size]byte]struct{})
	merged := [][]byte{}
	for _, u := range updates {
		ops, err := DecodeUpdate(u)
		if err != nil {
			return nil, err
		}
		for _, op := range ops {
			key := sha256.Sum256(op)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, op)
		}
	}
	return EncodeUpdate(merged)
}

// Apply merges update into the document and announces it to OnUpdate
// handlers with the given origin. Every successfully decoded update is
// announced, including one that adds no new operations.
func (d *Document) Apply(update []byte, origin any) error {
	ops, err := DecodeUpdate(update)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return ErrDestroyed
	}
	for _, op := range ops {
		key := sha256.Sum256(op)
		if _, ok := d.seen[key]; ok {
			continue
		}
		d.seen[key] = struct{}{}
		d.ops = append(d.ops, append([]byte(nil), op...))
	}
	d.mu.Unlock()

	d.updates.Emit(collab.UpdateEvent{Update: update, Origin: origin})
	return nil
}

// Append records a local edit. The update is announced with a nil origin.
func (d *Document) Append(op []byte) error {
	update, err := EncodeUpdate([][]byte{op})
	if err != nil {
		return err
	}
	return d.Apply(update, nil)
}

func (d *Document) EncodeState() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return EncodeUpdate(d.ops)
}

// Ops returns a copy of the document's operations in arrival order.
func (d *Document) Ops() [][]byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([][]byte, len(d.ops))
	copy(out, d.ops)
	return out
}

func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.ops)
}

func (d *Document) OnUpdate(h func(collab.UpdateEvent)) (off func()) {
	return d.updates.On(h)
}

// Destroy drops all handlers and rejects further updates.
func (d *Document) Destroy() error {
	d.mu.Lock()
	d.destroyed = true
	d.mu.Unlock()
	d.updates.Close()
	return nil
}
