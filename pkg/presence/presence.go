// Package presence keeps ephemeral per-participant state (cursor, selection,
// user name) for one room. Remote states expire unless refreshed.
package presence

import (
	"maps"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/collabkit/channels/pkg/collab"
	"github.com/collabkit/channels/pkg/emitter"
)

const (
	// DefaultTTL is how long a remote state lives without a refresh.
	DefaultTTL = 30 * time.Second
	// DefaultCleanupInterval is how often expired remote states are purged.
	DefaultCleanupInterval = 5 * time.Second
)

type Config struct {
	// ClientID identifies the local participant. A random UUID is used when empty.
	ClientID        string
	TTL             time.Duration
	CleanupInterval time.Duration
}

type Presence struct {
	clientID string

	mu        sync.RWMutex
	local     map[string]any
	destroyed bool

	remote  *gocache.Cache
	changes *emitter.Emitter[collab.PresenceChange]
}

var _ collab.Awareness = (*Presence)(nil)

func New(cfg Config) *Presence {
	if cfg.ClientID == "" {
		cfg.ClientID = uuid.Must(uuid.NewV4()).String()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	p := &Presence{
		clientID: cfg.ClientID,
		remote:   gocache.New(cfg.TTL, cfg.CleanupInterval),
		changes:  emitter.New[collab.PresenceChange](),
	}
	p.remote.OnEvicted(func(clientID string, _ interface{}) {
		p.changes.Emit(collab.PresenceChange{ClientID: clientID})
	})
	return p
}

func (p *Presence) ClientID() string {
	return p.clientID
}

// SetLocalState replaces the local participant's state and announces it
// with a nil origin. A nil state marks the local participant as gone.
func (p *Presence) SetLocalState(state map[string]any) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.local = maps.Clone(state)
	p.mu.Unlock()

	p.changes.Emit(collab.PresenceChange{ClientID: p.clientID, State: maps.Clone(state)})
}

func (p *Presence) LocalState() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return maps.Clone(p.local)
}

// ApplyRemote records another participant's state. A nil state removes it.
// Updates about the local client id are ignored.
func (p *Presence) ApplyRemote(clientID string, state map[string]any, origin any) {
	if clientID == p.clientID {
		return
	}
	p.mu.RLock()
	destroyed := p.destroyed
	p.mu.RUnlock()
	if destroyed {
		return
	}

	if state == nil {
		// Delete does not trigger OnEvicted.
		p.remote.Delete(clientID)
	} else {
		p.remote.SetDefault(clientID, maps.Clone(state))
	}
	p.changes.Emit(collab.PresenceChange{ClientID: clientID, State: maps.Clone(state), Origin: origin})
}

// States returns every known participant state keyed by client id,
// including the local one when set.
func (p *Presence) States() map[string]map[string]any {
	out := make(map[string]map[string]any)
	for id, item := range p.remote.Items() {
		if st, ok := item.Object.(map[string]any); ok {
			out[id] = maps.Clone(st)
		}
	}
	p.mu.RLock()
	if p.local != nil {
		out[p.clientID] = maps.Clone(p.local)
	}
	p.mu.RUnlock()
	return out
}

func (p *Presence) OnChange(h func(collab.PresenceChange)) (off func()) {
	return p.changes.On(h)
}

// Destroy forgets all states and drops handlers. The cache janitor goroutine
// stops once the cache is garbage collected, which needs the eviction hook
// released since it refers back to p.
func (p *Presence) Destroy() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	p.local = nil
	p.mu.Unlock()

	p.changes.Close()
	p.remote.OnEvicted(nil)
	p.remote.Flush()
	return nil
}
