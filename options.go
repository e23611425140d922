package channels

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/collabkit/channels/pkg/clock"
	"github.com/collabkit/channels/pkg/collab"
	"github.com/collabkit/channels/pkg/logger"
	"github.com/collabkit/channels/pkg/metrics"
)

const (
	// DefaultSettleTimeout is how long an entry may stay settling before a
	// warning is logged. The entry keeps settling afterwards.
	DefaultSettleTimeout = 10 * time.Second

	// DefaultDrainGracePeriod is how long a displaced entry stays draining
	// before it is destroyed.
	DefaultDrainGracePeriod = 2 * time.Second
)

// DocumentFactory creates the Document of a new entry.
type DocumentFactory func(room string) collab.Document

// PresenceFactory creates the Presence store of a new entry.
type PresenceFactory func(room string) collab.Presence

type Option func(*Registry)

func WithLogger(l logger.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithClock replaces the wall clock used for timestamps and timers.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

func WithSettleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.settleTimeout = d
	}
}

func WithDrainGracePeriod(d time.Duration) Option {
	return func(r *Registry) {
		r.drainGracePeriod = d
	}
}

func WithDocumentFactory(f DocumentFactory) Option {
	return func(r *Registry) {
		r.newDocument = f
	}
}

func WithPresenceFactory(f PresenceFactory) Option {
	return func(r *Registry) {
		r.newPresence = f
	}
}

// WithMetrics records registry activity into m.
func WithMetrics(m *metrics.Registry) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithTracer starts one span per migration on t. The span ends when the
// migration's Settlement finishes.
func WithTracer(t trace.Tracer) Option {
	return func(r *Registry) {
		r.tracer = t
	}
}
