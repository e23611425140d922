package channels

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/collabkit/channels/pkg/metrics"
	"github.com/collabkit/channels/pkg/tracing"
)

// Outcomes a Settlement can finish with.
const (
	OutcomeResolved   = "resolved"
	OutcomeSuperseded = "superseded"
	OutcomeDestroyed  = "destroyed"
	OutcomeFailed     = "failed"
)

// Settlement is the pending result of a Migrate call. It finishes once:
// successfully when the new entry becomes active, or with an error when the
// entry is displaced, destroyed, or the registry is destroyed first.
type Settlement struct {
	entry   *Entry
	metrics *metrics.Registry

	once sync.Once
	done chan struct{}
	err  error
}

func newSettlement(e *Entry, m *metrics.Registry) *Settlement {
	return &Settlement{
		entry:   e,
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Entry returns the entry this settlement waits on.
func (s *Settlement) Entry() *Entry {
	return s.entry
}

// Done is closed when the settlement finishes.
func (s *Settlement) Done() <-chan struct{} {
	return s.done
}

// Err returns nil while the settlement is pending or after it resolved,
// and the rejection reason otherwise.
func (s *Settlement) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Wait blocks until the settlement finishes or ctx is done. Giving up on
// ctx does not cancel the migration; use Registry.Destroy for that.
func (s *Settlement) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Settlement) finish(err error) {
	s.once.Do(func() {
		s.err = err
		outcome := settlementOutcome(err)

		span := s.entry.span
		span.SetAttributes(attribute.String(tracing.AttrOutcome, outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()

		s.metrics.RecordSettlement(outcome)
		close(s.done)
	})
}

func settlementOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeResolved
	case errors.Is(err, ErrSuperseded):
		return OutcomeSuperseded
	case errors.Is(err, ErrRegistryDestroyed):
		return OutcomeDestroyed
	default:
		return OutcomeFailed
	}
}
