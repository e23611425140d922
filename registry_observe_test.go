package channels

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/collabkit/channels/pkg/collab"
	"github.com/collabkit/channels/pkg/metrics"
	"github.com/collabkit/channels/pkg/tracing"
)

type countingLogger struct {
	warn *int
}

func (countingLogger) Debug(string, ...any) {}
func (countingLogger) Info(string, ...any)  {}
func (countingLogger) Error(string, ...any) {}
func (l countingLogger) Warn(string, ...any) {
	*l.warn++
}

func TestSubscribeNotifications(t *testing.T) {
	h := newHarness(t)

	calls := 0
	unsubscribe := h.reg.Subscribe(func() { calls++ })

	sa, ta := h.migrate("doc@v1")
	require.Equal(t, 1, calls, "creation")

	ta.EmitStatus(collab.StatusConnected)
	require.Equal(t, 2, calls, "connecting -> settling")

	ta.EmitSynced(true)
	require.Equal(t, 2, calls, "flag changes alone do not notify")

	ta.Deliver([]byte("u"))
	require.Equal(t, 3, calls, "settling -> active")
	requireResolved(t, sa)

	h.migrate("doc@v2")
	require.Equal(t, 5, calls, "demotion and creation")

	h.clock.Advance(DefaultSettleTimeout)
	require.Equal(t, 6, calls, "draining entry destroyed, settle timer of a connecting entry never started")

	unsubscribe()
	unsubscribe()
	h.migrate("doc@v3")
	require.Equal(t, 6, calls)
}

func TestSubscribeMultipleListeners(t *testing.T) {
	h := newHarness(t)

	var order []string
	h.reg.Subscribe(func() { order = append(order, "first") })
	off := h.reg.Subscribe(func() { order = append(order, "second") })

	h.migrate("doc")
	require.Equal(t, []string{"first", "second"}, order)

	off()
	h.migrate("doc@v2")
	require.Equal(t, []string{"first", "second", "first", "first"}, order)
}

func TestSettleTimeoutLogsWarning(t *testing.T) {
	var warnings int
	h := newHarness(t, WithLogger(countingLogger{warn: &warnings}))

	_, tr := h.migrate("doc")
	tr.EmitStatus(collab.StatusConnected)

	h.clock.Advance(DefaultSettleTimeout - 1)
	require.Zero(t, warnings)
	h.clock.Advance(1)
	require.Equal(t, 1, warnings)

	h.clock.Advance(DefaultSettleTimeout)
	require.Equal(t, 1, warnings, "the settle timer is one-shot")
}

func TestCustomTimeouts(t *testing.T) {
	var warnings int
	h := newHarness(t,
		WithLogger(countingLogger{warn: &warnings}),
		WithSettleTimeout(100),
		WithDrainGracePeriod(50),
	)

	sa, ta := h.migrate("doc@v1")
	ta.EmitStatus(collab.StatusConnected)
	h.clock.Advance(100)
	require.Equal(t, 1, warnings)

	h.migrate("doc@v2")
	h.clock.Advance(50)
	require.Equal(t, StateDestroyed, sa.Entry().State())
}

func TestMetricsRecording(t *testing.T) {
	m := metrics.NewRegistry(prometheus.NewRegistry())
	h := newHarness(t, WithMetrics(m))

	sa, ta := h.migrate("doc@v1")
	ta.EmitStatus(collab.StatusConnected)
	h.clock.Advance(DefaultSettleTimeout)
	ta.EmitSynced(true)
	ta.Deliver([]byte("u"))
	requireResolved(t, sa)

	sb, tb := h.migrate("doc@v2")
	tb.FailDestroy(errors.New("gone"))
	h.migrate("doc@v3")
	h.reg.Destroy()
	requireRejected(t, sb, ErrSuperseded)

	require.Equal(t, 3.0, testutil.ToFloat64(m.Migrations))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SettleTimeouts))
	require.Equal(t, 1, testutil.CollectAndCount(m.SettleDuration))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("settling", "active")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("active", "draining")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.Transitions.WithLabelValues("draining", "destroyed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Settlements.WithLabelValues(OutcomeResolved)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Settlements.WithLabelValues(OutcomeSuperseded)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Settlements.WithLabelValues(OutcomeDestroyed)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.CleanupFailures.WithLabelValues("transport")))

	for _, state := range []State{StateConnecting, StateSettling, StateActive, StateDraining} {
		assert.Zero(t, testutil.ToFloat64(m.Entries.WithLabelValues(state.String())), "live %s entries", state)
	}
}

func TestMigrationSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })

	h := newHarness(t, WithTracer(tp.Tracer("channels-test")))

	_, ta := h.migrate("doc@v1")
	settle(ta)
	h.migrate("doc@v2")
	h.reg.Destroy()

	spans := sr.Ended()
	require.Len(t, spans, 2)

	first, second := spans[0], spans[1]
	assert.Equal(t, tracing.SpanMigrate, first.Name())
	assert.Equal(t, codes.Ok, first.Status().Code)
	assert.Contains(t, first.Attributes(), attribute.String(tracing.AttrRoom, "doc@v1"))
	assert.Contains(t, first.Attributes(), attribute.String(tracing.AttrOutcome, OutcomeResolved))
	require.NotEmpty(t, first.Events())
	assert.Equal(t, tracing.EventConnected, first.Events()[0].Name)

	assert.Equal(t, codes.Error, second.Status().Code)
	assert.Contains(t, second.Attributes(), attribute.String(tracing.AttrDisplaced, "doc@v1"))
	assert.Contains(t, second.Attributes(), attribute.String(tracing.AttrOutcome, OutcomeDestroyed))
}
