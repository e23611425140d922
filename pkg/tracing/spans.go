package tracing

// Span attribute keys for channel registry tracing.
const (
	AttrRoom      = "channel.room"
	AttrEntryID   = "channel.entry_id"
	AttrDisplaced = "channel.displaced_room"
	AttrOutcome   = "channel.outcome"
	AttrState     = "channel.state"
)

// Span and event names.
const (
	SpanMigrate      = "channel.migrate"
	EventConnected   = "channel.connected"
	EventSettleTimer = "channel.settle_timeout"
)
