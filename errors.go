package channels

import "errors"

var (
	// ErrRegistryDestroyed rejects a settlement when Registry.Destroy runs
	// before its entry became active.
	ErrRegistryDestroyed = errors.New("channel registry destroyed")

	// ErrSuperseded rejects a settlement when a newer migration displaced its
	// entry before it became active.
	ErrSuperseded = errors.New("migration superseded by a newer migration")

	// ErrEntryDestroyed rejects a settlement when its entry was torn down for
	// any other reason, such as a failed Transport.Connect.
	ErrEntryDestroyed = errors.New("channel entry destroyed")

	ErrInvalidTransition = errors.New("invalid state transition")
)
