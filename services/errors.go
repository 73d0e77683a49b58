package services

import (
	"errors"

	"makanMatesAPI/internal/store"
)

var (
	// ErrNotFound: the referenced event, request or record is absent. Often
	// benign ("not yet available" or "already finalized").
	ErrNotFound = store.ErrNotFound
	// ErrStoreUnavailable: transient store failure; the caller should retry.
	ErrStoreUnavailable = store.ErrUnavailable
	// ErrInconsistentMirror: a record, or the mirror of an event, contradicts
	// its counterpart. Surfaced, never auto-repaired.
	ErrInconsistentMirror = errors.New("inconsistent mirror event")
	// ErrAlreadyConfirmed: the pair is already mutually confirmed.
	ErrAlreadyConfirmed = errors.New("event already mutually confirmed")
)
