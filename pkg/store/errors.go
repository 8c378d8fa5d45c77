// Package store persists statement graphs and keyed documents over the
// relational backend. Statements are normalized into actor, verb, activity,
// context and link tables; the submitted bytes are kept verbatim per row so
// the exact retrieval format never depends on re-serialization.
package store

import "errors"

var (
	// ErrNotFound is returned for lookups that match no row.
	ErrNotFound = errors.New("store: not found")

	// ErrIDConflict is returned when a statement UUID is reused with a
	// different fingerprint. Maps to 409.
	ErrIDConflict = errors.New("store: statement id exists with different content")

	// ErrDuplicateID is returned when a batch carries the same statement
	// UUID twice. Maps to 400.
	ErrDuplicateID = errors.New("store: duplicate statement id within batch")

	// ErrVoidTarget is returned when a voiding statement references a
	// missing target or another voiding statement. Maps to 400.
	ErrVoidTarget = errors.New("store: voiding target must be an existing non-voiding statement")
)
