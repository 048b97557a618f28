package model

import "errors"

// Sentinel errors shared by the store and the facade.
var (
	// ErrConflict is returned when inserting a feed whose URL is already
	// subscribed. Enforced by the storage layer's uniqueness constraint,
	// never by a check-then-insert.
	ErrConflict = errors.New("resource already exists")

	// ErrNotFound is returned when no feed matches a lookup.
	ErrNotFound = errors.New("resource not found")

	// ErrAmbiguous is returned when an identifier matches more than one
	// feed and no single exact-URL match breaks the tie.
	ErrAmbiguous = errors.New("identifier matches multiple feeds")

	// ErrNotInitialized is returned when the store is used before Open
	// or after Close.
	ErrNotInitialized = errors.New("store not initialized")
)
