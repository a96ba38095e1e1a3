package sentinel

import "errors"

// Stores return these (optionally wrapped) and services translate them into
// domain errors:
//   - ErrNotFound: no row for the key
//   - ErrConflict: a uniqueness constraint rejected the write (active name, identity key)
//   - ErrInvalidState: the row is already in a terminal or incompatible state
//   - ErrUnavailable: a backing service could not be reached
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
