/*
errors.go - Store-level error types shared by every package

PURPOSE:
  Errors that describe persistence outcomes rather than leave rules.
  Stores return these; the leave package translates them into domain
  errors (unknown leave type, application not found, ...) where the
  meaning depends on what was being looked up.

ERROR CATEGORIES:
  1. Lookup errors - ErrNotFound
  2. Write conflicts - ErrConcurrentModification, ErrDuplicate
  3. Input shape - ErrInvalidPeriod

USAGE:
  b, err := store.GetBalance(ctx, key)
  if errors.Is(err, generic.ErrNotFound) {
      // absent row, initialize lazily
  }

SEE ALSO:
  - leave/errors.go: Domain errors built on top of these
  - store/sqlite/sqlite.go: Maps driver errors onto these
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a keyed row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is returned when an optimistic version check
	// fails: the row changed between read and write.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// VersionConflictError records which row lost an optimistic write.
type VersionConflictError struct {
	Key      string
	Expected int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected version %d", e.Key, e.Expected)
}

func (e *VersionConflictError) Unwrap() error {
	return ErrConcurrentModification
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error came from a lost optimistic write.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
