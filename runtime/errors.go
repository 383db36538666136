package runtime

import (
	"errors"
	"fmt"
)

// Runtime error sentinels.
var (
	// ErrInvalidQuery marks malformed query requests.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrQueryCancelled is stored as the result of a cancelled query.
	ErrQueryCancelled = errors.New("query cancelled")

	// ErrSymbolNotFound is returned for lookups of unknown symbols.
	ErrSymbolNotFound = errors.New("symbol not found")
)

// invalidQueryf wraps ErrInvalidQuery with a reason.
func invalidQueryf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuery, fmt.Sprintf(format, args...))
}
