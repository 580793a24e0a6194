package ledger

import (
	"errors"
	"fmt"
)

// ErrMalformed is returned by Closer.Close when the finalized value is
// structurally invalid. Nothing was mutated and the ledger must not advance.
var ErrMalformed = errors.New("malformed finalized value")

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
