package serialization

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrNoMeta             = errors.New("no tensordict metadata found")
	ErrUnsupportedVersion = errors.New("unsupported metadata format version")
	ErrInvalidLeafName    = errors.New("invalid leaf file name")
)

// MetaError provides detailed information about a malformed sidecar.
type MetaError struct {
	Dir     string // Directory holding the sidecar
	Field   string // Offending field, if known
	Details string
}

// Error implements the error interface.
func (e *MetaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid metadata in %s: field %q: %s", e.Dir, e.Field, e.Details)
	}
	return fmt.Sprintf("invalid metadata in %s: %s", e.Dir, e.Details)
}
