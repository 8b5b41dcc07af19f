package td

import (
	"errors"
	"fmt"
	"strings"

	"github.com/born-ml/tensordict/internal/tensor"
)

// Common errors.
var (
	ErrLocked           = errors.New("cannot modify a locked tensordict; for in-place modification, consider using SetInPlace")
	ErrLockedGraph      = errors.New("cannot unlock a tensordict that is part of a locked graph")
	ErrLockSubDict      = errors.New("cannot lock or unlock a sub-tensordict; lock its parent instead")
	ErrBatchSizeDerived = errors.New("batch size of a lazy tensordict is derived and cannot be set")
	ErrMemmapOnView     = errors.New("cannot build a memmapped tensordict from a lazy view in-place; materialize it first")
	ErrMemmapOnSubDict  = errors.New("cannot convert a sub-tensordict to memmap storage; memmap its parent instead")
	ErrAlreadyMemmapped = errors.New("tensordict is already memmapped under another prefix; pass CopyExisting to copy")
	ErrMemmapStructural = errors.New("cannot change the structure of a memmapped tensordict")
	ErrStackEmpty       = errors.New("at least one tensordict is required to stack")
	ErrSubDictDel       = errors.New("cannot delete keys through a sub-tensordict; delete from its parent")
	ErrNotInvertible    = errors.New("writing through this index is not supported")
)

// ShapeMismatchError reports a violation of the batch-prefix
// invariant, or of the exact-shape requirement of in-place writes.
type ShapeMismatchError struct {
	Key   string
	Got   tensor.Shape
	Want  tensor.Shape
	Exact bool // In-place write: shapes must match exactly
}

func (e *ShapeMismatchError) Error() string {
	if e.Exact {
		return fmt.Sprintf("shape mismatch at key %q: value has shape %v, expected shape %v",
			e.Key, e.Got, e.Want)
	}
	return fmt.Sprintf("batch dimension mismatch at key %q: value has shape %v, expected batch size %v as prefix",
		e.Key, e.Got, e.Want)
}

// KeyMissingError reports a get/del/pop on an absent path.
type KeyMissingError struct {
	Path []string
	Keys []string // Keys present at the failing level, for the message
}

func (e *KeyMissingError) Error() string {
	if len(e.Keys) > 0 {
		return fmt.Sprintf("key %q not found in tensordict with keys %v", strings.Join(e.Path, "/"), e.Keys)
	}
	return fmt.Sprintf("key %q not found in tensordict", strings.Join(e.Path, "/"))
}

// KeyCollisionError reports that flatten/unflatten would alias two
// distinct logical keys, or that a key already exists where one would
// be created.
type KeyCollisionError struct {
	Key string
	Sep string
}

func (e *KeyCollisionError) Error() string {
	if e.Sep != "" {
		return fmt.Sprintf("key collision on %q with separator %q", e.Key, e.Sep)
	}
	return fmt.Sprintf("key collision on %q", e.Key)
}

// TypeMismatchError reports a wrong value or index type.
type TypeMismatchError struct {
	Key  string
	Got  string
	Want string
}

func (e *TypeMismatchError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("expected %s at key %q, got %s", e.Want, e.Key, e.Got)
	}
	return fmt.Sprintf("expected %s, got %s", e.Want, e.Got)
}

// DeviceMismatchError reports inconsistent devices when composing
// sibling tensordicts.
type DeviceMismatchError struct {
	Index int
	Got   string
	Want  string
}

func (e *DeviceMismatchError) Error() string {
	return fmt.Sprintf("device mismatch at position %d: got %s, expected %s", e.Index, e.Got, e.Want)
}

// BatchSizeMismatchError reports inconsistent batch sizes when
// composing sibling tensordicts.
type BatchSizeMismatchError struct {
	Index int
	Got   tensor.Shape
	Want  tensor.Shape
}

func (e *BatchSizeMismatchError) Error() string {
	return fmt.Sprintf("batch size mismatch at position %d: got %v, expected %v", e.Index, e.Got, e.Want)
}

// PartialKeyError reports a stacked get on a key held by only some of
// the siblings.
type PartialKeyError struct {
	Key     string
	Present int
	Total   int
}

func (e *PartialKeyError) Error() string {
	return fmt.Sprintf("key %q is present in only %d of %d stacked tensordicts", e.Key, e.Present, e.Total)
}

// NonUniqueShapeError reports a stacked materialization over leaves of
// differing shapes.
type NonUniqueShapeError struct {
	Key string
}

func (e *NonUniqueShapeError) Error() string {
	return fmt.Sprintf("found more than one unique shape for stacked key %q; stacking requires uniform shapes", e.Key)
}

// SubDictSetError reports a structural set through a sub-tensordict.
type SubDictSetError struct {
	Key      string
	Existing bool
}

func (e *SubDictSetError) Error() string {
	if e.Existing {
		return fmt.Sprintf("setting key %q through a sub-tensordict is prohibited for existing tensors; use SetInPlace", e.Key)
	}
	return fmt.Sprintf("cannot create key %q through a sub-tensordict: there is no parent-shaped storage to write into", e.Key)
}
