// Package td implements the tensordict container core: a nested,
// batched mapping from string keys to tensor leaves, with zero-copy
// lazy views, stacked composites, write-through sub-views, a
// multi-owner lock graph and memmap persistence.
package td

import (
	"strings"

	"github.com/born-ml/tensordict/internal/tensor"
)

// Value is the content of a tensordict entry: either a
// *tensor.RawTensor leaf or a Dict. Construction additionally accepts
// map[string]Value for nested literals. The variant set is closed;
// operations dispatch by type switch.
type Value any

// Dict is the capability shared by every tensordict variant:
// TensorDict (plain storage), ViewDict (lazy transform proxies),
// StackedDict (lazy stacked composite) and SubDict (write-through
// fixed-index view).
type Dict interface {
	// BatchSize returns the common leading shape enforced on all
	// entries. Derived variants compute it lazily.
	BatchSize() tensor.Shape
	// BatchDims returns len(BatchSize()).
	BatchDims() int
	// SetBatchSize resizes the batch shape. Only plain tensordicts
	// store their batch size; derived variants return
	// ErrBatchSizeDerived.
	SetBatchSize(shape tensor.Shape) error
	// Device returns the uniform device tag, if one is enforced.
	Device() (tensor.Device, bool)
	// Names returns the batch dimension names, empty atoms for
	// unnamed dimensions, nil when no dimension is named.
	Names() []string

	// Keys returns the sorted top-level keys.
	Keys() []string
	// NestedKeys returns all key paths in depth-first sorted order.
	// With leavesOnly, paths to nested tensordicts are omitted.
	NestedKeys(leavesOnly bool) [][]string
	// Get resolves a key path to its value.
	Get(path ...string) (Value, error)
	// GetLeaf resolves a key path and requires a leaf.
	GetLeaf(path ...string) (*tensor.RawTensor, error)
	// Set inserts or replaces the value at path, creating intermediate
	// tensordicts. Structural: rejected while locked or memmapped.
	Set(value Value, path ...string) error
	// SetInPlace writes value into the existing storage at path.
	// Shape must match exactly; dtype is cast. Permitted while locked.
	SetInPlace(value Value, path ...string) error
	// Del removes the entry at path. Structural.
	Del(path ...string) error
	// Pop removes and returns the entry at path. Structural.
	Pop(path ...string) (Value, error)

	// FlattenKeys returns a tensordict whose keys are sep-joined
	// paths, sharing leaf storage with the receiver.
	FlattenKeys(sep string) (Dict, error)
	// UnflattenKeys splits sep-joined keys back into nested
	// tensordicts, sharing leaf storage with the receiver.
	UnflattenKeys(sep string) (Dict, error)

	// IsLocked reports whether structural mutation is currently
	// forbidden, by this instance or by any locked ancestor path.
	IsLocked() bool
	// LockOwnerCount returns the number of distinct graph nodes whose
	// lock currently pins this instance.
	LockOwnerCount() int
	// Lock forbids structural mutation of this tensordict and every
	// container reachable from it.
	Lock() error
	// Unlock re-enables structural mutation; fails with
	// ErrLockedGraph when another locked ancestor path still pins a
	// reachable container.
	Unlock() error
	// Release drops this instance's lock contribution from every
	// reachable container without erroring; the Go analog of dropping
	// the last strong reference to a locked root.
	Release()

	// Zero writes zeros into every leaf. In-place: allowed while locked.
	Zero() error
	// FillAll writes value into every leaf. In-place.
	FillAll(value float64) error

	// Clone returns a deep copy with the same variant structure.
	Clone() (Dict, error)
	// ToTensorDict materializes the receiver into plain contiguous
	// storage, copying leaves.
	ToTensorDict() (*TensorDict, error)
	// Equal reports element-wise equality of structure and leaves.
	Equal(other Dict) bool

	// Permute reorders the batch dimensions (lazy).
	Permute(perm ...int) (Dict, error)
	// Transpose swaps two batch dimensions (lazy).
	Transpose(d0, d1 int) (Dict, error)
	// Squeeze removes a size-1 batch dimension (lazy).
	Squeeze(dim int) (Dict, error)
	// Unsqueeze inserts a size-1 batch dimension (lazy).
	Unsqueeze(dim int) (Dict, error)
	// Reshape views the batch shape as a new shape (lazy).
	Reshape(shape ...int) (Dict, error)
	// Index applies batch indexing terms (lazy; advanced terms void
	// the write-through identity law).
	Index(terms ...IndexTerm) (Dict, error)
	// Sub returns a write-through sub-view fixed at the given basic
	// index.
	Sub(terms ...IndexTerm) (Dict, error)

	// Memmap moves leaf storage into files under prefix. Only plain
	// and stacked tensordicts support it.
	Memmap(prefix string, opts ...MemmapOption) error

	// lockState exposes the lock graph node; nil for sub-views.
	lockState() *lockNode
	// lockChildren lists the containers reachable over lock
	// propagation edges: nested entries, stacked siblings, view
	// sources.
	lockChildren() []Dict
}

// joinPath renders a key path for error messages.
func joinPath(path []string) string {
	return strings.Join(path, "/")
}

// leafOf returns the value as a leaf, or nil.
func leafOf(v Value) *tensor.RawTensor {
	if l, ok := v.(*tensor.RawTensor); ok {
		return l
	}
	return nil
}

// dictOf returns the value as a Dict, or nil.
func dictOf(v Value) Dict {
	if d, ok := v.(Dict); ok {
		return d
	}
	return nil
}

// valueKind names a value's variant for error messages.
func valueKind(v Value) string {
	switch v.(type) {
	case *tensor.RawTensor:
		return "tensor"
	case *TensorDict:
		return "tensordict"
	case *ViewDict:
		return "lazy tensordict"
	case *StackedDict:
		return "stacked tensordict"
	case *SubDict:
		return "sub-tensordict"
	case map[string]Value:
		return "map"
	default:
		return "unsupported value"
	}
}
