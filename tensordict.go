// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensordict

import (
	"github.com/rs/zerolog"

	"github.com/born-ml/tensordict/internal/serialization"
	"github.com/born-ml/tensordict/internal/td"
)

// Type aliases for public API

// Dict is the capability shared by every tensordict variant.
type Dict = td.Dict

// Value is the content of an entry: a tensor leaf or a nested Dict.
type Value = td.Value

// TensorDict is the plain storage container.
type TensorDict = td.TensorDict

// ViewDict is a zero-copy lazy transform proxy.
type ViewDict = td.ViewDict

// StackedDict is a lazy stacked composite of sibling containers.
type StackedDict = td.StackedDict

// SubDict is a write-through view over a fixed batch index.
type SubDict = td.SubDict

// IndexTerm is one element of a batch index expression.
type IndexTerm = td.IndexTerm

// Option configures construction of a TensorDict.
type Option = td.Option

// MemmapOption configures memmap conversion.
type MemmapOption = td.MemmapOption

// Construction.

// New builds a TensorDict from a possibly nested mapping.
func New(src map[string]Value, opts ...Option) (*TensorDict, error) {
	return td.New(src, opts...)
}

// NewStacked stacks tensordicts along a new batch dimension at dim.
func NewStacked(dim int, dicts ...Dict) (*StackedDict, error) {
	return td.NewStacked(dim, dicts...)
}

// Load reconstructs a memmapped tensordict from its sidecar files.
func Load(prefix string) (Dict, error) {
	return td.Load(prefix)
}

// Construction options.

// WithBatchSize fixes the batch size instead of inferring it.
func WithBatchSize(dims ...int) Option { return td.WithBatchSize(dims...) }

// WithDevice enforces a uniform device on all leaves.
func WithDevice(d Device) Option { return td.WithDevice(d) }

// WithNames assigns batch dimension names.
func WithNames(names ...string) Option { return td.WithNames(names...) }

// CopyExisting permits re-memmapping under a new prefix by copying.
func CopyExisting() MemmapOption { return td.CopyExisting() }

// Index terms.

// At fixes a dimension at index i, removing it.
func At(i int) IndexTerm { return td.At(i) }

// Range slices a dimension to [start, stop).
func Range(start, stop int) IndexTerm { return td.Range(start, stop) }

// RangeStep slices a dimension to [start, stop) with a positive step.
func RangeStep(start, stop, step int) IndexTerm { return td.RangeStep(start, stop, step) }

// All keeps a dimension untouched.
func All() IndexTerm { return td.All() }

// NewAxis inserts a size-1 dimension.
func NewAxis() IndexTerm { return td.NewAxis() }

// Ellipsis expands to as many All terms as needed.
func Ellipsis() IndexTerm { return td.Ellipsis() }

// Mask selects by a boolean tensor, collapsing the covered dimensions.
func Mask(m *RawTensor) IndexTerm { return td.Mask(m) }

// Pick selects an explicit list of indices along a dimension.
func Pick(indices ...int) IndexTerm { return td.Pick(indices...) }

// Errors.
var (
	ErrLocked           = td.ErrLocked
	ErrLockedGraph      = td.ErrLockedGraph
	ErrLockSubDict      = td.ErrLockSubDict
	ErrBatchSizeDerived = td.ErrBatchSizeDerived
	ErrMemmapOnView     = td.ErrMemmapOnView
	ErrMemmapOnSubDict  = td.ErrMemmapOnSubDict
	ErrAlreadyMemmapped = td.ErrAlreadyMemmapped
	ErrMemmapStructural = td.ErrMemmapStructural
	ErrStackEmpty       = td.ErrStackEmpty
	ErrSubDictDel       = td.ErrSubDictDel
	ErrNotInvertible    = td.ErrNotInvertible
)

// Typed errors.
type (
	// ShapeMismatchError reports a batch-prefix or exact-shape violation.
	ShapeMismatchError = td.ShapeMismatchError
	// KeyMissingError reports an access to an absent key path.
	KeyMissingError = td.KeyMissingError
	// KeyCollisionError reports an aliasing flatten/unflatten or rename.
	KeyCollisionError = td.KeyCollisionError
	// TypeMismatchError reports a wrong value or index type.
	TypeMismatchError = td.TypeMismatchError
	// DeviceMismatchError reports inconsistent sibling devices.
	DeviceMismatchError = td.DeviceMismatchError
	// BatchSizeMismatchError reports inconsistent sibling batch sizes.
	BatchSizeMismatchError = td.BatchSizeMismatchError
	// PartialKeyError reports a stacked key held by only some siblings.
	PartialKeyError = td.PartialKeyError
	// NonUniqueShapeError reports stacking over differing leaf shapes.
	NonUniqueShapeError = td.NonUniqueShapeError
	// SubDictSetError reports a structural set through a sub-view.
	SubDictSetError = td.SubDictSetError
)

// SetLogger installs a logger for persistence operations. The package
// is silent by default.
func SetLogger(l zerolog.Logger) {
	serialization.SetLogger(l)
}
