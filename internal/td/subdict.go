package td

import (
	"github.com/born-ml/tensordict/internal/tensor"
)

// SubDict is a write-through proxy over a fixed batch index of its
// parent: reads alias the indexed region, in-place writes land in the
// parent's storage. It carries no storage and no lock state of its
// own, and structural mutation through it is prohibited.
type SubDict struct {
	parent Dict
	op     *indexOp
}

func newSubDict(parent Dict, terms []IndexTerm) (*SubDict, error) {
	op, err := newIndexOp(terms, parent.BatchSize())
	if err != nil {
		return nil, err
	}
	return &SubDict{parent: parent, op: op}, nil
}

// Parent returns the proxied tensordict.
func (s *SubDict) Parent() Dict { return s.parent }

// Root returns the outermost parent of a chain of sub-views.
func (s *SubDict) Root() Dict {
	if sub, ok := s.parent.(*SubDict); ok {
		return sub.Root()
	}
	return s.parent
}

// BatchSize derives the batch shape of the indexed region.
func (s *SubDict) BatchSize() tensor.Shape {
	out, err := s.op.forwardShape(s.parent.BatchSize())
	if err != nil {
		return nil
	}
	return out
}

// BatchDims returns the derived batch rank.
func (s *SubDict) BatchDims() int { return len(s.BatchSize()) }

// SetBatchSize always fails: a sub-view's batch size is derived.
func (s *SubDict) SetBatchSize(tensor.Shape) error { return ErrBatchSizeDerived }

// Device returns the parent device.
func (s *SubDict) Device() (tensor.Device, bool) { return s.parent.Device() }

// Names derives the dimension names through the index.
func (s *SubDict) Names() []string { return s.op.forwardNames(s.parent.Names()) }

// Keys returns the parent's sorted top-level keys.
func (s *SubDict) Keys() []string { return s.parent.Keys() }

// NestedKeys returns the parent's key paths.
func (s *SubDict) NestedKeys(leavesOnly bool) [][]string { return s.parent.NestedKeys(leavesOnly) }

// Get resolves a key path, aliasing the indexed region of parent
// leaves.
func (s *SubDict) Get(path ...string) (Value, error) {
	val, err := s.parent.Get(path...)
	if err != nil {
		return nil, err
	}
	if leaf := leafOf(val); leaf != nil {
		return s.op.applyLeaf(leaf)
	}
	return &SubDict{parent: dictOf(val), op: s.op}, nil
}

// GetLeaf resolves a key path and requires a leaf.
func (s *SubDict) GetLeaf(path ...string) (*tensor.RawTensor, error) {
	val, err := s.Get(path...)
	if err != nil {
		return nil, err
	}
	leaf := leafOf(val)
	if leaf == nil {
		return nil, &TypeMismatchError{Key: joinPath(path), Got: valueKind(val), Want: "tensor"}
	}
	return leaf, nil
}

// Set always fails: a sub-view has no parent-shaped storage for new
// keys, and existing keys must be written with SetInPlace.
func (s *SubDict) Set(value Value, path ...string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	_, err := s.parent.Get(path...)
	return &SubDictSetError{Key: joinPath(path), Existing: err == nil}
}

// SetInPlace writes value into the indexed region of the parent's
// existing storage. Permitted while locked.
func (s *SubDict) SetInPlace(value Value, path ...string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	switch val := value.(type) {
	case *tensor.RawTensor:
		parentLeaf, err := s.parent.GetLeaf(path...)
		if err != nil {
			return err
		}
		want, err := s.op.forwardShape(parentLeaf.Shape())
		if err != nil {
			return err
		}
		if !val.Shape().Equal(want) {
			return &ShapeMismatchError{Key: joinPath(path), Got: val.Shape(), Want: want, Exact: true}
		}
		return s.op.writeLeaf(parentLeaf, val)
	case Dict:
		for _, p := range val.NestedKeys(true) {
			leaf, err := val.GetLeaf(p...)
			if err != nil {
				return err
			}
			if err := s.SetInPlace(leaf, append(append([]string(nil), path...), p...)...); err != nil {
				return err
			}
		}
		return nil
	default:
		return &TypeMismatchError{Key: joinPath(path), Got: valueKind(value), Want: "tensor or tensordict"}
	}
}

// Del always fails: sub-views do not support structural mutation.
func (s *SubDict) Del(...string) error { return ErrSubDictDel }

// Pop always fails: sub-views do not support structural mutation.
func (s *SubDict) Pop(...string) (Value, error) { return nil, ErrSubDictDel }

// FlattenKeys returns a plain tensordict of sep-joined keys over the
// indexed leaves.
func (s *SubDict) FlattenKeys(sep string) (Dict, error) { return flattenKeys(s, sep) }

// UnflattenKeys splits sep-joined keys over the indexed leaves.
func (s *SubDict) UnflattenKeys(sep string) (Dict, error) { return unflattenKeys(s, sep) }

// IsLocked reports the parent's lock state.
func (s *SubDict) IsLocked() bool { return s.parent.IsLocked() }

// LockOwnerCount returns the parent's distinct lock owner count.
func (s *SubDict) LockOwnerCount() int { return len(ownerSet(s)) }

// Lock always fails; lock the parent instead.
func (s *SubDict) Lock() error { return ErrLockSubDict }

// Unlock always fails; unlock the parent instead.
func (s *SubDict) Unlock() error { return ErrLockSubDict }

// Release is a no-op: sub-views hold no lock state.
func (s *SubDict) Release() {}

func (s *SubDict) lockState() *lockNode { return nil }

func (s *SubDict) lockChildren() []Dict { return nil }

// Zero writes zeros into the indexed region of every leaf.
func (s *SubDict) Zero() error { return s.FillAll(0) }

// FillAll writes value into the indexed region of every leaf.
func (s *SubDict) FillAll(value float64) error {
	for _, p := range s.parent.NestedKeys(true) {
		parentLeaf, err := s.parent.GetLeaf(p...)
		if err != nil {
			return err
		}
		want, err := s.op.forwardShape(parentLeaf.Shape())
		if err != nil {
			return err
		}
		fill, err := tensor.Full(want, parentLeaf.DType(), parentLeaf.Device(), value)
		if err != nil {
			return err
		}
		if err := s.op.writeLeaf(parentLeaf, fill); err != nil {
			return err
		}
	}
	return nil
}

// Clone materializes the indexed region into plain storage.
func (s *SubDict) Clone() (Dict, error) { return materialize(s) }

// ToTensorDict materializes the indexed region into plain storage.
func (s *SubDict) ToTensorDict() (*TensorDict, error) { return materialize(s) }

// Equal reports element-wise equality of structure and leaves.
func (s *SubDict) Equal(other Dict) bool { return dictsEqual(s, other) }

// Permute reorders the derived batch dimensions (lazy).
func (s *SubDict) Permute(perm ...int) (Dict, error) {
	op, err := newPermuteOp(perm, s.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(s, op)
}

// Transpose swaps two derived batch dimensions (lazy).
func (s *SubDict) Transpose(d0, d1 int) (Dict, error) {
	op, err := newTransposeOp(d0, d1, s.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(s, op)
}

// Squeeze removes a size-1 derived batch dimension (lazy).
func (s *SubDict) Squeeze(dim int) (Dict, error) {
	op, err := newSqueezeOp(dim, s.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(s, op)
}

// Unsqueeze inserts a size-1 derived batch dimension (lazy).
func (s *SubDict) Unsqueeze(dim int) (Dict, error) {
	op, err := newUnsqueezeOp(dim, s.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(s, op)
}

// Reshape views the derived batch shape as a new shape (lazy).
func (s *SubDict) Reshape(shape ...int) (Dict, error) {
	op, err := newReshapeOp(tensor.Shape(shape), s.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(s, op)
}

// Index applies batch indexing terms on top of the sub-view (lazy).
func (s *SubDict) Index(terms ...IndexTerm) (Dict, error) {
	op, err := newIndexOp(terms, s.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(s, op)
}

// Sub narrows the sub-view further.
func (s *SubDict) Sub(terms ...IndexTerm) (Dict, error) {
	return newSubDict(s, terms)
}

// Memmap is not supported on sub-views; memmap the parent instead.
func (s *SubDict) Memmap(string, ...MemmapOption) error { return ErrMemmapOnSubDict }
