package td

import (
	"github.com/born-ml/tensordict/internal/tensor"
)

// ViewDict is a zero-copy lazy proxy: a transform applied on top of a
// source tensordict. Reads apply the transform to source leaves,
// writes push values back through it into source storage. Applying
// the exact inverse transform on a ViewDict returns the original
// source, by pointer.
type ViewDict struct {
	source Dict
	op     transform
	node   lockNode
}

// newView wraps source in a lazy transform, collapsing
// transform-inverse pairs to the original source.
func newView(source Dict, op transform) (Dict, error) {
	if v, ok := source.(*ViewDict); ok && v.op.inverseOf(op) {
		return v.source, nil
	}
	if _, err := op.forwardShape(source.BatchSize()); err != nil {
		return nil, err
	}
	return &ViewDict{source: source, op: op, node: newLockNode()}, nil
}

// wrap re-applies the view's transform to a nested container without
// re-validating; nested batch sizes extend the source's.
func (v *ViewDict) wrap(nested Dict) Dict {
	return &ViewDict{source: nested, op: v.op, node: newLockNode()}
}

// Source returns the proxied tensordict.
func (v *ViewDict) Source() Dict { return v.source }

// BatchSize derives the batch shape from the source through the
// transform.
func (v *ViewDict) BatchSize() tensor.Shape {
	out, err := v.op.forwardShape(v.source.BatchSize())
	if err != nil {
		return nil
	}
	return out
}

// BatchDims returns the derived batch rank.
func (v *ViewDict) BatchDims() int { return len(v.BatchSize()) }

// SetBatchSize always fails: a view's batch size is derived.
func (v *ViewDict) SetBatchSize(tensor.Shape) error { return ErrBatchSizeDerived }

// Device returns the source device.
func (v *ViewDict) Device() (tensor.Device, bool) { return v.source.Device() }

// Names derives the dimension names through the transform.
func (v *ViewDict) Names() []string { return v.op.forwardNames(v.source.Names()) }

// Keys returns the source's sorted top-level keys.
func (v *ViewDict) Keys() []string {
	return cached(v, "keys", func() []string { return v.source.Keys() })
}

// NestedKeys returns the source's key paths.
func (v *ViewDict) NestedKeys(leavesOnly bool) [][]string {
	key := "nested:all"
	if leavesOnly {
		key = "nested:leaves"
	}
	return cached(v, key, func() [][]string { return v.source.NestedKeys(leavesOnly) })
}

// Get resolves a key path, applying the transform to leaves and
// wrapping nested containers.
func (v *ViewDict) Get(path ...string) (Value, error) {
	val, err := v.source.Get(path...)
	if err != nil {
		return nil, err
	}
	if leaf := leafOf(val); leaf != nil {
		return v.op.applyLeaf(leaf)
	}
	return v.wrap(dictOf(val)), nil
}

// GetLeaf resolves a key path and requires a leaf.
func (v *ViewDict) GetLeaf(path ...string) (*tensor.RawTensor, error) {
	val, err := v.Get(path...)
	if err != nil {
		return nil, err
	}
	leaf := leafOf(val)
	if leaf == nil {
		return nil, &TypeMismatchError{Key: joinPath(path), Got: valueKind(val), Want: "tensor"}
	}
	return leaf, nil
}

// Set pushes a view-shaped value backwards through the transform and
// inserts the result into the source, sharing storage. Fails with
// ErrNotInvertible when the transform has no inverse.
func (v *ViewDict) Set(value Value, path ...string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if v.IsLocked() {
		return ErrLocked
	}
	switch val := value.(type) {
	case *tensor.RawTensor:
		if !val.Shape().HasPrefix(v.BatchSize()) {
			return &ShapeMismatchError{Key: joinPath(path), Got: val.Shape(), Want: v.BatchSize()}
		}
		unapplied, err := v.op.unapplyLeaf(val)
		if err != nil {
			return err
		}
		return v.source.Set(unapplied, path...)
	case Dict:
		for _, p := range val.NestedKeys(true) {
			leaf, err := val.GetLeaf(p...)
			if err != nil {
				return err
			}
			if err := v.Set(leaf, append(append([]string(nil), path...), p...)...); err != nil {
				return err
			}
		}
		return nil
	case map[string]Value:
		nested, err := New(val, WithBatchSize(v.BatchSize()...))
		if err != nil {
			return err
		}
		return v.Set(nested, path...)
	default:
		return &TypeMismatchError{Key: joinPath(path), Got: valueKind(value), Want: "tensor or tensordict"}
	}
}

// SetInPlace writes a view-shaped value through the transform into the
// existing source storage. Permitted while locked.
func (v *ViewDict) SetInPlace(value Value, path ...string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	switch val := value.(type) {
	case *tensor.RawTensor:
		srcLeaf, err := v.source.GetLeaf(path...)
		if err != nil {
			return err
		}
		want, err := v.op.forwardShape(srcLeaf.Shape())
		if err != nil {
			return err
		}
		if !val.Shape().Equal(want) {
			return &ShapeMismatchError{Key: joinPath(path), Got: val.Shape(), Want: want, Exact: true}
		}
		return v.op.writeLeaf(srcLeaf, val)
	case Dict:
		for _, p := range val.NestedKeys(true) {
			leaf, err := val.GetLeaf(p...)
			if err != nil {
				return err
			}
			if err := v.SetInPlace(leaf, append(append([]string(nil), path...), p...)...); err != nil {
				return err
			}
		}
		return nil
	default:
		return &TypeMismatchError{Key: joinPath(path), Got: valueKind(value), Want: "tensor or tensordict"}
	}
}

// Del removes the entry from the source. Structural.
func (v *ViewDict) Del(path ...string) error {
	if v.IsLocked() {
		return ErrLocked
	}
	return v.source.Del(path...)
}

// Pop removes the entry and returns its view-shaped value.
func (v *ViewDict) Pop(path ...string) (Value, error) {
	if v.IsLocked() {
		return nil, ErrLocked
	}
	val, err := v.Get(path...)
	if err != nil {
		return nil, err
	}
	if err := v.source.Del(path...); err != nil {
		return nil, err
	}
	return val, nil
}

// FlattenKeys returns a plain tensordict of sep-joined keys over the
// transformed leaves, sharing storage.
func (v *ViewDict) FlattenKeys(sep string) (Dict, error) {
	return cachedErr(v, "flatten:"+sep, func() (Dict, error) {
		return flattenKeys(v, sep)
	})
}

// UnflattenKeys splits sep-joined keys over the transformed leaves.
func (v *ViewDict) UnflattenKeys(sep string) (Dict, error) {
	return cachedErr(v, "unflatten:"+sep, func() (Dict, error) {
		return unflattenKeys(v, sep)
	})
}

// IsLocked reports whether the view or its source is locked.
func (v *ViewDict) IsLocked() bool {
	return v.node.selfLocked() || v.source.IsLocked()
}

// LockOwnerCount returns the number of distinct lock owners pinning
// the view itself.
func (v *ViewDict) LockOwnerCount() int { return len(ownerSet(v)) }

// Lock locks the view and everything reachable, source included.
func (v *ViewDict) Lock() error { return lockGraph(v) }

// Unlock re-enables mutation of the view and its source.
func (v *ViewDict) Unlock() error { return unlockGraph(v) }

// Release drops the view's lock contribution without erroring.
func (v *ViewDict) Release() { releaseGraph(v) }

func (v *ViewDict) lockState() *lockNode { return &v.node }

func (v *ViewDict) lockChildren() []Dict { return []Dict{v.source} }

// Zero writes zeros into the region of source storage the view
// aliases.
func (v *ViewDict) Zero() error { return v.FillAll(0) }

// FillAll writes value through the transform into every leaf. Index
// views touch only the rows they alias; every other transform covers
// the whole source.
func (v *ViewDict) FillAll(value float64) error {
	if _, ok := v.op.(*indexOp); !ok {
		return v.source.FillAll(value)
	}
	for _, p := range v.source.NestedKeys(true) {
		srcLeaf, err := v.source.GetLeaf(p...)
		if err != nil {
			return err
		}
		want, err := v.op.forwardShape(srcLeaf.Shape())
		if err != nil {
			return err
		}
		fill, err := tensor.Full(want, srcLeaf.DType(), srcLeaf.Device(), value)
		if err != nil {
			return err
		}
		if err := v.op.writeLeaf(srcLeaf, fill); err != nil {
			return err
		}
	}
	return nil
}

// Clone deep-copies the source and re-applies the transform.
func (v *ViewDict) Clone() (Dict, error) {
	src, err := v.source.Clone()
	if err != nil {
		return nil, err
	}
	return &ViewDict{source: src, op: v.op, node: newLockNode()}, nil
}

// ToTensorDict materializes the transformed leaves into contiguous
// storage.
func (v *ViewDict) ToTensorDict() (*TensorDict, error) { return materialize(v) }

// Equal reports element-wise equality of structure and leaves.
func (v *ViewDict) Equal(other Dict) bool { return dictsEqual(v, other) }

// Permute reorders the derived batch dimensions (lazy).
func (v *ViewDict) Permute(perm ...int) (Dict, error) {
	op, err := newPermuteOp(perm, v.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(v, op)
}

// Transpose swaps two derived batch dimensions (lazy).
func (v *ViewDict) Transpose(d0, d1 int) (Dict, error) {
	op, err := newTransposeOp(d0, d1, v.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(v, op)
}

// Squeeze removes a size-1 derived batch dimension (lazy).
func (v *ViewDict) Squeeze(dim int) (Dict, error) {
	op, err := newSqueezeOp(dim, v.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(v, op)
}

// Unsqueeze inserts a size-1 derived batch dimension (lazy).
func (v *ViewDict) Unsqueeze(dim int) (Dict, error) {
	op, err := newUnsqueezeOp(dim, v.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(v, op)
}

// Reshape views the derived batch shape as a new shape (lazy).
func (v *ViewDict) Reshape(shape ...int) (Dict, error) {
	op, err := newReshapeOp(tensor.Shape(shape), v.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(v, op)
}

// Index applies batch indexing terms on top of the view (lazy).
func (v *ViewDict) Index(terms ...IndexTerm) (Dict, error) {
	op, err := newIndexOp(terms, v.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(v, op)
}

// Sub returns a write-through sub-view fixed at the given basic index.
func (v *ViewDict) Sub(terms ...IndexTerm) (Dict, error) {
	return newSubDict(v, terms)
}

// Memmap is not supported on lazy views; materialize first.
func (v *ViewDict) Memmap(string, ...MemmapOption) error { return ErrMemmapOnView }

// materialize copies a container variant into plain contiguous
// storage.
func materialize(d Dict) (*TensorDict, error) {
	out, err := emptyLike(d)
	if err != nil {
		return nil, err
	}
	for _, key := range d.Keys() {
		val, err := d.Get(key)
		if err != nil {
			return nil, err
		}
		if leaf := leafOf(val); leaf != nil {
			c, err := leaf.Clone()
			if err != nil {
				return nil, err
			}
			out.insert(key, c)
			continue
		}
		nested, err := dictOf(val).ToTensorDict()
		if err != nil {
			return nil, err
		}
		out.insert(key, nested)
	}
	return out, nil
}
