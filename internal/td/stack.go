package td

import (
	"fmt"
	"sort"

	"github.com/born-ml/tensordict/internal/tensor"
)

// StackedDict composes sibling tensordicts of equal batch size along a
// new batch dimension without copying. Leaves materialize on read by
// stacking the siblings' entries; writes distribute slices back.
//
// The visible key set is the intersection of the siblings' keys,
// discovered on read: it can grow or shrink as siblings gain or lose
// keys, except while locked, when enumerations are cached.
type StackedDict struct {
	dicts    []Dict
	stackDim int
	node     lockNode

	memmapped bool
	memmapDir string
}

// NewStacked stacks the given tensordicts along a new batch dimension
// at position dim. All siblings must share the batch size and, when
// enforced, the device.
func NewStacked(dim int, dicts ...Dict) (*StackedDict, error) {
	if len(dicts) == 0 {
		return nil, ErrStackEmpty
	}
	batch := dicts[0].BatchSize()
	dev, hasDev := dicts[0].Device()
	for i, d := range dicts[1:] {
		if !d.BatchSize().Equal(batch) {
			return nil, &BatchSizeMismatchError{Index: i + 1, Got: d.BatchSize(), Want: batch}
		}
		odev, ok := d.Device()
		if hasDev != ok || (hasDev && odev != dev) {
			return nil, &DeviceMismatchError{Index: i + 1, Got: deviceName(odev, ok), Want: deviceName(dev, hasDev)}
		}
	}
	d, err := tensor.NormalizeDim(dim, len(batch), 1)
	if err != nil {
		return nil, err
	}
	return &StackedDict{dicts: dicts, stackDim: d, node: newLockNode()}, nil
}

func deviceName(d tensor.Device, ok bool) string {
	if !ok {
		return "none"
	}
	return d.String()
}

// Siblings returns the stacked tensordicts in order.
func (s *StackedDict) Siblings() []Dict { return s.dicts }

// StackDim returns the position of the stacking dimension.
func (s *StackedDict) StackDim() int { return s.stackDim }

// Len returns the number of siblings.
func (s *StackedDict) Len() int { return len(s.dicts) }

// BatchSize derives the batch shape from the siblings with the stack
// count inserted.
func (s *StackedDict) BatchSize() tensor.Shape {
	return s.dicts[0].BatchSize().Insert(s.stackDim, len(s.dicts))
}

// BatchDims returns the derived batch rank.
func (s *StackedDict) BatchDims() int { return len(s.BatchSize()) }

// SetBatchSize always fails: a stacked batch size is derived.
func (s *StackedDict) SetBatchSize(tensor.Shape) error { return ErrBatchSizeDerived }

// Device returns the siblings' uniform device, if enforced.
func (s *StackedDict) Device() (tensor.Device, bool) { return s.dicts[0].Device() }

// Names derives the dimension names with an unnamed stack dimension.
func (s *StackedDict) Names() []string {
	names := s.dicts[0].Names()
	if names == nil {
		return nil
	}
	out := append([]string(nil), names[:s.stackDim]...)
	out = append(out, "")
	return append(out, names[s.stackDim:]...)
}

// Keys returns the sorted intersection of the siblings' top-level
// keys.
func (s *StackedDict) Keys() []string {
	return cached(s, "keys", func() []string {
		counts := make(map[string]int)
		for _, d := range s.dicts {
			for _, k := range d.Keys() {
				counts[k]++
			}
		}
		var out []string
		for k, n := range counts {
			if n == len(s.dicts) {
				out = append(out, k)
			}
		}
		sort.Strings(out)
		return out
	})
}

// NestedKeys returns the visible key paths in depth-first sorted
// order.
func (s *StackedDict) NestedKeys(leavesOnly bool) [][]string {
	key := "nested:all"
	if leavesOnly {
		key = "nested:leaves"
	}
	return cached(s, key, func() [][]string {
		return collectNestedKeys(s, leavesOnly)
	})
}

// keyPresence counts the siblings holding key.
func (s *StackedDict) keyPresence(key string) int {
	n := 0
	for _, d := range s.dicts {
		for _, k := range d.Keys() {
			if k == key {
				n++
				break
			}
		}
	}
	return n
}

// Get resolves a key path. Leaves materialize by stacking the
// siblings' entries, which requires uniform shapes; nested containers
// stack lazily.
func (s *StackedDict) Get(path ...string) (Value, error) {
	if len(path) == 0 {
		return nil, &KeyMissingError{Path: path}
	}
	key := path[0]
	present := s.keyPresence(key)
	if present == 0 {
		return nil, &KeyMissingError{Path: path, Keys: s.Keys()}
	}
	if present < len(s.dicts) {
		return nil, &PartialKeyError{Key: key, Present: present, Total: len(s.dicts)}
	}

	values := make([]Value, len(s.dicts))
	leaves := 0
	for i, d := range s.dicts {
		v, err := d.Get(key)
		if err != nil {
			return nil, err
		}
		values[i] = v
		if leafOf(v) != nil {
			leaves++
		}
	}

	var stacked Value
	switch leaves {
	case len(s.dicts):
		ts := make([]*tensor.RawTensor, len(values))
		shape := leafOf(values[0]).Shape()
		for i, v := range values {
			ts[i] = leafOf(v)
			if !ts[i].Shape().Equal(shape) {
				return nil, &NonUniqueShapeError{Key: key}
			}
		}
		out, err := tensor.Stack(ts, s.stackDim)
		if err != nil {
			return nil, err
		}
		stacked = out
	case 0:
		nested := make([]Dict, len(values))
		for i, v := range values {
			nested[i] = dictOf(v)
		}
		out, err := NewStacked(s.stackDim, nested...)
		if err != nil {
			return nil, err
		}
		stacked = out
	default:
		return nil, &TypeMismatchError{Key: key, Got: "mixed tensors and tensordicts", Want: "a uniform entry kind"}
	}

	if len(path) == 1 {
		return stacked, nil
	}
	nested := dictOf(stacked)
	if nested == nil {
		return nil, &TypeMismatchError{Key: key, Got: valueKind(stacked), Want: "tensordict"}
	}
	return nested.Get(path[1:]...)
}

// GetLeaf resolves a key path and requires a leaf.
func (s *StackedDict) GetLeaf(path ...string) (*tensor.RawTensor, error) {
	v, err := s.Get(path...)
	if err != nil {
		return nil, err
	}
	leaf := leafOf(v)
	if leaf == nil {
		return nil, &TypeMismatchError{Key: joinPath(path), Got: valueKind(v), Want: "tensor"}
	}
	return leaf, nil
}

// GetRagged returns the siblings' leaves at path without stacking, for
// keys whose shapes differ across siblings. Only meaningful when the
// stack dimension is the leading one.
func (s *StackedDict) GetRagged(path ...string) ([]*tensor.RawTensor, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	if s.stackDim != 0 {
		return nil, fmt.Errorf("ragged access requires stacking along dimension 0, not %d", s.stackDim)
	}
	present := s.keyPresence(path[0])
	if present == 0 {
		return nil, &KeyMissingError{Path: path, Keys: s.Keys()}
	}
	if present < len(s.dicts) {
		return nil, &PartialKeyError{Key: path[0], Present: present, Total: len(s.dicts)}
	}
	out := make([]*tensor.RawTensor, len(s.dicts))
	for i, d := range s.dicts {
		leaf, err := d.GetLeaf(path...)
		if err != nil {
			return nil, err
		}
		out[i] = leaf
	}
	return out, nil
}

// sliceValue extracts sibling i's portion of a stacked-shaped value.
func (s *StackedDict) sliceValue(value Value, i int) (Value, error) {
	switch v := value.(type) {
	case *tensor.RawTensor:
		return v.Select(s.stackDim, i)
	case Dict:
		terms := make([]IndexTerm, 0, s.stackDim+1)
		for d := 0; d < s.stackDim; d++ {
			terms = append(terms, All())
		}
		terms = append(terms, At(i))
		return v.Index(terms...)
	default:
		return nil, &TypeMismatchError{Got: valueKind(value), Want: "tensor or tensordict"}
	}
}

// Set distributes slices of a stacked-shaped value to the siblings.
// Structural.
func (s *StackedDict) Set(value Value, path ...string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if s.IsLocked() {
		return ErrLocked
	}
	if s.memmapped {
		return ErrMemmapStructural
	}
	value, err := normalizeStackValue(value, s.BatchSize())
	if err != nil {
		return err
	}
	if err := checkStackPrefix(value, s.BatchSize(), path); err != nil {
		return err
	}
	for i, d := range s.dicts {
		slice, err := s.sliceValue(value, i)
		if err != nil {
			return err
		}
		if err := d.Set(slice, path...); err != nil {
			return err
		}
	}
	return nil
}

func normalizeStackValue(value Value, batch tensor.Shape) (Value, error) {
	if m, ok := value.(map[string]Value); ok {
		return New(m, WithBatchSize(batch...))
	}
	return value, nil
}

func checkStackPrefix(value Value, batch tensor.Shape, path []string) error {
	switch v := value.(type) {
	case *tensor.RawTensor:
		if !v.Shape().HasPrefix(batch) {
			return &ShapeMismatchError{Key: joinPath(path), Got: v.Shape(), Want: batch}
		}
	case Dict:
		if !v.BatchSize().HasPrefix(batch) {
			return &ShapeMismatchError{Key: joinPath(path), Got: v.BatchSize(), Want: batch}
		}
	}
	return nil
}

// SetInPlace distributes slices into the siblings' existing storage.
// Permitted while locked.
func (s *StackedDict) SetInPlace(value Value, path ...string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	value, err := normalizeStackValue(value, s.BatchSize())
	if err != nil {
		return err
	}
	if err := checkStackPrefix(value, s.BatchSize(), path); err != nil {
		return err
	}
	for i, d := range s.dicts {
		slice, err := s.sliceValue(value, i)
		if err != nil {
			return err
		}
		if err := d.SetInPlace(slice, path...); err != nil {
			return err
		}
	}
	return nil
}

// Del removes the entry from every sibling. Structural.
func (s *StackedDict) Del(path ...string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if s.IsLocked() {
		return ErrLocked
	}
	if s.memmapped {
		return ErrMemmapStructural
	}
	present := s.keyPresence(path[0])
	if present == 0 {
		return &KeyMissingError{Path: path, Keys: s.Keys()}
	}
	if present < len(s.dicts) {
		return &PartialKeyError{Key: path[0], Present: present, Total: len(s.dicts)}
	}
	for _, d := range s.dicts {
		if err := d.Del(path...); err != nil {
			return err
		}
	}
	return nil
}

// Pop removes the entry and returns its stacked value.
func (s *StackedDict) Pop(path ...string) (Value, error) {
	if s.IsLocked() {
		return nil, ErrLocked
	}
	v, err := s.Get(path...)
	if err != nil {
		return nil, err
	}
	if err := s.Del(path...); err != nil {
		return nil, err
	}
	return v, nil
}

// Insert adds a sibling at position i. Structural.
func (s *StackedDict) Insert(i int, d Dict) error {
	if s.IsLocked() {
		return ErrLocked
	}
	if s.memmapped {
		return ErrMemmapStructural
	}
	if i < 0 || i > len(s.dicts) {
		return fmt.Errorf("insert position %d is out of bounds for %d stacked tensordicts", i, len(s.dicts))
	}
	if !d.BatchSize().Equal(s.dicts[0].BatchSize()) {
		return &BatchSizeMismatchError{Index: i, Got: d.BatchSize(), Want: s.dicts[0].BatchSize()}
	}
	dev, hasDev := s.dicts[0].Device()
	odev, ok := d.Device()
	if hasDev != ok || (hasDev && odev != dev) {
		return &DeviceMismatchError{Index: i, Got: deviceName(odev, ok), Want: deviceName(dev, hasDev)}
	}
	s.dicts = append(s.dicts, nil)
	copy(s.dicts[i+1:], s.dicts[i:])
	s.dicts[i] = d
	return nil
}

// Append adds a sibling at the end. Structural.
func (s *StackedDict) Append(d Dict) error { return s.Insert(len(s.dicts), d) }

// FlattenKeys stacks the siblings' flattened forms, staying lazy.
func (s *StackedDict) FlattenKeys(sep string) (Dict, error) {
	return cachedErr(s, "flatten:"+sep, func() (Dict, error) {
		flat := make([]Dict, len(s.dicts))
		for i, d := range s.dicts {
			f, err := d.FlattenKeys(sep)
			if err != nil {
				return nil, err
			}
			flat[i] = f
		}
		return NewStacked(s.stackDim, flat...)
	})
}

// UnflattenKeys stacks the siblings' nested forms, staying lazy.
func (s *StackedDict) UnflattenKeys(sep string) (Dict, error) {
	return cachedErr(s, "unflatten:"+sep, func() (Dict, error) {
		nested := make([]Dict, len(s.dicts))
		for i, d := range s.dicts {
			n, err := d.UnflattenKeys(sep)
			if err != nil {
				return nil, err
			}
			nested[i] = n
		}
		return NewStacked(s.stackDim, nested...)
	})
}

// IsLocked reports whether the composite is locked, explicitly or
// because every sibling is.
func (s *StackedDict) IsLocked() bool {
	if s.node.selfLocked() {
		return true
	}
	for _, d := range s.dicts {
		if !d.IsLocked() {
			return false
		}
	}
	return true
}

// LockOwnerCount returns the distinct lock owners pinning the
// composite: its own plus the union of its siblings', the siblings
// themselves excluded.
func (s *StackedDict) LockOwnerCount() int { return len(ownerSet(s)) }

// Lock locks the composite and all siblings.
func (s *StackedDict) Lock() error { return lockGraph(s) }

// Unlock re-enables mutation of the composite and its siblings.
func (s *StackedDict) Unlock() error { return unlockGraph(s) }

// Release drops the composite's lock contribution without erroring.
func (s *StackedDict) Release() { releaseGraph(s) }

func (s *StackedDict) lockState() *lockNode { return &s.node }

func (s *StackedDict) lockChildren() []Dict { return s.dicts }

// Zero writes zeros into every sibling.
func (s *StackedDict) Zero() error { return s.FillAll(0) }

// FillAll writes value into every sibling.
func (s *StackedDict) FillAll(value float64) error {
	for _, d := range s.dicts {
		if err := d.FillAll(value); err != nil {
			return err
		}
	}
	return nil
}

// Clone deep-copies every sibling and restacks them.
func (s *StackedDict) Clone() (Dict, error) {
	clones := make([]Dict, len(s.dicts))
	for i, d := range s.dicts {
		c, err := d.Clone()
		if err != nil {
			return nil, err
		}
		clones[i] = c
	}
	return NewStacked(s.stackDim, clones...)
}

// ToTensorDict materializes the stacked leaves into contiguous
// storage.
func (s *StackedDict) ToTensorDict() (*TensorDict, error) { return materialize(s) }

// Contiguous is an alias for ToTensorDict.
func (s *StackedDict) Contiguous() (*TensorDict, error) { return s.ToTensorDict() }

// Equal reports element-wise equality of structure and leaves.
func (s *StackedDict) Equal(other Dict) bool { return dictsEqual(s, other) }

// Permute reorders the derived batch dimensions (lazy).
func (s *StackedDict) Permute(perm ...int) (Dict, error) {
	op, err := newPermuteOp(perm, s.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(s, op)
}

// Transpose swaps two derived batch dimensions (lazy).
func (s *StackedDict) Transpose(d0, d1 int) (Dict, error) {
	op, err := newTransposeOp(d0, d1, s.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(s, op)
}

// Squeeze removes a size-1 derived batch dimension (lazy).
func (s *StackedDict) Squeeze(dim int) (Dict, error) {
	op, err := newSqueezeOp(dim, s.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(s, op)
}

// Unsqueeze inserts a size-1 derived batch dimension (lazy).
func (s *StackedDict) Unsqueeze(dim int) (Dict, error) {
	op, err := newUnsqueezeOp(dim, s.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(s, op)
}

// Reshape views the derived batch shape as a new shape (lazy).
func (s *StackedDict) Reshape(shape ...int) (Dict, error) {
	op, err := newReshapeOp(tensor.Shape(shape), s.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(s, op)
}

// Index applies batch indexing terms (lazy).
func (s *StackedDict) Index(terms ...IndexTerm) (Dict, error) {
	op, err := newIndexOp(terms, s.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(s, op)
}

// Sub returns a write-through sub-view fixed at the given basic index.
func (s *StackedDict) Sub(terms ...IndexTerm) (Dict, error) {
	return newSubDict(s, terms)
}
