package td

import (
	"fmt"
	"sort"

	"github.com/born-ml/tensordict/internal/tensor"
)

// TensorDict is the plain container variant: an ordered mapping from
// key atoms to leaves or nested containers, all sharing the batch
// size as a leading shape prefix.
type TensorDict struct {
	batchSize tensor.Shape
	device    *tensor.Device
	names     []string
	keyOrder  []string
	entries   map[string]Value
	node      lockNode

	memmapped bool
	memmapDir string
}

// Option configures construction of a TensorDict.
type Option func(*config)

type config struct {
	batchSize tensor.Shape
	hasBatch  bool
	device    *tensor.Device
	names     []string
}

// WithBatchSize fixes the batch size instead of inferring it.
func WithBatchSize(dims ...int) Option {
	return func(c *config) {
		c.batchSize = tensor.Shape(dims).Clone()
		c.hasBatch = true
	}
}

// WithDevice enforces a uniform device; inserted leaves are cast to it.
func WithDevice(d tensor.Device) Option {
	return func(c *config) {
		dev := d
		c.device = &dev
	}
}

// WithNames assigns batch dimension names; empty atoms leave a
// dimension unnamed.
func WithNames(names ...string) Option {
	return func(c *config) {
		c.names = append([]string(nil), names...)
	}
}

// New builds a TensorDict from a possibly nested mapping. Values may
// be *tensor.RawTensor leaves, Dict containers, or map[string]Value
// literals (converted to nested TensorDicts). When no batch size is
// given it is inferred as the longest common leading shape prefix of
// the top-level entries.
func New(src map[string]Value, opts ...Option) (*TensorDict, error) {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}

	batch := cfg.batchSize
	if !cfg.hasBatch {
		var err error
		batch, err = inferBatchSize(src)
		if err != nil {
			return nil, err
		}
	}
	if err := batch.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch size: %w", err)
	}

	t := &TensorDict{
		batchSize: batch.Clone(),
		device:    cfg.device,
		entries:   make(map[string]Value, len(src)),
		node:      newLockNode(),
	}
	if cfg.names != nil {
		if err := t.SetNames(cfg.names...); err != nil {
			return nil, err
		}
	}

	for _, key := range sortedMapKeys(src) {
		if err := t.Set(src[key], key); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Empty returns a TensorDict with the same batch size, device and
// names but no entries.
func (t *TensorDict) Empty() *TensorDict {
	return &TensorDict{
		batchSize: t.batchSize.Clone(),
		device:    t.device,
		names:     append([]string(nil), t.names...),
		entries:   make(map[string]Value),
		node:      newLockNode(),
	}
}

func sortedMapKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// inferBatchSize computes the longest common leading shape prefix
// across the top-level entries.
func inferBatchSize(src map[string]Value) (tensor.Shape, error) {
	var batch tensor.Shape
	first := true
	for _, key := range sortedMapKeys(src) {
		var s tensor.Shape
		switch v := src[key].(type) {
		case *tensor.RawTensor:
			s = v.Shape()
		case Dict:
			s = v.BatchSize()
		case map[string]Value:
			nested, err := inferBatchSize(v)
			if err != nil {
				return nil, err
			}
			s = nested
		default:
			return nil, &TypeMismatchError{Key: key, Got: valueKind(src[key]), Want: "tensor or tensordict"}
		}
		if first {
			batch = s.Clone()
			first = false
			continue
		}
		batch = batch.CommonPrefix(s)
	}
	return batch, nil
}

// BatchSize returns the enforced leading shape prefix.
func (t *TensorDict) BatchSize() tensor.Shape { return t.batchSize }

// BatchDims returns the batch rank.
func (t *TensorDict) BatchDims() int { return len(t.batchSize) }

// Device returns the uniform device, if one is enforced.
func (t *TensorDict) Device() (tensor.Device, bool) {
	if t.device == nil {
		return 0, false
	}
	return *t.device, true
}

// Names returns the batch dimension names, nil when none are set.
func (t *TensorDict) Names() []string { return t.names }

// SetNames assigns batch dimension names. Non-empty names must be
// unique and the name count must match the batch rank.
func (t *TensorDict) SetNames(names ...string) error {
	if len(names) != len(t.batchSize) {
		return fmt.Errorf("expected %d dimension names, got %d", len(t.batchSize), len(names))
	}
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			return fmt.Errorf("duplicate dimension name %q", n)
		}
		seen[n] = struct{}{}
	}
	t.names = append([]string(nil), names...)
	return nil
}

// Len returns the number of top-level entries.
func (t *TensorDict) Len() int { return len(t.keyOrder) }

// IsMemmap reports whether leaf storage lives in memory-mapped files.
func (t *TensorDict) IsMemmap() bool { return t.memmapped }

// MemmapPrefix returns the backing directory of a memmapped
// TensorDict, empty otherwise.
func (t *TensorDict) MemmapPrefix() string { return t.memmapDir }

// SetBatchSize resizes the batch shape. Every leaf must keep the new
// shape as a prefix; the first violating key is reported. Nested
// containers with shorter batch sizes are resized recursively.
func (t *TensorDict) SetBatchSize(shape tensor.Shape) error {
	if t.IsLocked() {
		return ErrLocked
	}
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("invalid batch size: %w", err)
	}
	if err := t.checkBatchResize(shape, nil); err != nil {
		return err
	}
	t.applyBatchResize(shape)
	return nil
}

func (t *TensorDict) checkBatchResize(shape tensor.Shape, prefix []string) error {
	for _, key := range t.keyOrder {
		path := append(append([]string(nil), prefix...), key)
		switch v := t.entries[key].(type) {
		case *tensor.RawTensor:
			if !v.Shape().HasPrefix(shape) {
				return &ShapeMismatchError{Key: joinPath(path), Got: v.Shape(), Want: shape}
			}
		case *TensorDict:
			if v.BatchSize().HasPrefix(shape) {
				continue
			}
			if err := v.checkBatchResize(shape, path); err != nil {
				return err
			}
		case Dict:
			if !v.BatchSize().HasPrefix(shape) {
				return &ShapeMismatchError{Key: joinPath(path), Got: v.BatchSize(), Want: shape}
			}
		}
	}
	return nil
}

func (t *TensorDict) applyBatchResize(shape tensor.Shape) {
	if len(shape) != len(t.batchSize) {
		t.names = nil
	}
	t.batchSize = shape.Clone()
	for _, key := range t.keyOrder {
		if nested, ok := t.entries[key].(*TensorDict); ok {
			if !nested.BatchSize().HasPrefix(shape) {
				nested.applyBatchResize(shape)
			}
		}
	}
}

// Keys returns the sorted top-level keys. While locked, the same
// slice is returned on repeated calls.
func (t *TensorDict) Keys() []string {
	return cached(t, "keys", func() []string {
		keys := append([]string(nil), t.keyOrder...)
		sort.Strings(keys)
		return keys
	})
}

// Has reports whether a key path resolves.
func (t *TensorDict) Has(path ...string) bool {
	_, err := t.Get(path...)
	return err == nil
}

// NestedKeys returns every key path in depth-first sorted order.
func (t *TensorDict) NestedKeys(leavesOnly bool) [][]string {
	key := "nested:all"
	if leavesOnly {
		key = "nested:leaves"
	}
	return cached(t, key, func() [][]string {
		return collectNestedKeys(t, leavesOnly)
	})
}

func collectNestedKeys(d Dict, leavesOnly bool) [][]string {
	var out [][]string
	for _, key := range d.Keys() {
		v, err := d.Get(key)
		if err != nil {
			continue
		}
		if nested := dictOf(v); nested != nil {
			if !leavesOnly {
				out = append(out, []string{key})
			}
			for _, sub := range nested.NestedKeys(leavesOnly) {
				out = append(out, append([]string{key}, sub...))
			}
			continue
		}
		out = append(out, []string{key})
	}
	return out
}

// Get resolves a key path to its value.
func (t *TensorDict) Get(path ...string) (Value, error) {
	if len(path) == 0 {
		return nil, &KeyMissingError{Path: path}
	}
	v, ok := t.entries[path[0]]
	if !ok {
		return nil, &KeyMissingError{Path: path, Keys: t.Keys()}
	}
	if len(path) == 1 {
		return v, nil
	}
	nested := dictOf(v)
	if nested == nil {
		return nil, &TypeMismatchError{Key: path[0], Got: valueKind(v), Want: "tensordict"}
	}
	return nested.Get(path[1:]...)
}

// GetLeaf resolves a key path and requires a leaf.
func (t *TensorDict) GetLeaf(path ...string) (*tensor.RawTensor, error) {
	v, err := t.Get(path...)
	if err != nil {
		return nil, err
	}
	leaf := leafOf(v)
	if leaf == nil {
		return nil, &TypeMismatchError{Key: joinPath(path), Got: valueKind(v), Want: "tensor"}
	}
	return leaf, nil
}

// GetDict resolves a key path and requires a nested container.
func (t *TensorDict) GetDict(path ...string) (Dict, error) {
	v, err := t.Get(path...)
	if err != nil {
		return nil, err
	}
	nested := dictOf(v)
	if nested == nil {
		return nil, &TypeMismatchError{Key: joinPath(path), Got: valueKind(v), Want: "tensordict"}
	}
	return nested, nil
}

// normalizeValue converts construction literals and reconciles the
// device; it does not validate shapes.
func (t *TensorDict) normalizeValue(value Value) (Value, error) {
	switch v := value.(type) {
	case map[string]Value:
		opts := []Option{WithBatchSize(t.batchSize...)}
		if t.device != nil {
			opts = append(opts, WithDevice(*t.device))
		}
		return New(v, opts...)
	case *tensor.RawTensor:
		if t.device != nil {
			return v.ToDevice(*t.device), nil
		}
		return v, nil
	case Dict:
		return v, nil
	default:
		return nil, &TypeMismatchError{Got: valueKind(value), Want: "tensor or tensordict"}
	}
}

// validateEntry enforces the batch-prefix invariant for an insertion.
func (t *TensorDict) validateEntry(value Value, path []string) error {
	switch v := value.(type) {
	case *tensor.RawTensor:
		if !v.Shape().HasPrefix(t.batchSize) {
			return &ShapeMismatchError{Key: joinPath(path), Got: v.Shape(), Want: t.batchSize}
		}
	case Dict:
		if !v.BatchSize().HasPrefix(t.batchSize) {
			return &ShapeMismatchError{Key: joinPath(path), Got: v.BatchSize(), Want: t.batchSize}
		}
	}
	return nil
}

// Set inserts or replaces the value at path, creating intermediate
// containers. All-or-nothing: validation happens before any mutation.
func (t *TensorDict) Set(value Value, path ...string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if t.IsLocked() {
		return ErrLocked
	}
	if t.memmapped {
		return ErrMemmapStructural
	}
	v, err := t.normalizeValue(value)
	if err != nil {
		return err
	}
	if err := t.validateEntry(v, path); err != nil {
		return err
	}

	if len(path) == 1 {
		t.insert(path[0], v)
		return nil
	}

	child, created, err := t.childForSet(path[0])
	if err != nil {
		return err
	}
	if err := child.Set(v, path[1:]...); err != nil {
		if created {
			delete(t.entries, path[0])
			t.keyOrder = removeKey(t.keyOrder, path[0])
		}
		return err
	}
	return nil
}

func (t *TensorDict) childForSet(key string) (Dict, bool, error) {
	if v, ok := t.entries[key]; ok {
		nested := dictOf(v)
		if nested == nil {
			return nil, false, &TypeMismatchError{Key: key, Got: valueKind(v), Want: "tensordict"}
		}
		return nested, false, nil
	}
	nested := t.Empty()
	t.insert(key, nested)
	return nested, true, nil
}

func (t *TensorDict) insert(key string, v Value) {
	if _, ok := t.entries[key]; !ok {
		t.keyOrder = append(t.keyOrder, key)
	}
	t.entries[key] = v
}

func removeKey(keys []string, key string) []string {
	for i, k := range keys {
		if k == key {
			return append(keys[:i], keys[i+1:]...)
		}
	}
	return keys
}

func validatePath(path []string) error {
	if len(path) == 0 {
		return &KeyMissingError{Path: path}
	}
	for _, atom := range path {
		if atom == "" {
			return fmt.Errorf("empty key atom in path %q", joinPath(path))
		}
	}
	return nil
}

// SetInPlace writes value into the existing storage at path. The
// shape must match the stored leaf exactly; the dtype is cast.
// Permitted while locked or memmapped.
func (t *TensorDict) SetInPlace(value Value, path ...string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	switch v := value.(type) {
	case *tensor.RawTensor:
		leaf, err := t.GetLeaf(path...)
		if err != nil {
			return err
		}
		if !leaf.Shape().Equal(v.Shape()) {
			return &ShapeMismatchError{Key: joinPath(path), Got: v.Shape(), Want: leaf.Shape(), Exact: true}
		}
		return leaf.CopyFrom(v)
	case Dict:
		target, err := t.GetDict(path...)
		if err != nil {
			return err
		}
		return updateInPlace(target, v)
	case map[string]Value:
		nested, err := t.normalizeValue(v)
		if err != nil {
			return err
		}
		return t.SetInPlace(nested, path...)
	default:
		return &TypeMismatchError{Key: joinPath(path), Got: valueKind(value), Want: "tensor or tensordict"}
	}
}

// updateInPlace writes every leaf of src into dst's existing storage.
func updateInPlace(dst Dict, src Dict) error {
	for _, p := range src.NestedKeys(true) {
		leaf, err := src.GetLeaf(p...)
		if err != nil {
			return err
		}
		if err := dst.SetInPlace(leaf, p...); err != nil {
			return err
		}
	}
	return nil
}

// Del removes the entry at path. Structural: rejected while locked or
// memmapped.
func (t *TensorDict) Del(path ...string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	if t.IsLocked() {
		return ErrLocked
	}
	if t.memmapped {
		return ErrMemmapStructural
	}
	if len(path) == 1 {
		if _, ok := t.entries[path[0]]; !ok {
			return &KeyMissingError{Path: path, Keys: t.Keys()}
		}
		delete(t.entries, path[0])
		t.keyOrder = removeKey(t.keyOrder, path[0])
		return nil
	}
	nested, err := t.GetDict(path[0])
	if err != nil {
		return err
	}
	return nested.Del(path[1:]...)
}

// Pop removes and returns the entry at path.
func (t *TensorDict) Pop(path ...string) (Value, error) {
	if t.IsLocked() {
		return nil, ErrLocked
	}
	v, err := t.Get(path...)
	if err != nil {
		return nil, err
	}
	if err := t.Del(path...); err != nil {
		return nil, err
	}
	return v, nil
}

// Rename moves the entry at old to new. Structural.
func (t *TensorDict) Rename(oldKey, newKey string) error {
	if t.IsLocked() {
		return ErrLocked
	}
	if t.memmapped {
		return ErrMemmapStructural
	}
	v, ok := t.entries[oldKey]
	if !ok {
		return &KeyMissingError{Path: []string{oldKey}, Keys: t.Keys()}
	}
	if _, exists := t.entries[newKey]; exists {
		return &KeyCollisionError{Key: newKey}
	}
	delete(t.entries, oldKey)
	t.keyOrder = removeKey(t.keyOrder, oldKey)
	t.insert(newKey, v)
	return nil
}

// Select returns a new TensorDict holding only the given top-level
// keys, sharing leaf storage.
func (t *TensorDict) Select(keys ...string) (*TensorDict, error) {
	out := t.Empty()
	for _, key := range keys {
		v, ok := t.entries[key]
		if !ok {
			return nil, &KeyMissingError{Path: []string{key}, Keys: t.Keys()}
		}
		out.insert(key, v)
	}
	return out, nil
}

// Exclude returns a new TensorDict without the given top-level keys,
// sharing leaf storage.
func (t *TensorDict) Exclude(keys ...string) *TensorDict {
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	out := t.Empty()
	for _, key := range t.keyOrder {
		if _, skip := drop[key]; !skip {
			out.insert(key, t.entries[key])
		}
	}
	return out
}

// Update inserts every entry of other into t, sharing storage.
// Structural.
func (t *TensorDict) Update(other Dict) error {
	for _, key := range other.Keys() {
		v, err := other.Get(key)
		if err != nil {
			return err
		}
		if err := t.Set(v, key); err != nil {
			return err
		}
	}
	return nil
}

// UpdateInPlace writes every leaf of other into t's existing storage.
// Permitted while locked.
func (t *TensorDict) UpdateInPlace(other Dict) error {
	return updateInPlace(t, other)
}

// Zero writes zeros into every leaf, recursively. In-place.
func (t *TensorDict) Zero() error { return t.FillAll(0) }

// FillAll writes value into every leaf, recursively. In-place.
func (t *TensorDict) FillAll(value float64) error {
	for _, key := range t.keyOrder {
		switch v := t.entries[key].(type) {
		case *tensor.RawTensor:
			v.Fill(value)
		case Dict:
			if err := v.FillAll(value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Clone returns a deep copy: fresh leaf storage, same structure.
func (t *TensorDict) Clone() (Dict, error) {
	return t.clonePlain()
}

func (t *TensorDict) clonePlain() (*TensorDict, error) {
	out := t.Empty()
	for _, key := range t.keyOrder {
		switch v := t.entries[key].(type) {
		case *tensor.RawTensor:
			c, err := v.Clone()
			if err != nil {
				return nil, err
			}
			out.insert(key, c)
		case Dict:
			c, err := v.Clone()
			if err != nil {
				return nil, err
			}
			out.insert(key, c)
		}
	}
	return out, nil
}

// ToTensorDict materializes into plain contiguous storage, copying
// leaves.
func (t *TensorDict) ToTensorDict() (*TensorDict, error) {
	return t.clonePlain()
}

// Contiguous is an alias for ToTensorDict.
func (t *TensorDict) Contiguous() (*TensorDict, error) { return t.clonePlain() }

// Equal reports element-wise equality of structure and leaves.
func (t *TensorDict) Equal(other Dict) bool {
	return dictsEqual(t, other)
}

func dictsEqual(a, b Dict) bool {
	if b == nil || !a.BatchSize().Equal(b.BatchSize()) {
		return false
	}
	ka, kb := a.Keys(), b.Keys()
	if len(ka) != len(kb) {
		return false
	}
	for i := range ka {
		if ka[i] != kb[i] {
			return false
		}
	}
	for _, key := range ka {
		va, err := a.Get(key)
		if err != nil {
			return false
		}
		vb, err := b.Get(key)
		if err != nil {
			return false
		}
		la, lb := leafOf(va), leafOf(vb)
		if (la == nil) != (lb == nil) {
			return false
		}
		if la != nil {
			if !la.Equal(lb) {
				return false
			}
			continue
		}
		if !dictsEqual(dictOf(va), dictOf(vb)) {
			return false
		}
	}
	return true
}

// Lock state.

// IsLocked reports whether structural mutation is forbidden.
func (t *TensorDict) IsLocked() bool { return t.node.selfLocked() }

// LockOwnerCount returns the number of distinct lock owners pinning t.
func (t *TensorDict) LockOwnerCount() int { return len(ownerSet(t)) }

// Lock forbids structural mutation of t and everything reachable.
func (t *TensorDict) Lock() error { return lockGraph(t) }

// Unlock re-enables structural mutation.
func (t *TensorDict) Unlock() error { return unlockGraph(t) }

// Release drops t's lock contribution everywhere without erroring.
func (t *TensorDict) Release() { releaseGraph(t) }

func (t *TensorDict) lockState() *lockNode { return &t.node }

func (t *TensorDict) lockChildren() []Dict {
	var out []Dict
	for _, key := range t.keyOrder {
		if nested := dictOf(t.entries[key]); nested != nil {
			out = append(out, nested)
		}
	}
	return out
}

// Lazy transforms.

// Permute reorders the batch dimensions.
func (t *TensorDict) Permute(perm ...int) (Dict, error) {
	op, err := newPermuteOp(perm, t.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(t, op)
}

// Transpose swaps two batch dimensions.
func (t *TensorDict) Transpose(d0, d1 int) (Dict, error) {
	op, err := newTransposeOp(d0, d1, t.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(t, op)
}

// Squeeze removes a size-1 batch dimension.
func (t *TensorDict) Squeeze(dim int) (Dict, error) {
	op, err := newSqueezeOp(dim, t.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(t, op)
}

// Unsqueeze inserts a size-1 batch dimension.
func (t *TensorDict) Unsqueeze(dim int) (Dict, error) {
	op, err := newUnsqueezeOp(dim, t.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(t, op)
}

// Reshape views the batch shape as a new shape.
func (t *TensorDict) Reshape(shape ...int) (Dict, error) {
	op, err := newReshapeOp(tensor.Shape(shape), t.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(t, op)
}

// Index applies batch indexing terms lazily.
func (t *TensorDict) Index(terms ...IndexTerm) (Dict, error) {
	op, err := newIndexOp(terms, t.BatchSize())
	if err != nil {
		return nil, err
	}
	return newView(t, op)
}

// Sub returns a write-through sub-view fixed at the given basic index.
func (t *TensorDict) Sub(terms ...IndexTerm) (Dict, error) {
	return newSubDict(t, terms)
}
