package td

import (
	"errors"
	"fmt"
	"strings"
)

// flattenKeys builds a flat TensorDict whose keys are sep-joined leaf
// paths, sharing leaf storage with d.
func flattenKeys(d Dict, sep string) (*TensorDict, error) {
	if sep == "" {
		return nil, fmt.Errorf("separator must not be empty")
	}
	out, err := emptyLike(d)
	if err != nil {
		return nil, err
	}
	for _, path := range d.NestedKeys(true) {
		joined := strings.Join(path, sep)
		if _, exists := out.entries[joined]; exists {
			return nil, &KeyCollisionError{Key: joined, Sep: sep}
		}
		leaf, err := d.GetLeaf(path...)
		if err != nil {
			return nil, err
		}
		out.insert(joined, leaf)
	}
	return out, nil
}

// unflattenKeys splits sep-joined top-level keys back into nested
// TensorDicts, sharing leaf storage with d.
func unflattenKeys(d Dict, sep string) (*TensorDict, error) {
	if sep == "" {
		return nil, fmt.Errorf("separator must not be empty")
	}
	out, err := emptyLike(d)
	if err != nil {
		return nil, err
	}
	for _, key := range d.Keys() {
		v, err := d.Get(key)
		if err != nil {
			return nil, err
		}
		path := strings.Split(key, sep)
		if err := out.Set(v, path...); err != nil {
			var tm *TypeMismatchError
			if errors.As(err, &tm) {
				return nil, &KeyCollisionError{Key: key, Sep: sep}
			}
			return nil, err
		}
	}
	return out, nil
}

// emptyLike builds a bare TensorDict with d's batch size, device and
// names.
func emptyLike(d Dict) (*TensorDict, error) {
	opts := []Option{WithBatchSize(d.BatchSize()...)}
	if dev, ok := d.Device(); ok {
		opts = append(opts, WithDevice(dev))
	}
	if names := d.Names(); names != nil {
		opts = append(opts, WithNames(names...))
	}
	return New(nil, opts...)
}

// FlattenKeys returns a tensordict with sep-joined leaf paths as keys,
// sharing leaf storage. While locked, the result is cached.
func (t *TensorDict) FlattenKeys(sep string) (Dict, error) {
	return cachedErr(t, "flatten:"+sep, func() (Dict, error) {
		return flattenKeys(t, sep)
	})
}

// UnflattenKeys splits sep-joined keys back into nested tensordicts,
// sharing leaf storage.
func (t *TensorDict) UnflattenKeys(sep string) (Dict, error) {
	return cachedErr(t, "unflatten:"+sep, func() (Dict, error) {
		return unflattenKeys(t, sep)
	})
}

// FlattenKeysInPlace replaces t's entries with their flattened form.
// Structural.
func (t *TensorDict) FlattenKeysInPlace(sep string) error {
	if t.IsLocked() {
		return ErrLocked
	}
	if t.memmapped {
		return ErrMemmapStructural
	}
	flat, err := flattenKeys(t, sep)
	if err != nil {
		return err
	}
	t.entries = flat.entries
	t.keyOrder = flat.keyOrder
	return nil
}

// UnflattenKeysInPlace replaces t's entries with their nested form.
// Structural.
func (t *TensorDict) UnflattenKeysInPlace(sep string) error {
	if t.IsLocked() {
		return ErrLocked
	}
	if t.memmapped {
		return ErrMemmapStructural
	}
	nested, err := unflattenKeys(t, sep)
	if err != nil {
		return err
	}
	t.entries = nested.entries
	t.keyOrder = nested.keyOrder
	return nil
}
