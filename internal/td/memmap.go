package td

import (
	"path/filepath"
	"strconv"
	"time"

	"github.com/born-ml/tensordict/internal/serialization"
	"github.com/born-ml/tensordict/internal/tensor"
)

// MemmapOption configures memmap conversion.
type MemmapOption func(*memmapConfig)

type memmapConfig struct {
	copyExisting bool
}

// CopyExisting permits re-memmapping an already memmapped tensordict
// under a new prefix by copying its files.
func CopyExisting() MemmapOption {
	return func(c *memmapConfig) { c.copyExisting = true }
}

// Memmap moves every leaf into a memory-mapped file under prefix and
// writes a meta.json sidecar per container directory. Values are
// preserved; afterwards the structure is frozen while leaf contents
// stay writable through SetInPlace.
func (t *TensorDict) Memmap(prefix string, opts ...MemmapOption) error {
	var cfg memmapConfig
	for _, o := range opts {
		o(&cfg)
	}
	return t.memmapInto(prefix, cfg)
}

func (t *TensorDict) memmapInto(prefix string, cfg memmapConfig) error {
	if t.memmapped {
		if t.memmapDir == prefix {
			return nil
		}
		if !cfg.copyExisting {
			return ErrAlreadyMemmapped
		}
	}

	meta := serialization.Meta{
		FormatVersion: serialization.FormatVersion,
		CreatedAt:     time.Now().UTC(),
		BatchSize:     t.batchSize,
		Names:         t.names,
		Dicts:         []string{},
	}
	if t.device != nil {
		name := t.device.String()
		meta.Device = &name
	}

	// Leaves are staged and swapped in only after the sidecar is
	// written, so a failure mid-walk leaves the container heap-backed.
	staged := make(map[string]*tensor.RawTensor)
	for _, key := range t.Keys() {
		switch v := t.entries[key].(type) {
		case *tensor.RawTensor:
			mapped, err := mapLeaf(prefix, key, v)
			if err != nil {
				return err
			}
			staged[key] = mapped
			meta.Leaves = append(meta.Leaves, serialization.LeafMeta{
				Key:   key,
				DType: v.DType().String(),
				Shape: v.Shape(),
				Size:  int64(v.ByteSize()),
			})
		case *TensorDict:
			if err := v.memmapInto(filepath.Join(prefix, key), cfg); err != nil {
				return err
			}
			meta.Dicts = append(meta.Dicts, key)
		case *StackedDict:
			if err := v.memmapInto(filepath.Join(prefix, key), cfg); err != nil {
				return err
			}
			meta.Dicts = append(meta.Dicts, key)
		case Dict:
			return v.Memmap(filepath.Join(prefix, key))
		}
	}

	if err := serialization.WriteMeta(prefix, meta); err != nil {
		return err
	}
	for key, mapped := range staged {
		t.entries[key] = mapped
	}
	t.memmapped = true
	t.memmapDir = prefix
	return nil
}

// mapLeaf creates the backing file for one leaf and copies its
// contents in.
func mapLeaf(dir, key string, leaf *tensor.RawTensor) (*tensor.RawTensor, error) {
	m, f, path, err := serialization.CreateLeafFile(dir, key, leaf.ByteSize())
	if err != nil {
		return nil, err
	}
	mapped, err := tensor.NewRawMapped(m, f, path, leaf.Shape(), leaf.DType(), leaf.Device())
	if err != nil {
		return nil, err
	}
	if err := mapped.CopyFrom(leaf); err != nil {
		return nil, err
	}
	return mapped, nil
}

// Flush syncs every mapped leaf to disk.
func (t *TensorDict) Flush() error {
	for _, key := range t.keyOrder {
		switch v := t.entries[key].(type) {
		case *tensor.RawTensor:
			if err := v.Flush(); err != nil {
				return err
			}
		case *TensorDict:
			if err := v.Flush(); err != nil {
				return err
			}
		case *StackedDict:
			if err := v.Flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Memmap persists the composite: each sibling goes into a numbered
// sub-directory and the root sidecar records the stack layout.
func (s *StackedDict) Memmap(prefix string, opts ...MemmapOption) error {
	var cfg memmapConfig
	for _, o := range opts {
		o(&cfg)
	}
	return s.memmapInto(prefix, cfg)
}

func (s *StackedDict) memmapInto(prefix string, cfg memmapConfig) error {
	if s.memmapped {
		if s.memmapDir == prefix {
			return nil
		}
		if !cfg.copyExisting {
			return ErrAlreadyMemmapped
		}
	}

	for i, d := range s.dicts {
		sub := filepath.Join(prefix, strconv.Itoa(i))
		var err error
		switch v := d.(type) {
		case *TensorDict:
			err = v.memmapInto(sub, cfg)
		case *StackedDict:
			err = v.memmapInto(sub, cfg)
		default:
			err = d.Memmap(sub)
		}
		if err != nil {
			return err
		}
	}

	meta := serialization.Meta{
		FormatVersion: serialization.FormatVersion,
		CreatedAt:     time.Now().UTC(),
		BatchSize:     s.BatchSize(),
		Names:         s.Names(),
		Dicts:         []string{},
		Stack:         &serialization.StackMeta{StackDim: s.stackDim, Count: len(s.dicts)},
	}
	if dev, ok := s.Device(); ok {
		name := dev.String()
		meta.Device = &name
	}
	if err := serialization.WriteMeta(prefix, meta); err != nil {
		return err
	}
	s.memmapped = true
	s.memmapDir = prefix
	return nil
}

// Flush syncs every sibling's mapped leaves to disk.
func (s *StackedDict) Flush() error {
	for _, d := range s.dicts {
		switch v := d.(type) {
		case *TensorDict:
			if err := v.Flush(); err != nil {
				return err
			}
		case *StackedDict:
			if err := v.Flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load reconstructs a memmapped tensordict from its sidecar files,
// mapping leaf storage lazily through the page cache.
func Load(prefix string) (Dict, error) {
	meta, err := serialization.ReadMeta(prefix)
	if err != nil {
		return nil, err
	}

	if meta.Stack != nil {
		sibs := make([]Dict, meta.Stack.Count)
		for i := range sibs {
			sib, err := Load(filepath.Join(prefix, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			sibs[i] = sib
		}
		s, err := NewStacked(meta.Stack.StackDim, sibs...)
		if err != nil {
			return nil, err
		}
		s.memmapped = true
		s.memmapDir = prefix
		return s, nil
	}

	opts := []Option{WithBatchSize(meta.BatchSize...)}
	device := tensor.CPU
	if meta.Device != nil {
		dev, ok := tensor.ParseDevice(*meta.Device)
		if !ok {
			return nil, &serialization.MetaError{Dir: prefix, Field: "device", Details: "unknown device " + *meta.Device}
		}
		device = dev
		opts = append(opts, WithDevice(dev))
	}
	if meta.Names != nil {
		opts = append(opts, WithNames(meta.Names...))
	}
	t, err := New(nil, opts...)
	if err != nil {
		return nil, err
	}

	for _, l := range meta.Leaves {
		dtype, ok := tensor.ParseDataType(l.DType)
		if !ok {
			return nil, &serialization.MetaError{Dir: prefix, Field: "leaves", Details: "unknown dtype " + l.DType}
		}
		shape := tensor.Shape(l.Shape)
		if want := int64(shape.NumElements() * dtype.Size()); want != l.Size {
			return nil, &serialization.MetaError{Dir: prefix, Field: "leaves",
				Details: "size of " + l.Key + " does not match its shape and dtype"}
		}
		m, f, path, err := serialization.OpenLeafFile(prefix, l.Key, true)
		if err != nil {
			return nil, err
		}
		mapped, err := tensor.NewRawMapped(m, f, path, shape, dtype, device)
		if err != nil {
			return nil, err
		}
		t.insert(l.Key, mapped)
	}

	for _, key := range meta.Dicts {
		nested, err := Load(filepath.Join(prefix, key))
		if err != nil {
			return nil, err
		}
		t.insert(key, nested)
	}

	t.memmapped = true
	t.memmapDir = prefix
	return t, nil
}
