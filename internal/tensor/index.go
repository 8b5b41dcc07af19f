package tensor

import "fmt"

// Basic indexing produces aliasing descriptors; advanced (mask/index
// list) selection copies, with explicit scatter counterparts for
// write-through.

// Select fixes dimension dim at index i and removes it.
// Negative i counts from the end. The result aliases r's buffer.
func (r *RawTensor) Select(dim, i int) (*RawTensor, error) {
	d, err := NormalizeDim(dim, len(r.shape), 0)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	if i < 0 {
		i += r.shape[d]
	}
	if i < 0 || i >= r.shape[d] {
		return nil, fmt.Errorf("select: index %d out of range for dimension %d (size %d)", i, dim, r.shape[d])
	}
	out := r.alias()
	out.offset += i * r.stride[d]
	out.shape = append(out.shape[:d], out.shape[d+1:]...)
	out.stride = append(out.stride[:d], out.stride[d+1:]...)
	return out, nil
}

// Narrow restricts dimension dim to [start, start+length*step) with the
// given step. The result aliases r's buffer.
func (r *RawTensor) Narrow(dim, start, length, step int) (*RawTensor, error) {
	d, err := NormalizeDim(dim, len(r.shape), 0)
	if err != nil {
		return nil, fmt.Errorf("narrow: %w", err)
	}
	if step <= 0 {
		return nil, fmt.Errorf("narrow: step must be positive, got %d", step)
	}
	if start < 0 {
		start += r.shape[d]
	}
	if start < 0 || start > r.shape[d] {
		return nil, fmt.Errorf("narrow: start %d out of range for dimension %d (size %d)", start, dim, r.shape[d])
	}
	if length < 0 {
		return nil, fmt.Errorf("narrow: negative length %d", length)
	}
	if length > 0 && start+(length-1)*step >= r.shape[d] {
		return nil, fmt.Errorf("narrow: range [%d:%d:%d] exceeds dimension %d (size %d)",
			start, start+length*step, step, dim, r.shape[d])
	}
	out := r.alias()
	out.offset += start * r.stride[d]
	out.shape[d] = length
	out.stride[d] = r.stride[d] * step
	return out, nil
}

// maskCoords returns the coordinates of true entries in a Bool tensor,
// in row-major order.
func maskCoords(mask *RawTensor) ([][]int, error) {
	if mask.dtype != Bool {
		return nil, fmt.Errorf("mask must have dtype bool, got %s", mask.dtype)
	}
	var coords [][]int
	rank := len(mask.shape)
	coord := make([]int, rank)
	n := mask.shape.NumElements()
	es := mask.dtype.Size()
	buf := mask.buffer.data
	off := mask.offset
	for i := 0; i < n; i++ {
		if buf[off*es] != 0 {
			coords = append(coords, append([]int(nil), coord...))
		}
		d := rank - 1
		for ; d >= 0; d-- {
			coord[d]++
			off += mask.stride[d]
			if coord[d] < mask.shape[d] {
				break
			}
			off -= mask.stride[d] * mask.shape[d]
			coord[d] = 0
		}
	}
	return coords, nil
}

// selectCoord fixes the leading len(coord) dimensions of r at coord.
func (r *RawTensor) selectCoord(coord []int) (*RawTensor, error) {
	out := r
	var err error
	for _, c := range coord {
		out, err = out.Select(0, c)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MaskSelect gathers the sub-tensors at the true coordinates of mask.
// The mask shape must equal the leading dimensions of r; the result
// has shape [count] + r.Shape()[len(mask.Shape()):] and owns fresh
// storage (boolean indexing is not an aliasing view).
func (r *RawTensor) MaskSelect(mask *RawTensor) (*RawTensor, error) {
	if !Shape(r.shape[:min(len(mask.shape), len(r.shape))]).Equal(mask.shape) {
		return nil, fmt.Errorf("mask shape %v does not match leading dimensions of %v", mask.shape, r.shape)
	}
	coords, err := maskCoords(mask)
	if err != nil {
		return nil, err
	}
	rest := r.shape[len(mask.shape):].Clone()
	out, err := NewRaw(Shape{len(coords)}.Concat(rest), r.dtype, r.device)
	if err != nil {
		return nil, err
	}
	for k, coord := range coords {
		src, err := r.selectCoord(coord)
		if err != nil {
			return nil, err
		}
		dst, err := out.Select(0, k)
		if err != nil {
			return nil, err
		}
		if err := dst.CopyFrom(src); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// MaskScatter writes src back into the true coordinates of mask: the
// inverse data flow of MaskSelect.
func (r *RawTensor) MaskScatter(mask, src *RawTensor) error {
	coords, err := maskCoords(mask)
	if err != nil {
		return err
	}
	if len(src.shape) == 0 || src.shape[0] != len(coords) {
		return fmt.Errorf("mask selects %d entries, source provides shape %v", len(coords), src.shape)
	}
	for k, coord := range coords {
		dst, err := r.selectCoord(coord)
		if err != nil {
			return err
		}
		s, err := src.Select(0, k)
		if err != nil {
			return err
		}
		if err := dst.CopyFrom(s); err != nil {
			return err
		}
	}
	return nil
}

// Gather picks the given indices along dim. The result owns fresh
// storage: integer-list indexing is not an aliasing view.
func (r *RawTensor) Gather(dim int, indices []int) (*RawTensor, error) {
	d, err := NormalizeDim(dim, len(r.shape), 0)
	if err != nil {
		return nil, fmt.Errorf("gather: %w", err)
	}
	outShape := r.shape.Clone()
	outShape[d] = len(indices)
	out, err := NewRaw(outShape, r.dtype, r.device)
	if err != nil {
		return nil, err
	}
	for k, i := range indices {
		src, err := r.Select(d, i)
		if err != nil {
			return nil, fmt.Errorf("gather: %w", err)
		}
		dst, err := out.Select(d, k)
		if err != nil {
			return nil, err
		}
		if err := dst.CopyFrom(src); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// IndexScatter writes src back into the given indices along dim: the
// inverse data flow of Gather. Duplicate indices apply in order, last
// write wins.
func (r *RawTensor) IndexScatter(dim int, indices []int, src *RawTensor) error {
	d, err := NormalizeDim(dim, len(r.shape), 0)
	if err != nil {
		return fmt.Errorf("index scatter: %w", err)
	}
	if len(src.shape) <= d || src.shape[d] != len(indices) {
		return fmt.Errorf("index scatter: %d indices, source shape %v along dim %d", len(indices), src.shape, dim)
	}
	for k, i := range indices {
		dst, err := r.Select(d, i)
		if err != nil {
			return fmt.Errorf("index scatter: %w", err)
		}
		s, err := src.Select(d, k)
		if err != nil {
			return err
		}
		if err := dst.CopyFrom(s); err != nil {
			return err
		}
	}
	return nil
}
