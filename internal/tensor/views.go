package tensor

import (
	"fmt"

	"github.com/born-ml/tensordict/internal/parallel"
)

// View transforms. Each returns a new descriptor sharing the source
// buffer wherever the transform is expressible as a stride
// manipulation; writes through the result land in the source storage.

// Permute reorders all dimensions according to perm.
func (r *RawTensor) Permute(perm []int) (*RawTensor, error) {
	if err := ValidatePermutation(perm, len(r.shape)); err != nil {
		return nil, fmt.Errorf("permute: %w", err)
	}
	out := r.alias()
	for i, p := range perm {
		out.shape[i] = r.shape[p]
		out.stride[i] = r.stride[p]
	}
	return out, nil
}

// Transpose swaps two dimensions.
func (r *RawTensor) Transpose(d0, d1 int) (*RawTensor, error) {
	nd0, err := NormalizeDim(d0, len(r.shape), 0)
	if err != nil {
		return nil, fmt.Errorf("transpose: %w", err)
	}
	nd1, err := NormalizeDim(d1, len(r.shape), 0)
	if err != nil {
		return nil, fmt.Errorf("transpose: %w", err)
	}
	out := r.alias()
	out.shape[nd0], out.shape[nd1] = out.shape[nd1], out.shape[nd0]
	out.stride[nd0], out.stride[nd1] = out.stride[nd1], out.stride[nd0]
	return out, nil
}

// Squeeze removes a dimension of size 1.
func (r *RawTensor) Squeeze(dim int) (*RawTensor, error) {
	d, err := NormalizeDim(dim, len(r.shape), 0)
	if err != nil {
		return nil, fmt.Errorf("squeeze: %w", err)
	}
	if r.shape[d] != 1 {
		return nil, fmt.Errorf("squeeze: dimension %d has size %d, expected 1", dim, r.shape[d])
	}
	out := r.alias()
	out.shape = append(out.shape[:d], out.shape[d+1:]...)
	out.stride = append(out.stride[:d], out.stride[d+1:]...)
	return out, nil
}

// Unsqueeze inserts a dimension of size 1 at dim.
func (r *RawTensor) Unsqueeze(dim int) (*RawTensor, error) {
	d, err := NormalizeDim(dim, len(r.shape), 1)
	if err != nil {
		return nil, fmt.Errorf("unsqueeze: %w", err)
	}
	out := r.alias()
	// Stride of a size-1 dim never contributes to an offset.
	st := 1
	if d < len(r.stride) {
		st = r.stride[d] * r.shape[d]
	}
	out.shape = out.shape.Insert(d, 1)
	newStride := make([]int, 0, len(out.stride)+1)
	newStride = append(newStride, out.stride[:d]...)
	newStride = append(newStride, st)
	newStride = append(newStride, out.stride[d:]...)
	out.stride = newStride
	return out, nil
}

// Reshape returns a tensor with the same elements and a new shape.
// Contiguous sources are reshaped without copying; non-contiguous
// sources are materialized first.
func (r *RawTensor) Reshape(shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("reshape: %w", err)
	}
	if shape.NumElements() != r.NumElements() {
		return nil, fmt.Errorf("reshape: %d elements cannot be viewed as shape %v (%d elements)",
			r.NumElements(), shape, shape.NumElements())
	}
	src, err := r.Contiguous()
	if err != nil {
		return nil, err
	}
	out := src.alias()
	out.shape = shape.Clone()
	out.stride = shape.ComputeStrides()
	return out, nil
}

// Stack concatenates tensors of identical shape along a new dimension.
// The result owns fresh contiguous storage.
func Stack(tensors []*RawTensor, dim int) (*RawTensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("stack: at least one tensor required")
	}
	first := tensors[0]
	d, err := NormalizeDim(dim, len(first.shape), 1)
	if err != nil {
		return nil, fmt.Errorf("stack: %w", err)
	}
	for i, t := range tensors[1:] {
		if !t.shape.Equal(first.shape) {
			return nil, fmt.Errorf("stack: tensor %d has shape %v, expected %v", i+1, t.shape, first.shape)
		}
		if t.dtype != first.dtype {
			return nil, fmt.Errorf("stack: tensor %d has dtype %s, expected %s", i+1, t.dtype, first.dtype)
		}
	}

	outShape := first.shape.Insert(d, len(tensors))
	out, err := NewRaw(outShape, first.dtype, first.device)
	if err != nil {
		return nil, err
	}
	// Slots are disjoint regions of the output buffer.
	err = parallel.ForErr(len(tensors), func(i int) error {
		slot, err := out.Select(d, i)
		if err != nil {
			return err
		}
		return slot.CopyFrom(tensors[i])
	}, parallel.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return out, nil
}
