package tensor

import "fmt"

// Shape represents the dimensions of a tensor. A tensordict batch size
// is a Shape as well: the common leading prefix of all leaf shapes.
type Shape []int

// NumElements returns the total number of elements in the tensor.
func (s Shape) NumElements() int {
	if len(s) == 0 {
		return 1 // Scalar has 1 element
	}
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks if the shape is valid (all dimensions >= 0).
// Zero-sized dimensions are allowed: an empty batch is a valid batch.
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim < 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be >= 0)", i, dim)
		}
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is a leading prefix of s. This is
// the batch-size invariant check: every leaf shape must have the
// container batch size as a prefix.
func (s Shape) HasPrefix(prefix Shape) bool {
	if len(prefix) > len(s) {
		return false
	}
	for i := range prefix {
		if s[i] != prefix[i] {
			return false
		}
	}
	return true
}

// CommonPrefix returns the longest leading prefix shared by s and other.
func (s Shape) CommonPrefix(other Shape) Shape {
	n := len(s)
	if len(other) < n {
		n = len(other)
	}
	out := make(Shape, 0, n)
	for i := 0; i < n; i++ {
		if s[i] != other[i] {
			break
		}
		out = append(out, s[i])
	}
	return out
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// Insert returns a new shape with size inserted at dim.
func (s Shape) Insert(dim, size int) Shape {
	out := make(Shape, 0, len(s)+1)
	out = append(out, s[:dim]...)
	out = append(out, size)
	out = append(out, s[dim:]...)
	return out
}

// Remove returns a new shape with the dimension at dim removed.
func (s Shape) Remove(dim int) Shape {
	out := make(Shape, 0, len(s)-1)
	out = append(out, s[:dim]...)
	out = append(out, s[dim+1:]...)
	return out
}

// Concat returns the concatenation of s and other.
func (s Shape) Concat(other Shape) Shape {
	out := make(Shape, 0, len(s)+len(other))
	out = append(out, s...)
	out = append(out, other...)
	return out
}

// ComputeStrides calculates row-major strides for the shape.
// Strides define memory layout: stride[i] = product of all dimensions after i.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}

	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// NormalizeDim resolves a possibly negative dimension index against
// rank. The extra parameter allows one-past-the-end indexing for
// operations that insert a dimension (unsqueeze, stack).
func NormalizeDim(dim, rank, extra int) (int, error) {
	d := dim
	if d < 0 {
		d += rank + extra
	}
	if d < 0 || d >= rank+extra {
		return 0, fmt.Errorf("dimension %d out of range for rank %d", dim, rank)
	}
	return d, nil
}

// ValidatePermutation checks that perm is a permutation of [0, rank).
func ValidatePermutation(perm []int, rank int) error {
	if len(perm) != rank {
		return fmt.Errorf("permutation has %d entries, rank is %d", len(perm), rank)
	}
	seen := make([]bool, rank)
	for _, p := range perm {
		if p < 0 || p >= rank {
			return fmt.Errorf("permutation entry %d out of range for rank %d", p, rank)
		}
		if seen[p] {
			return fmt.Errorf("duplicate permutation entry %d", p)
		}
		seen[p] = true
	}
	return nil
}
