package td

import (
	"fmt"

	"github.com/born-ml/tensordict/internal/tensor"
)

// transform is one lazy batch-shape operation carried by a ViewDict.
// Each transform is scoped to the batch rank of the dict it was created
// on; leaves and nested containers with longer shapes keep their
// trailing dimensions untouched.
//
// applyLeaf returns an aliasing view of a source leaf wherever the
// underlying tensor op aliases. writeLeaf pushes a view-shaped value
// back into source-shaped storage, and unapplyLeaf converts a
// view-shaped value into a source-shaped one for inserting new keys.
type transform interface {
	forwardShape(src tensor.Shape) (tensor.Shape, error)
	forwardNames(names []string) []string
	applyLeaf(leaf *tensor.RawTensor) (*tensor.RawTensor, error)
	writeLeaf(dst, value *tensor.RawTensor) error
	unapplyLeaf(value *tensor.RawTensor) (*tensor.RawTensor, error)
	// inverseOf reports whether other undoes the receiver exactly, so
	// that applying both in sequence is the identity on every shape.
	inverseOf(other transform) bool
	describe() string
}

// fullPerm extends a batch permutation with identity entries for the
// trailing dimensions of a leaf.
func fullPerm(perm []int, rank int) []int {
	out := make([]int, rank)
	copy(out, perm)
	for i := len(perm); i < rank; i++ {
		out[i] = i
	}
	return out
}

// writeThroughAlias is the default writeLeaf: alias dst under the
// forward transform and copy value into the alias.
func writeThroughAlias(op transform, dst, value *tensor.RawTensor) error {
	alias, err := op.applyLeaf(dst)
	if err != nil {
		return err
	}
	return alias.CopyFrom(value)
}

// permuteOp

type permuteOp struct {
	perm  []int
	scope int
}

func newPermuteOp(perm []int, batch tensor.Shape) (*permuteOp, error) {
	p := make([]int, len(perm))
	for i, d := range perm {
		nd, err := tensor.NormalizeDim(d, len(batch), 0)
		if err != nil {
			return nil, err
		}
		p[i] = nd
	}
	if err := tensor.ValidatePermutation(p, len(batch)); err != nil {
		return nil, err
	}
	return &permuteOp{perm: p, scope: len(batch)}, nil
}

func (o *permuteOp) inverse() []int {
	inv := make([]int, len(o.perm))
	for i, d := range o.perm {
		inv[d] = i
	}
	return inv
}

func (o *permuteOp) forwardShape(src tensor.Shape) (tensor.Shape, error) {
	if len(src) < o.scope {
		return nil, fmt.Errorf("permute: shape %v has fewer than %d dimensions", src, o.scope)
	}
	out := src.Clone()
	for i, d := range o.perm {
		out[i] = src[d]
	}
	return out, nil
}

func (o *permuteOp) forwardNames(names []string) []string {
	if names == nil {
		return nil
	}
	out := append([]string(nil), names...)
	for i, d := range o.perm {
		out[i] = names[d]
	}
	return out
}

func (o *permuteOp) applyLeaf(leaf *tensor.RawTensor) (*tensor.RawTensor, error) {
	return leaf.Permute(fullPerm(o.perm, len(leaf.Shape())))
}

func (o *permuteOp) writeLeaf(dst, value *tensor.RawTensor) error {
	return writeThroughAlias(o, dst, value)
}

func (o *permuteOp) unapplyLeaf(value *tensor.RawTensor) (*tensor.RawTensor, error) {
	return value.Permute(fullPerm(o.inverse(), len(value.Shape())))
}

func (o *permuteOp) inverseOf(other transform) bool {
	p, ok := other.(*permuteOp)
	if !ok || p.scope != o.scope || len(p.perm) != len(o.perm) {
		return false
	}
	inv := o.inverse()
	for i := range inv {
		if p.perm[i] != inv[i] {
			return false
		}
	}
	return true
}

func (o *permuteOp) describe() string { return fmt.Sprintf("permute%v", o.perm) }

// transposeOp

type transposeOp struct {
	d0, d1 int
	scope  int
}

func newTransposeOp(d0, d1 int, batch tensor.Shape) (*transposeOp, error) {
	n0, err := tensor.NormalizeDim(d0, len(batch), 0)
	if err != nil {
		return nil, err
	}
	n1, err := tensor.NormalizeDim(d1, len(batch), 0)
	if err != nil {
		return nil, err
	}
	if n0 > n1 {
		n0, n1 = n1, n0
	}
	return &transposeOp{d0: n0, d1: n1, scope: len(batch)}, nil
}

func (o *transposeOp) forwardShape(src tensor.Shape) (tensor.Shape, error) {
	if len(src) < o.scope {
		return nil, fmt.Errorf("transpose: shape %v has fewer than %d dimensions", src, o.scope)
	}
	out := src.Clone()
	out[o.d0], out[o.d1] = src[o.d1], src[o.d0]
	return out, nil
}

func (o *transposeOp) forwardNames(names []string) []string {
	if names == nil {
		return nil
	}
	out := append([]string(nil), names...)
	out[o.d0], out[o.d1] = names[o.d1], names[o.d0]
	return out
}

func (o *transposeOp) applyLeaf(leaf *tensor.RawTensor) (*tensor.RawTensor, error) {
	return leaf.Transpose(o.d0, o.d1)
}

func (o *transposeOp) writeLeaf(dst, value *tensor.RawTensor) error {
	return writeThroughAlias(o, dst, value)
}

func (o *transposeOp) unapplyLeaf(value *tensor.RawTensor) (*tensor.RawTensor, error) {
	return value.Transpose(o.d0, o.d1)
}

func (o *transposeOp) inverseOf(other transform) bool {
	t, ok := other.(*transposeOp)
	return ok && t.scope == o.scope && t.d0 == o.d0 && t.d1 == o.d1
}

func (o *transposeOp) describe() string { return fmt.Sprintf("transpose(%d, %d)", o.d0, o.d1) }

// squeezeOp

type squeezeOp struct {
	dim   int
	scope int
}

func newSqueezeOp(dim int, batch tensor.Shape) (*squeezeOp, error) {
	d, err := tensor.NormalizeDim(dim, len(batch), 0)
	if err != nil {
		return nil, err
	}
	if batch[d] != 1 {
		return nil, fmt.Errorf("cannot squeeze dimension %d of size %d", d, batch[d])
	}
	return &squeezeOp{dim: d, scope: len(batch)}, nil
}

func (o *squeezeOp) forwardShape(src tensor.Shape) (tensor.Shape, error) {
	if len(src) < o.scope {
		return nil, fmt.Errorf("squeeze: shape %v has fewer than %d dimensions", src, o.scope)
	}
	if src[o.dim] != 1 {
		return nil, fmt.Errorf("cannot squeeze dimension %d of size %d", o.dim, src[o.dim])
	}
	return src.Remove(o.dim), nil
}

func (o *squeezeOp) forwardNames(names []string) []string {
	if names == nil {
		return nil
	}
	out := append([]string(nil), names[:o.dim]...)
	return append(out, names[o.dim+1:]...)
}

func (o *squeezeOp) applyLeaf(leaf *tensor.RawTensor) (*tensor.RawTensor, error) {
	return leaf.Squeeze(o.dim)
}

func (o *squeezeOp) writeLeaf(dst, value *tensor.RawTensor) error {
	return writeThroughAlias(o, dst, value)
}

func (o *squeezeOp) unapplyLeaf(value *tensor.RawTensor) (*tensor.RawTensor, error) {
	return value.Unsqueeze(o.dim)
}

func (o *squeezeOp) inverseOf(other transform) bool {
	u, ok := other.(*unsqueezeOp)
	return ok && u.dim == o.dim && u.scope == o.scope-1
}

func (o *squeezeOp) describe() string { return fmt.Sprintf("squeeze(%d)", o.dim) }

// unsqueezeOp

type unsqueezeOp struct {
	dim   int
	scope int
}

func newUnsqueezeOp(dim int, batch tensor.Shape) (*unsqueezeOp, error) {
	d, err := tensor.NormalizeDim(dim, len(batch), 1)
	if err != nil {
		return nil, err
	}
	return &unsqueezeOp{dim: d, scope: len(batch)}, nil
}

func (o *unsqueezeOp) forwardShape(src tensor.Shape) (tensor.Shape, error) {
	if len(src) < o.scope {
		return nil, fmt.Errorf("unsqueeze: shape %v has fewer than %d dimensions", src, o.scope)
	}
	return src.Insert(o.dim, 1), nil
}

func (o *unsqueezeOp) forwardNames(names []string) []string {
	if names == nil {
		return nil
	}
	out := append([]string(nil), names[:o.dim]...)
	out = append(out, "")
	return append(out, names[o.dim:]...)
}

func (o *unsqueezeOp) applyLeaf(leaf *tensor.RawTensor) (*tensor.RawTensor, error) {
	return leaf.Unsqueeze(o.dim)
}

func (o *unsqueezeOp) writeLeaf(dst, value *tensor.RawTensor) error {
	return writeThroughAlias(o, dst, value)
}

func (o *unsqueezeOp) unapplyLeaf(value *tensor.RawTensor) (*tensor.RawTensor, error) {
	return value.Squeeze(o.dim)
}

func (o *unsqueezeOp) inverseOf(other transform) bool {
	s, ok := other.(*squeezeOp)
	return ok && s.dim == o.dim && s.scope == o.scope+1
}

func (o *unsqueezeOp) describe() string { return fmt.Sprintf("unsqueeze(%d)", o.dim) }

// reshapeOp

type reshapeOp struct {
	shape tensor.Shape // Target batch shape, -1 resolved
	from  tensor.Shape // Batch shape at creation time
}

func newReshapeOp(shape, batch tensor.Shape) (*reshapeOp, error) {
	resolved, err := resolveReshape(shape, batch.NumElements())
	if err != nil {
		return nil, err
	}
	return &reshapeOp{shape: resolved, from: batch.Clone()}, nil
}

// resolveReshape fills in at most one -1 dimension and checks the
// element count.
func resolveReshape(shape tensor.Shape, numel int) (tensor.Shape, error) {
	out := shape.Clone()
	infer := -1
	known := 1
	for i, d := range out {
		switch {
		case d == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("reshape: only one dimension may be -1, got %v", shape)
			}
			infer = i
		case d < 0:
			return nil, fmt.Errorf("reshape: invalid dimension %d in %v", d, shape)
		default:
			known *= d
		}
	}
	if infer >= 0 {
		if known == 0 || numel%known != 0 {
			return nil, fmt.Errorf("reshape: cannot infer dimension %d of %v for %d elements", infer, shape, numel)
		}
		out[infer] = numel / known
	} else if known != numel {
		return nil, fmt.Errorf("reshape: %v has %d elements, expected %d", shape, known, numel)
	}
	return out, nil
}

func (o *reshapeOp) forwardShape(src tensor.Shape) (tensor.Shape, error) {
	if !src.HasPrefix(o.from) {
		return nil, fmt.Errorf("reshape: shape %v does not extend batch size %v", src, o.from)
	}
	return o.shape.Concat(src[len(o.from):]), nil
}

func (o *reshapeOp) forwardNames([]string) []string { return nil }

func (o *reshapeOp) applyLeaf(leaf *tensor.RawTensor) (*tensor.RawTensor, error) {
	target := o.shape.Concat(leaf.Shape()[len(o.from):])
	return leaf.Reshape(target)
}

// writeLeaf reshapes the value to the destination shape instead of
// aliasing: a reshape of non-contiguous storage materializes, which
// would detach the write.
func (o *reshapeOp) writeLeaf(dst, value *tensor.RawTensor) error {
	rv, err := value.Reshape(dst.Shape())
	if err != nil {
		return err
	}
	return dst.CopyFrom(rv)
}

func (o *reshapeOp) unapplyLeaf(value *tensor.RawTensor) (*tensor.RawTensor, error) {
	target := o.from.Concat(value.Shape()[len(o.shape):])
	return value.Reshape(target)
}

func (o *reshapeOp) inverseOf(other transform) bool {
	r, ok := other.(*reshapeOp)
	return ok && r.shape.Equal(o.from) && r.from.Equal(o.shape)
}

func (o *reshapeOp) describe() string { return fmt.Sprintf("reshape%v", o.shape) }
