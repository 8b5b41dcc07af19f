package td

import (
	"fmt"

	"github.com/born-ml/tensordict/internal/tensor"
)

// IndexTerm is one element of a batch index expression, mirroring the
// usual slice syntax: At fixes a dimension, Range slices it, All keeps
// it, NewAxis inserts a size-1 dimension, Ellipsis expands to as many
// All terms as needed, Mask and Pick perform advanced selection.
type IndexTerm struct {
	kind  termKind
	index int
	start int
	stop  int
	step  int
	mask  *tensor.RawTensor
	picks []int
}

type termKind int

const (
	termAt termKind = iota
	termRange
	termAll
	termNewAxis
	termEllipsis
	termMask
	termPick
)

// At fixes a dimension at index i, removing it. Negative indices count
// from the end.
func At(i int) IndexTerm { return IndexTerm{kind: termAt, index: i} }

// Range slices a dimension to [start, stop) with Python clamping
// semantics.
func Range(start, stop int) IndexTerm {
	return IndexTerm{kind: termRange, start: start, stop: stop, step: 1}
}

// RangeStep slices a dimension to [start, stop) taking every step-th
// element. Step must be positive.
func RangeStep(start, stop, step int) IndexTerm {
	return IndexTerm{kind: termRange, start: start, stop: stop, step: step}
}

// All keeps a dimension untouched.
func All() IndexTerm { return IndexTerm{kind: termAll} }

// NewAxis inserts a size-1 dimension.
func NewAxis() IndexTerm { return IndexTerm{kind: termNewAxis} }

// Ellipsis expands to as many All terms as needed to cover the batch
// rank. At most one Ellipsis may appear.
func Ellipsis() IndexTerm { return IndexTerm{kind: termEllipsis} }

// Mask selects by a boolean tensor covering one or more consecutive
// dimensions, collapsing them into one. Advanced: the result copies.
func Mask(m *tensor.RawTensor) IndexTerm { return IndexTerm{kind: termMask, mask: m} }

// Pick selects an explicit list of indices along a dimension.
// Advanced: the result copies.
func Pick(indices ...int) IndexTerm {
	return IndexTerm{kind: termPick, picks: append([]int(nil), indices...)}
}

// indexOp is a normalized batch index expression: ellipsis expanded,
// negative indices resolved, bounds validated against the batch shape
// it was created on.
type indexOp struct {
	steps []idxStep
	scope int
	basic bool // Only At/Range/All/NewAxis terms
}

type idxStep struct {
	kind   termKind
	index  int
	start  int
	length int
	step   int
	mask   *tensor.RawTensor
	count  int // Number of true entries in mask
	picks  []int
}

// dimCost returns the number of source dimensions a term consumes.
func dimCost(t IndexTerm) int {
	switch t.kind {
	case termNewAxis, termEllipsis:
		return 0
	case termMask:
		return len(t.mask.Shape())
	default:
		return 1
	}
}

func newIndexOp(terms []IndexTerm, batch tensor.Shape) (*indexOp, error) {
	expanded, err := expandEllipsis(terms, batch)
	if err != nil {
		return nil, err
	}

	op := &indexOp{scope: len(batch), basic: true}
	dim := 0
	for _, t := range expanded {
		switch t.kind {
		case termAt:
			i, err := normalizeIndex(t.index, batch[dim], dim)
			if err != nil {
				return nil, err
			}
			op.steps = append(op.steps, idxStep{kind: termAt, index: i})
			dim++
		case termRange:
			if t.step < 1 {
				return nil, fmt.Errorf("index: step must be positive, got %d", t.step)
			}
			start, length := clampRange(t.start, t.stop, t.step, batch[dim])
			op.steps = append(op.steps, idxStep{kind: termRange, start: start, length: length, step: t.step})
			dim++
		case termAll:
			op.steps = append(op.steps, idxStep{kind: termAll})
			dim++
		case termNewAxis:
			op.steps = append(op.steps, idxStep{kind: termNewAxis})
		case termMask:
			if t.mask.DType() != tensor.Bool {
				return nil, &TypeMismatchError{Got: t.mask.DType().String(), Want: "bool mask"}
			}
			mshape := t.mask.Shape()
			if dim+len(mshape) > len(batch) {
				return nil, fmt.Errorf("index: mask of rank %d exceeds batch rank %d at dimension %d",
					len(mshape), len(batch), dim)
			}
			for i, sz := range mshape {
				if batch[dim+i] != sz {
					return nil, &ShapeMismatchError{Got: mshape, Want: batch[dim : dim+len(mshape)]}
				}
			}
			count, err := trueCount(t.mask)
			if err != nil {
				return nil, err
			}
			op.steps = append(op.steps, idxStep{kind: termMask, mask: t.mask, count: count})
			op.basic = false
			dim += len(mshape)
		case termPick:
			picks := make([]int, len(t.picks))
			for j, p := range t.picks {
				i, err := normalizeIndex(p, batch[dim], dim)
				if err != nil {
					return nil, err
				}
				picks[j] = i
			}
			op.steps = append(op.steps, idxStep{kind: termPick, picks: picks})
			op.basic = false
			dim++
		}
	}
	return op, nil
}

// expandEllipsis replaces a single Ellipsis with enough All terms to
// cover the batch rank.
func expandEllipsis(terms []IndexTerm, batch tensor.Shape) ([]IndexTerm, error) {
	ellipses := 0
	consumed := 0
	for _, t := range terms {
		if t.kind == termEllipsis {
			ellipses++
			continue
		}
		consumed += dimCost(t)
	}
	if ellipses > 1 {
		return nil, fmt.Errorf("index: at most one Ellipsis term is allowed")
	}
	if consumed > len(batch) {
		return nil, fmt.Errorf("index: %d dimensions indexed, batch rank is %d", consumed, len(batch))
	}
	if ellipses == 0 {
		return terms, nil
	}
	fill := len(batch) - consumed
	out := make([]IndexTerm, 0, len(terms)+fill)
	for _, t := range terms {
		if t.kind == termEllipsis {
			for i := 0; i < fill; i++ {
				out = append(out, All())
			}
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func normalizeIndex(i, size, dim int) (int, error) {
	n := i
	if n < 0 {
		n += size
	}
	if n < 0 || n >= size {
		return 0, fmt.Errorf("index %d is out of bounds for dimension %d with size %d", i, dim, size)
	}
	return n, nil
}

// clampRange resolves negative bounds and clamps to [0, size], Python
// slice style.
func clampRange(start, stop, step, size int) (int, int) {
	if start < 0 {
		start += size
	}
	if stop < 0 {
		stop += size
	}
	if start < 0 {
		start = 0
	}
	if start > size {
		start = size
	}
	if stop < start {
		stop = start
	}
	if stop > size {
		stop = size
	}
	length := (stop - start + step - 1) / step
	return start, length
}

func trueCount(mask *tensor.RawTensor) (int, error) {
	c, err := mask.Contiguous()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range c.AsBool() {
		if b {
			n++
		}
	}
	return n, nil
}

func (o *indexOp) forwardShape(src tensor.Shape) (tensor.Shape, error) {
	if len(src) < o.scope {
		return nil, fmt.Errorf("index: shape %v has fewer than %d dimensions", src, o.scope)
	}
	var out tensor.Shape
	dim := 0
	for _, st := range o.steps {
		switch st.kind {
		case termAt:
			dim++
		case termRange:
			out = append(out, st.length)
			dim++
		case termAll:
			out = append(out, src[dim])
			dim++
		case termNewAxis:
			out = append(out, 1)
		case termMask:
			out = append(out, st.count)
			dim += len(st.mask.Shape())
		case termPick:
			out = append(out, len(st.picks))
			dim++
		}
	}
	return append(out, src[dim:]...), nil
}

func (o *indexOp) forwardNames(names []string) []string {
	if names == nil {
		return nil
	}
	var out []string
	dim := 0
	for _, st := range o.steps {
		switch st.kind {
		case termAt:
			dim++
		case termRange, termAll, termPick:
			out = append(out, names[dim])
			dim++
		case termNewAxis:
			out = append(out, "")
		case termMask:
			out = append(out, "")
			dim += len(st.mask.Shape())
		}
	}
	return append(out, names[dim:]...)
}

func (o *indexOp) applyLeaf(leaf *tensor.RawTensor) (*tensor.RawTensor, error) {
	cur := leaf
	dim := 0
	var err error
	for _, st := range o.steps {
		switch st.kind {
		case termAt:
			cur, err = cur.Select(dim, st.index)
		case termRange:
			cur, err = cur.Narrow(dim, st.start, st.length, st.step)
			dim++
		case termAll:
			dim++
		case termNewAxis:
			cur, err = cur.Unsqueeze(dim)
			dim++
		case termMask:
			cur, err = maskApply(cur, dim, st.mask)
			dim++
		case termPick:
			cur, err = cur.Gather(dim, st.picks)
			dim++
		}
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// maskApply selects by a mask covering dimensions [dim, dim+rank),
// collapsing them into one dimension at position dim. The mask
// dimensions are rotated to the front, selected, and the collapsed
// dimension rotated back.
func maskApply(cur *tensor.RawTensor, dim int, mask *tensor.RawTensor) (*tensor.RawTensor, error) {
	if dim == 0 {
		return cur.MaskSelect(mask)
	}
	rank := len(cur.Shape())
	mrank := len(mask.Shape())
	perm := make([]int, 0, rank)
	for d := dim; d < dim+mrank; d++ {
		perm = append(perm, d)
	}
	for d := 0; d < dim; d++ {
		perm = append(perm, d)
	}
	for d := dim + mrank; d < rank; d++ {
		perm = append(perm, d)
	}
	front, err := cur.Permute(perm)
	if err != nil {
		return nil, err
	}
	sel, err := front.MaskSelect(mask)
	if err != nil {
		return nil, err
	}
	resRank := rank - mrank + 1
	back := make([]int, 0, resRank)
	for d := 1; d <= dim; d++ {
		back = append(back, d)
	}
	back = append(back, 0)
	for d := dim + 1; d < resRank; d++ {
		back = append(back, d)
	}
	return sel.Permute(back)
}

func (o *indexOp) writeLeaf(dst, value *tensor.RawTensor) error {
	if o.basic {
		return writeThroughAlias(o, dst, value)
	}
	if st, ok := o.soleAdvanced(); ok {
		switch st.kind {
		case termMask:
			return dst.MaskScatter(st.mask, value)
		case termPick:
			return dst.IndexScatter(0, st.picks, value)
		}
	}
	return ErrNotInvertible
}

// soleAdvanced reports whether the expression is one leading advanced
// term followed only by All terms, the only advanced form with a
// direct scatter.
func (o *indexOp) soleAdvanced() (idxStep, bool) {
	if len(o.steps) == 0 {
		return idxStep{}, false
	}
	first := o.steps[0]
	if first.kind != termMask && first.kind != termPick {
		return idxStep{}, false
	}
	for _, st := range o.steps[1:] {
		if st.kind != termAll {
			return idxStep{}, false
		}
	}
	return first, true
}

func (o *indexOp) unapplyLeaf(*tensor.RawTensor) (*tensor.RawTensor, error) {
	return nil, ErrNotInvertible
}

func (o *indexOp) inverseOf(transform) bool { return false }

func (o *indexOp) describe() string { return fmt.Sprintf("index(%d terms)", len(o.steps)) }
