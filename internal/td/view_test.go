package td

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tensordict/internal/tensor"
)

func TestPermuteView(t *testing.T) {
	d := sampleDict(t)
	v, err := d.Permute(1, 0)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 4}, v.BatchSize())

	// Leaves keep their trailing dimensions.
	leaf, err := v.GetLeaf("obs")
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 4, 8}, leaf.Shape())

	// Zero-copy: the view aliases the source storage.
	src, _ := d.GetLeaf("obs")
	assert.True(t, leaf.SharesBufferWith(src))

	// Nested containers are wrapped, not copied.
	nv, err := v.Get("next")
	require.NoError(t, err)
	nested, ok := nv.(*ViewDict)
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{3, 4}, nested.BatchSize())
}

func TestViewInverseReturnsSource(t *testing.T) {
	d := sampleDict(t)

	v, err := d.Permute(1, 0)
	require.NoError(t, err)
	back, err := v.Permute(1, 0)
	require.NoError(t, err)
	assert.Same(t, d, back)

	tr, err := d.Transpose(0, 1)
	require.NoError(t, err)
	back, err = tr.Transpose(1, 0)
	require.NoError(t, err)
	assert.Same(t, d, back)

	u, err := d.Unsqueeze(0)
	require.NoError(t, err)
	back, err = u.Squeeze(0)
	require.NoError(t, err)
	assert.Same(t, d, back)

	r, err := d.Reshape(12)
	require.NoError(t, err)
	back, err = r.Reshape(4, 3)
	require.NoError(t, err)
	assert.Same(t, d, back)
}

func TestViewNonInverseStacksLazily(t *testing.T) {
	d := sampleDict(t)
	v, err := d.Unsqueeze(0)
	require.NoError(t, err)

	// A further transform that is not the inverse stacks a second view.
	v2, err := v.Unsqueeze(0)
	require.NoError(t, err)
	assert.NotSame(t, Dict(d), v2)
	assert.Equal(t, tensor.Shape{1, 1, 4, 3}, v2.BatchSize())

	// Squeezing a non-unit dimension is rejected up front.
	_, err = v.Squeeze(1)
	require.Error(t, err)
}

func TestViewWriteThrough(t *testing.T) {
	d := sampleDict(t)
	v, err := d.Permute(1, 0)
	require.NoError(t, err)

	val, err := tensor.Full(tensor.Shape{3, 4}, tensor.Float32, tensor.CPU, 7)
	require.NoError(t, err)
	require.NoError(t, v.SetInPlace(val, "done"))

	src, _ := d.GetLeaf("done")
	got, _ := src.At(2, 1)
	assert.Equal(t, 7.0, got)
}

func TestViewSetInPlaceShapeStrict(t *testing.T) {
	d := sampleDict(t)
	v, err := d.Permute(1, 0)
	require.NoError(t, err)

	// Source-shaped values are rejected; the view expects its own shape.
	err = v.SetInPlace(leafFull(t, tensor.Shape{4, 3}, 0), "done")
	var sm *ShapeMismatchError
	require.ErrorAs(t, err, &sm)
	assert.True(t, sm.Exact)
}

func TestViewSetNewKeyUnapplies(t *testing.T) {
	d := sampleDict(t)
	v, err := d.Permute(1, 0)
	require.NoError(t, err)

	val, err := tensor.Full(tensor.Shape{3, 4, 2}, tensor.Float32, tensor.CPU, 5)
	require.NoError(t, err)
	require.NoError(t, v.Set(val, "extra"))

	// The source sees the key in source orientation.
	src, err := d.GetLeaf("extra")
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4, 3, 2}, src.Shape())
	got, _ := src.At(1, 2, 0)
	want, _ := val.At(2, 1, 0)
	assert.Equal(t, want, got)
}

func TestViewSetRejectsBatchViolation(t *testing.T) {
	d := sampleDict(t)
	v, err := d.Permute(1, 0)
	require.NoError(t, err)
	err = v.Set(leafFull(t, tensor.Shape{4, 3}, 0), "bad")
	var sm *ShapeMismatchError
	require.ErrorAs(t, err, &sm)
}

func TestReshapeViewWrite(t *testing.T) {
	d := sampleDict(t)
	v, err := d.Reshape(12)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{12}, v.BatchSize())

	val, err := tensor.Full(tensor.Shape{12}, tensor.Float32, tensor.CPU, 4)
	require.NoError(t, err)
	require.NoError(t, v.SetInPlace(val, "done"))
	src, _ := d.GetLeaf("done")
	got, _ := src.At(3, 2)
	assert.Equal(t, 4.0, got)
}

func TestReshapeInfersDimension(t *testing.T) {
	d := sampleDict(t)
	v, err := d.Reshape(2, -1)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 6}, v.BatchSize())

	_, err = d.Reshape(5, -1)
	require.Error(t, err)
}

func TestIndexViewBasic(t *testing.T) {
	d := sampleDict(t)

	v, err := d.Index(At(1))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3}, v.BatchSize())

	leaf, err := v.GetLeaf("obs")
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 8}, leaf.Shape())
	src, _ := d.GetLeaf("obs")
	assert.True(t, leaf.SharesBufferWith(src))

	rv, err := d.Index(Range(1, 3))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, rv.BatchSize())

	ev, err := d.Index(Ellipsis(), At(0))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4}, ev.BatchSize())

	nv, err := d.Index(NewAxis(), All(), All())
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 4, 3}, nv.BatchSize())
}

func TestIndexViewMask(t *testing.T) {
	d := sampleDict(t)
	mask, err := tensor.FromBool([]bool{true, false, true, false}, tensor.Shape{4})
	require.NoError(t, err)

	v, err := d.Index(Mask(mask))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, v.BatchSize())

	leaf, err := v.GetLeaf("obs")
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3, 8}, leaf.Shape())

	// Structural set through an advanced index is not invertible.
	err = v.Set(leafFull(t, tensor.Shape{2, 3}, 0), "extra")
	assert.ErrorIs(t, err, ErrNotInvertible)

	// In-place writes scatter back into the source.
	val, err := tensor.Full(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU, 8)
	require.NoError(t, err)
	require.NoError(t, v.SetInPlace(val, "done"))
	src, _ := d.GetLeaf("done")
	got, _ := src.At(2, 0)
	assert.Equal(t, 8.0, got)
	got, _ = src.At(1, 0)
	assert.Equal(t, 0.0, got)
}

func TestIndexViewPick(t *testing.T) {
	d := sampleDict(t)
	v, err := d.Index(Pick(2, 0))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, v.BatchSize())

	val, err := tensor.Full(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU, 6)
	require.NoError(t, err)
	require.NoError(t, v.SetInPlace(val, "done"))
	src, _ := d.GetLeaf("done")
	got, _ := src.At(2, 1)
	assert.Equal(t, 6.0, got)
	got, _ = src.At(1, 1)
	assert.Equal(t, 0.0, got)
}

func TestIndexViewFillRegionOnly(t *testing.T) {
	d := sampleDict(t)
	v, err := d.Index(At(0))
	require.NoError(t, err)

	require.NoError(t, v.FillAll(7))
	src, _ := d.GetLeaf("done")
	got, _ := src.At(0, 2)
	assert.Equal(t, 7.0, got)
	// Rows outside the indexed region stay untouched.
	got, _ = src.At(3, 2)
	assert.Equal(t, 0.0, got)

	deep, _ := d.GetLeaf("next", "obs")
	got, _ = deep.At(0, 1, 4)
	assert.Equal(t, 7.0, got)
	got, _ = deep.At(2, 1, 4)
	assert.Equal(t, 2.0, got)

	// Bijective transforms still cover every element.
	p, err := d.Permute(1, 0)
	require.NoError(t, err)
	require.NoError(t, p.Zero())
	got, _ = src.At(3, 2)
	assert.Equal(t, 0.0, got)
	got, _ = deep.At(2, 1, 4)
	assert.Equal(t, 0.0, got)
}

func TestViewStructuralOpsDelegated(t *testing.T) {
	d := sampleDict(t)
	v, err := d.Permute(1, 0)
	require.NoError(t, err)

	require.NoError(t, v.Del("done"))
	assert.False(t, d.Has("done"))

	popped, err := v.Pop("obs")
	require.NoError(t, err)
	leaf := leafOf(popped)
	require.NotNil(t, leaf)
	assert.Equal(t, tensor.Shape{3, 4, 8}, leaf.Shape())
	assert.False(t, d.Has("obs"))
}

func TestViewSetBatchSizeDerived(t *testing.T) {
	d := sampleDict(t)
	v, err := d.Permute(1, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, v.SetBatchSize(tensor.Shape{3, 4}), ErrBatchSizeDerived)
	assert.ErrorIs(t, v.Memmap(t.TempDir()), ErrMemmapOnView)
}

func TestViewToTensorDictMaterializes(t *testing.T) {
	d := sampleDict(t)
	v, err := d.Permute(1, 0)
	require.NoError(t, err)

	m, err := v.ToTensorDict()
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 4}, m.BatchSize())
	leaf, _ := m.GetLeaf("obs")
	src, _ := d.GetLeaf("obs")
	assert.False(t, leaf.SharesBufferWith(src))
	assert.True(t, m.Equal(v))
}

func TestViewNames(t *testing.T) {
	d, err := New(map[string]Value{
		"a": leafFull(t, tensor.Shape{4, 3}, 0),
	}, WithBatchSize(4, 3), WithNames("batch", "time"))
	require.NoError(t, err)

	v, err := d.Permute(1, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"time", "batch"}, v.Names())

	u, err := d.Unsqueeze(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"batch", "", "time"}, u.Names())
}
