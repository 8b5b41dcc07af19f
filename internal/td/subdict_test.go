package td

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tensordict/internal/tensor"
)

func TestSubDictAliasesParent(t *testing.T) {
	d := sampleDict(t)
	s, err := d.Sub(At(1))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3}, s.BatchSize())
	assert.Equal(t, []string{"done", "next", "obs"}, s.Keys())

	leaf, err := s.GetLeaf("obs")
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 8}, leaf.Shape())
	src, _ := d.GetLeaf("obs")
	assert.True(t, leaf.SharesBufferWith(src))

	// Nested reads stay sub-views of the same index.
	nv, err := s.Get("next")
	require.NoError(t, err)
	nested, ok := nv.(*SubDict)
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{3}, nested.BatchSize())
}

func TestSubDictSetInPlaceWritesThrough(t *testing.T) {
	d := sampleDict(t)
	s, err := d.Sub(At(1))
	require.NoError(t, err)

	val, err := tensor.Full(tensor.Shape{3}, tensor.Float32, tensor.CPU, 9)
	require.NoError(t, err)
	require.NoError(t, s.SetInPlace(val, "done"))

	src, _ := d.GetLeaf("done")
	got, _ := src.At(1, 2)
	assert.Equal(t, 9.0, got)
	// Rows outside the sub-view's index stay untouched.
	got, _ = src.At(0, 0)
	assert.Equal(t, 0.0, got)

	// Parent-shaped values are rejected.
	err = s.SetInPlace(leafFull(t, tensor.Shape{4, 3}, 0), "done")
	var sm *ShapeMismatchError
	require.ErrorAs(t, err, &sm)
	assert.True(t, sm.Exact)
}

func TestSubDictSetProhibited(t *testing.T) {
	d := sampleDict(t)
	s, err := d.Sub(At(1))
	require.NoError(t, err)

	err = s.Set(leafFull(t, tensor.Shape{3}, 0), "done")
	var se *SubDictSetError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Existing)
	assert.Contains(t, err.Error(), "use SetInPlace")

	err = s.Set(leafFull(t, tensor.Shape{3}, 0), "reward")
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Existing)
	assert.Contains(t, err.Error(), "no parent-shaped storage")
}

func TestSubDictStructuralMutationRejected(t *testing.T) {
	d := sampleDict(t)
	s, err := d.Sub(At(1))
	require.NoError(t, err)

	assert.ErrorIs(t, s.Del("done"), ErrSubDictDel)
	_, err = s.Pop("done")
	assert.ErrorIs(t, err, ErrSubDictDel)
	assert.ErrorIs(t, s.SetBatchSize(tensor.Shape{3}), ErrBatchSizeDerived)
	assert.ErrorIs(t, s.Memmap(t.TempDir()), ErrMemmapOnSubDict)
}

func TestSubDictFillRegionOnly(t *testing.T) {
	d := sampleDict(t)
	s, err := d.Sub(At(2))
	require.NoError(t, err)

	require.NoError(t, s.FillAll(5))
	src, _ := d.GetLeaf("obs")
	got, _ := src.At(2, 0, 0)
	assert.Equal(t, 5.0, got)
	got, _ = src.At(1, 0, 0)
	assert.Equal(t, 1.0, got)

	deep, _ := d.GetLeaf("next", "obs")
	got, _ = deep.At(2, 1, 3)
	assert.Equal(t, 5.0, got)
}

func TestSubDictRangeRegion(t *testing.T) {
	d := sampleDict(t)
	s, err := d.Sub(Range(1, 3))
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3}, s.BatchSize())

	val, err := tensor.Full(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU, 4)
	require.NoError(t, err)
	require.NoError(t, s.SetInPlace(val, "done"))
	src, _ := d.GetLeaf("done")
	got, _ := src.At(2, 0)
	assert.Equal(t, 4.0, got)
	got, _ = src.At(3, 0)
	assert.Equal(t, 0.0, got)
}

func TestSubDictChainRoot(t *testing.T) {
	d := sampleDict(t)
	s, err := d.Sub(Range(0, 3))
	require.NoError(t, err)
	inner, err := s.Sub(At(1))
	require.NoError(t, err)

	sub, ok := inner.(*SubDict)
	require.True(t, ok)
	assert.Same(t, s, sub.Parent())
	assert.Same(t, d, sub.Root())
	assert.Equal(t, tensor.Shape{3}, sub.BatchSize())

	// Writes through the chain land in the root's storage.
	val, err := tensor.Full(tensor.Shape{3}, tensor.Float32, tensor.CPU, 3)
	require.NoError(t, err)
	require.NoError(t, sub.SetInPlace(val, "done"))
	src, _ := d.GetLeaf("done")
	got, _ := src.At(1, 1)
	assert.Equal(t, 3.0, got)
}

func TestSubDictMaterialize(t *testing.T) {
	d := sampleDict(t)
	s, err := d.Sub(At(0))
	require.NoError(t, err)

	m, err := s.ToTensorDict()
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3}, m.BatchSize())
	leaf, _ := m.GetLeaf("obs")
	src, _ := d.GetLeaf("obs")
	assert.False(t, leaf.SharesBufferWith(src))
	assert.True(t, m.Equal(s))
}

func TestSubDictSetInPlaceDictValue(t *testing.T) {
	d := sampleDict(t)
	s, err := d.Sub(At(1))
	require.NoError(t, err)

	patch, err := New(map[string]Value{
		"obs": leafFull(t, tensor.Shape{3, 8}, 7),
	}, WithBatchSize(3))
	require.NoError(t, err)
	require.NoError(t, s.SetInPlace(patch, "next"))

	deep, _ := d.GetLeaf("next", "obs")
	got, _ := deep.At(1, 0, 0)
	assert.Equal(t, 7.0, got)
	got, _ = deep.At(0, 0, 0)
	assert.Equal(t, 2.0, got)
}
