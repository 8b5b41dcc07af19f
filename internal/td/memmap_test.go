package td

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tensordict/internal/serialization"
	"github.com/born-ml/tensordict/internal/tensor"
)

func TestMemmapRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := sampleDict(t)
	before, err := d.Clone()
	require.NoError(t, err)

	require.NoError(t, d.Memmap(dir))

	// Values survive the move into file-backed storage.
	assert.True(t, d.Equal(before))
	leaf, err := d.GetLeaf("obs")
	require.NoError(t, err)
	assert.True(t, leaf.FileBacked())
	deep, err := d.GetLeaf("next", "obs")
	require.NoError(t, err)
	assert.True(t, deep.FileBacked())

	// The layout on disk is one sidecar plus one file per leaf, with
	// nested containers in sub-directories.
	_, err = os.Stat(filepath.Join(dir, serialization.MetaFileName))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "obs.mem"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "next", "obs.mem"))
	require.NoError(t, err)

	require.NoError(t, d.Flush())

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, loaded.Equal(before))
	assert.Equal(t, tensor.Shape{4, 3}, loaded.BatchSize())
}

func TestMemmapFreezesStructure(t *testing.T) {
	dir := t.TempDir()
	d := sampleDict(t)
	require.NoError(t, d.Memmap(dir))

	err := d.Set(leafFull(t, tensor.Shape{4, 3}, 0), "new")
	assert.ErrorIs(t, err, ErrMemmapStructural)
	assert.ErrorIs(t, d.Del("done"), ErrMemmapStructural)
	_, err = d.Pop("done")
	assert.ErrorIs(t, err, ErrMemmapStructural)

	// Contents stay writable in place, visible through the mapping.
	require.NoError(t, d.SetInPlace(leafFull(t, tensor.Shape{4, 3}, 3), "done"))
	require.NoError(t, d.Flush())
	loaded, err := Load(dir)
	require.NoError(t, err)
	got, err := loaded.GetLeaf("done")
	require.NoError(t, err)
	v, _ := got.At(0, 0)
	assert.Equal(t, 3.0, v)
}

func TestMemmapFailureLeavesContainerHeapBacked(t *testing.T) {
	dir := t.TempDir()
	d := sampleDict(t)
	inner, err := New(map[string]Value{
		"x": leafFull(t, tensor.Shape{4, 3}, 1),
	}, WithBatchSize(4, 3))
	require.NoError(t, err)
	lazy, err := inner.Unsqueeze(2)
	require.NoError(t, err)
	require.NoError(t, d.Set(lazy, "zview"))

	// The lazy entry is hit after the leaves; the walk fails there.
	err = d.Memmap(dir)
	assert.ErrorIs(t, err, ErrMemmapOnView)

	// Leaves already written to disk are not swapped in and no sidecar
	// marks the directory as a container.
	assert.False(t, d.IsMemmap())
	leaf, err := d.GetLeaf("done")
	require.NoError(t, err)
	assert.False(t, leaf.FileBacked())
	_, err = serialization.ReadMeta(dir)
	assert.ErrorIs(t, err, serialization.ErrNoMeta)

	// The container still works as plain storage.
	require.NoError(t, d.Del("zview"))
	require.NoError(t, d.Set(leafFull(t, tensor.Shape{4, 3}, 2), "new"))
}

func TestMemmapSamePrefixNoop(t *testing.T) {
	dir := t.TempDir()
	d := sampleDict(t)
	require.NoError(t, d.Memmap(dir))
	require.NoError(t, d.Memmap(dir))

	other := t.TempDir()
	assert.ErrorIs(t, d.Memmap(other), ErrAlreadyMemmapped)

	// CopyExisting re-memmaps under the new prefix.
	require.NoError(t, d.Memmap(other, CopyExisting()))
	_, err := os.Stat(filepath.Join(other, "obs.mem"))
	require.NoError(t, err)
	loaded, err := Load(other)
	require.NoError(t, err)
	assert.True(t, loaded.Equal(d))
}

func TestMemmapStacked(t *testing.T) {
	dir := t.TempDir()
	a, b := frameDict(t, 1), frameDict(t, 2)
	s, err := NewStacked(0, a, b)
	require.NoError(t, err)
	before, err := s.ToTensorDict()
	require.NoError(t, err)

	require.NoError(t, s.Memmap(dir))

	// Siblings land in numbered sub-directories.
	_, err = os.Stat(filepath.Join(dir, "0", "obs.mem"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "1", "next", "obs.mem"))
	require.NoError(t, err)
	meta, err := serialization.ReadMeta(dir)
	require.NoError(t, err)
	require.NotNil(t, meta.Stack)
	assert.Equal(t, 0, meta.Stack.StackDim)
	assert.Equal(t, 2, meta.Stack.Count)

	la, err := a.GetLeaf("obs")
	require.NoError(t, err)
	assert.True(t, la.FileBacked())

	assert.ErrorIs(t, s.Append(frameDict(t, 3)), ErrMemmapStructural)

	loaded, err := Load(dir)
	require.NoError(t, err)
	ls, ok := loaded.(*StackedDict)
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{2, 3}, ls.BatchSize())
	assert.True(t, ls.Equal(before))
}

func TestMemmapPreservesNamesAndDevice(t *testing.T) {
	dir := t.TempDir()
	d, err := New(map[string]Value{
		"a": leafFull(t, tensor.Shape{4, 3}, 1),
	}, WithBatchSize(4, 3), WithNames("batch", "time"), WithDevice(tensor.CPU))
	require.NoError(t, err)

	require.NoError(t, d.Memmap(dir))
	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"batch", "time"}, loaded.Names())
	dev, ok := loaded.Device()
	require.True(t, ok)
	assert.Equal(t, tensor.CPU, dev)
}

func TestLoadRejectsCorruptSidecar(t *testing.T) {
	dir := t.TempDir()
	d := sampleDict(t)
	require.NoError(t, d.Memmap(dir))

	meta, err := serialization.ReadMeta(dir)
	require.NoError(t, err)
	meta.Leaves[0].Size++
	require.NoError(t, serialization.WriteMeta(dir, meta))

	_, err = Load(dir)
	var metaErr *serialization.MetaError
	require.ErrorAs(t, err, &metaErr)
	assert.Equal(t, "leaves", metaErr.Field)
}

func TestLoadMissingDir(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, serialization.ErrNoMeta)
}

func TestMemmapViewAndSubRejected(t *testing.T) {
	d := sampleDict(t)
	v, err := d.Permute(1, 0)
	require.NoError(t, err)
	assert.ErrorIs(t, v.Memmap(t.TempDir()), ErrMemmapOnView)

	s, err := d.Sub(At(0))
	require.NoError(t, err)
	assert.ErrorIs(t, s.Memmap(t.TempDir()), ErrMemmapOnSubDict)
}
