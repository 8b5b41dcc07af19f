package td

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tensordict/internal/tensor"
)

// chainDict builds root -> a -> b -> c with one leaf per level.
func chainDict(t *testing.T) (root, a, b, c *TensorDict) {
	t.Helper()
	root, err := New(map[string]Value{
		"x": leafFull(t, tensor.Shape{2}, 0),
		"a": map[string]Value{
			"x": leafFull(t, tensor.Shape{2}, 0),
			"b": map[string]Value{
				"x": leafFull(t, tensor.Shape{2}, 0),
				"c": map[string]Value{
					"x": leafFull(t, tensor.Shape{2}, 0),
				},
			},
		},
	}, WithBatchSize(2))
	require.NoError(t, err)
	a = nestedPlain(t, root, "a")
	b = nestedPlain(t, a, "b")
	c = nestedPlain(t, b, "c")
	return root, a, b, c
}

// nestedPlain resolves a nested entry and requires the plain variant.
func nestedPlain(t *testing.T, d Dict, path ...string) *TensorDict {
	t.Helper()
	v, err := d.Get(path...)
	require.NoError(t, err)
	nested, ok := v.(*TensorDict)
	require.True(t, ok)
	return nested
}

func TestLockPropagatesOwners(t *testing.T) {
	root, a, b, c := chainDict(t)
	require.NoError(t, root.Lock())

	assert.True(t, root.IsLocked())
	assert.Equal(t, 0, root.LockOwnerCount())

	// Each level accumulates one owner per ancestor on the path.
	assert.True(t, a.IsLocked())
	assert.Equal(t, 1, a.LockOwnerCount())
	assert.Equal(t, 2, b.LockOwnerCount())
	assert.Equal(t, 3, c.LockOwnerCount())

	require.NoError(t, root.Unlock())
	assert.False(t, root.IsLocked())
	assert.False(t, c.IsLocked())
	assert.Equal(t, 0, a.LockOwnerCount())
	assert.Equal(t, 0, b.LockOwnerCount())
	assert.Equal(t, 0, c.LockOwnerCount())
}

func TestLockedRejectsStructuralMutation(t *testing.T) {
	d := sampleDict(t)
	require.NoError(t, d.Lock())

	err := d.Set(leafFull(t, tensor.Shape{4, 3}, 0), "new")
	assert.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "SetInPlace")
	assert.ErrorIs(t, d.Del("done"), ErrLocked)
	_, err = d.Pop("done")
	assert.ErrorIs(t, err, ErrLocked)
	assert.ErrorIs(t, d.Rename("done", "finished"), ErrLocked)
	assert.ErrorIs(t, d.SetBatchSize(tensor.Shape{4}), ErrLocked)

	// Value writes stay allowed.
	require.NoError(t, d.SetInPlace(leafFull(t, tensor.Shape{4, 3}, 1), "done"))

	require.NoError(t, d.Unlock())
	require.NoError(t, d.Set(leafFull(t, tensor.Shape{4, 3}, 0), "new"))
}

func TestUnlockNestedUnderLockedAncestor(t *testing.T) {
	root, a, _, _ := chainDict(t)
	require.NoError(t, root.Lock())

	// A descendant pinned by a locked ancestor cannot be unlocked.
	assert.ErrorIs(t, a.Unlock(), ErrLockedGraph)
	assert.True(t, a.IsLocked())

	require.NoError(t, root.Unlock())
	assert.False(t, a.IsLocked())
}

func TestUnlockTwoRootsSharingChild(t *testing.T) {
	shared := sampleDict(t)
	r1, err := New(map[string]Value{"shared": shared}, WithBatchSize(4, 3))
	require.NoError(t, err)
	r2, err := New(map[string]Value{"shared": shared}, WithBatchSize(4, 3))
	require.NoError(t, err)

	require.NoError(t, r1.Lock())
	require.NoError(t, r2.Lock())
	assert.Equal(t, 2, shared.LockOwnerCount())

	// Either root alone cannot unlock while the other still pins shared.
	assert.ErrorIs(t, r1.Unlock(), ErrLockedGraph)
	assert.ErrorIs(t, r2.Unlock(), ErrLockedGraph)
	// The failed unlock mutates nothing.
	assert.True(t, r1.IsLocked())
	assert.Equal(t, 2, shared.LockOwnerCount())

	// Releasing one root drops only its contribution.
	r1.Release()
	assert.False(t, r1.IsLocked())
	assert.Equal(t, 1, shared.LockOwnerCount())
	require.NoError(t, r2.Unlock())
	assert.False(t, shared.IsLocked())
}

func TestReleaseKeepsIntermediateOwners(t *testing.T) {
	root, a, b, _ := chainDict(t)
	require.NoError(t, root.Lock())

	root.Release()
	assert.False(t, root.IsLocked())
	assert.False(t, a.IsLocked())
	// b keeps a's path contribution even though a itself is unlocked.
	assert.Equal(t, 1, b.LockOwnerCount())
	assert.True(t, b.IsLocked())
}

func TestLockOnViewAndSource(t *testing.T) {
	d := sampleDict(t)
	v, err := d.Permute(1, 0)
	require.NoError(t, err)

	// Locking the view pins the source.
	require.NoError(t, v.Lock())
	assert.True(t, d.IsLocked())
	assert.Equal(t, 1, d.LockOwnerCount())
	assert.ErrorIs(t, d.Set(leafFull(t, tensor.Shape{4, 3}, 0), "new"), ErrLocked)
	require.NoError(t, v.Unlock())
	assert.False(t, d.IsLocked())

	// Locking the source makes the view report locked without owners of
	// its own.
	require.NoError(t, d.Lock())
	assert.True(t, v.IsLocked())
	assert.ErrorIs(t, v.Set(leafFull(t, tensor.Shape{3, 4}, 0), "new"), ErrLocked)
	require.NoError(t, d.Unlock())
}

func TestLockSubDictRejected(t *testing.T) {
	d := sampleDict(t)
	s, err := d.Sub(At(0))
	require.NoError(t, err)
	assert.ErrorIs(t, s.Lock(), ErrLockSubDict)
	assert.ErrorIs(t, s.Unlock(), ErrLockSubDict)

	// A sub view reflects its parent's lock state.
	require.NoError(t, d.Lock())
	assert.True(t, s.IsLocked())
	require.NoError(t, d.Unlock())
	assert.False(t, s.IsLocked())
}

func TestEnumerationCacheWhileLocked(t *testing.T) {
	d := sampleDict(t)

	// Unlocked enumerations recompute every call.
	k1 := d.Keys()
	k2 := d.Keys()
	assert.NotSame(t, &k1[0], &k2[0])

	require.NoError(t, d.Lock())
	k1 = d.Keys()
	k2 = d.Keys()
	assert.Same(t, &k1[0], &k2[0])

	n1 := d.NestedKeys(true)
	n2 := d.NestedKeys(true)
	assert.Same(t, &n1[0], &n2[0])

	f1, err := d.FlattenKeys(".")
	require.NoError(t, err)
	f2, err := d.FlattenKeys(".")
	require.NoError(t, err)
	assert.Same(t, f1, f2)

	// Unlock drops every cached enumeration.
	require.NoError(t, d.Unlock())
	k3 := d.Keys()
	assert.NotSame(t, &k2[0], &k3[0])
	f3, err := d.FlattenKeys(".")
	require.NoError(t, err)
	assert.NotSame(t, f2, f3)
}

func TestNestedCacheClearedByAncestorUnlock(t *testing.T) {
	root, a, _, _ := chainDict(t)
	require.NoError(t, root.Lock())

	k1 := a.Keys()
	k2 := a.Keys()
	assert.Same(t, &k1[0], &k2[0])

	require.NoError(t, root.Unlock())
	k3 := a.Keys()
	assert.NotSame(t, &k2[0], &k3[0])
}
