package kvstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	tree, err := Open(t.TempDir())
	require.NoError(t, err)

	rec := NewRecord()
	rec.Set("id", "42")
	rec.Set("state", "running")
	rec.Set("command", "sh -c 'echo hi\nbye'")

	require.NoError(t, tree.Save("a/b", rec))

	loaded, err := tree.Load("a/b")
	require.NoError(t, err)

	v, ok := loaded.Get("state")
	require.True(t, ok)
	require.Equal(t, "running", v)

	v, ok = loaded.Get("command")
	require.True(t, ok)
	require.Equal(t, "sh -c 'echo hi\nbye'", v)
}

func TestSaveOverwritesAtomically(t *testing.T) {
	tree, err := Open(t.TempDir())
	require.NoError(t, err)

	r1 := NewRecord()
	r1.Set("state", "stopped")
	require.NoError(t, tree.Save("x", r1))

	r2 := NewRecord()
	r2.Set("state", "running")
	require.NoError(t, tree.Save("x", r2))

	loaded, err := tree.Load("x")
	require.NoError(t, err)
	v, _ := loaded.Get("state")
	require.Equal(t, "running", v)
}

func TestAppendUpsertsOnLoad(t *testing.T) {
	tree, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, tree.Append("vol1", "link", "root / rw ! /mnt"))
	require.NoError(t, tree.Append("vol1", "state", "ready"))
	require.NoError(t, tree.Append("vol1", "state", "tuning"))

	rec, err := tree.Load("vol1")
	require.NoError(t, err)
	v, ok := rec.Get("state")
	require.True(t, ok)
	require.Equal(t, "tuning", v)
}

func TestListAndRemove(t *testing.T) {
	tree, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, tree.Save("a", NewRecord()))
	require.NoError(t, tree.Save("b/c", NewRecord()))

	names, err := tree.List()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b/c"}, names)

	require.NoError(t, tree.Remove("a"))
	names, err = tree.List()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"b/c"}, names)
}

func TestIndexRebuildAndLookup(t *testing.T) {
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "idx.db"))
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Rebuild(map[uint32]string{1: "/", 2: "/porto", 3: "a/b"}))

	name, err := idx.Lookup(3)
	require.NoError(t, err)
	require.Equal(t, "a/b", name)

	require.NoError(t, idx.DeleteID(3))
	name, err = idx.Lookup(3)
	require.NoError(t, err)
	require.Equal(t, "", name)
}
