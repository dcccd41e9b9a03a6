package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStore_SaveListReadDelete(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	require.NoError(t, store.Save("a.txt", []byte("old")))
	require.NoError(t, store.Save("b.html", []byte("<p>new</p>")))

	older := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(store.Dir(), "a.txt"), older, older))

	infos, err := store.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.Equal(t, "b.html", infos[0].Name)
	require.EqualValues(t, 10, infos[0].Size)
	require.Equal(t, "10 B", infos[0].SizeHuman)

	require.ErrorIs(t, store.Save("a.txt", []byte("again")), ErrExists)

	require.NoError(t, store.Delete("a.txt"))
	_, _, err = store.Read("a.txt")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.Delete("a.txt"), ErrNotFound)
}

func TestStore_RejectsTraversal(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	for _, name := range []string{"", "../etc/passwd", "a/b", `a\b`, "..", "x..y"} {
		require.ErrorIs(t, store.Delete(name), ErrInvalidName, name)
		_, _, err := store.Read(name)
		require.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestStore_ListMissingDir(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "nope"))
	infos, err := store.List()
	require.NoError(t, err)
	require.Empty(t, infos)
}
