package knowledge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupTestIndex(t *testing.T) *Index {
	t.Helper()
	conn, err := Connect(t.Context(), ":memory:")
	require.NoError(t, err)
	idx := NewIndex(conn)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestIngestAndSearch(t *testing.T) {
	t.Parallel()

	idx := setupTestIndex(t)
	ctx := t.Context()

	res, err := idx.Ingest(ctx, "go.md", "Goroutines are lightweight threads managed by the Go runtime.")
	require.NoError(t, err)
	require.Equal(t, 1, res.Chunks)
	require.False(t, res.Skipped)

	_, err = idx.Ingest(ctx, "cooking.md", "Boil the pasta in salted water.")
	require.NoError(t, err)

	results, err := idx.Search(ctx, "how do goroutines work?", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "go.md", results[0].Source)
	require.Contains(t, results[0].Content, "Goroutines")

	results, err = idx.Search(ctx, "quantum chromodynamics", 3)
	require.NoError(t, err)
	require.Empty(t, results)

	results, err = idx.Search(ctx, "  ?! ", 3)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestIngest_DedupesAndReplaces(t *testing.T) {
	t.Parallel()

	idx := setupTestIndex(t)
	ctx := t.Context()

	_, err := idx.Ingest(ctx, "notes.txt", "alpha bravo")
	require.NoError(t, err)
	res, err := idx.Ingest(ctx, "notes.txt", "alpha bravo")
	require.NoError(t, err)
	require.True(t, res.Skipped)

	_, err = idx.Ingest(ctx, "notes.txt", "charlie delta")
	require.NoError(t, err)

	results, err := idx.Search(ctx, "alpha", 3)
	require.NoError(t, err)
	require.Empty(t, results)
	results, err = idx.Search(ctx, "charlie", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)

	sources, err := idx.Sources(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"notes.txt"}, sources)
}

func TestIngest_Empty(t *testing.T) {
	t.Parallel()

	idx := setupTestIndex(t)
	_, err := idx.Ingest(t.Context(), "empty.txt", "   ")
	require.ErrorIs(t, err, ErrEmptyDocument)
}

func TestIngestDir(t *testing.T) {
	t.Parallel()

	idx := setupTestIndex(t)
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs", "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.md"), []byte("# Sandboxes\n\nIsolated execution."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "nested", "b.html"),
		[]byte("<html><head><title>Streaming</title></head><body><p>Server-sent events carry chunks.</p><script>x()</script></body></html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "skip.bin"), []byte{0, 1, 2}, 0o644))

	results, err := idx.IngestDir(t.Context(), root, "")
	require.NoError(t, err)
	require.Len(t, results, 2)

	hits, err := idx.Search(t.Context(), "events", 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.True(t, strings.HasSuffix(hits[0].Source, "b.html"))
	require.Contains(t, hits[0].Content, "Streaming")
	require.NotContains(t, hits[0].Content, "x()")
}

func TestIngestDir_Gitignore(t *testing.T) {
	t.Parallel()

	idx := setupTestIndex(t)
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "build"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("build/\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "keep.md"), []byte("kept notes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "build", "out.md"), []byte("generated notes"), 0o644))

	results, err := idx.IngestDir(t.Context(), root, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, strings.HasSuffix(results[0].Source, "keep.md"))
}

func TestIngestReader_Unsupported(t *testing.T) {
	t.Parallel()

	idx := setupTestIndex(t)
	_, err := idx.IngestReader(t.Context(), "image.png", strings.NewReader("data"))
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestChunk(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("word ", 100) + "\n\n" + "short paragraph"
	chunks := Chunk(text, 120)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		require.LessOrEqual(t, len(c), 120)
	}
	require.True(t, strings.HasSuffix(chunks[len(chunks)-1], "short paragraph"))

	require.Equal(t, []string{"a\n\nb"}, Chunk("a\n\n\n\nb", 100))
	require.Empty(t, Chunk("   ", 100))
}

func TestMatchQuery(t *testing.T) {
	t.Parallel()

	require.Equal(t, `"what" OR "is" OR "FTS5"`, matchQuery("what is FTS5?"))
	require.Empty(t, matchQuery("-- ;"))
}
