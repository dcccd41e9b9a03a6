package artifact

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestExtractor(t *testing.T) (*Extractor, *Store) {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "artifacts"))
	e := NewExtractor(store)
	e.now = func() time.Time { return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC) }
	return e, store
}

func TestExtract_PythonAndJSON(t *testing.T) {
	t.Parallel()

	e, store := newTestExtractor(t)
	reply := "Here is the script:\n\n```python\nprint('hi')\n```\n\n\n\nAnd the config:\n```\n{\"a\": 1}\n```\nDone."

	text, n := e.Extract(reply)
	require.Equal(t, 2, n)
	require.NotContains(t, text, "```")
	require.Contains(t, text, "2 artifacts")
	require.Contains(t, text, "/artifacts")
	require.NotContains(t, text, "\n\n\n")

	infos, err := store.List()
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	sort.Strings(names)
	require.Equal(t, []string{
		"artifact_20250304_050607_1.py",
		"artifact_20250304_050607_2.json",
	}, names)

	body, ctype, err := store.Read("artifact_20250304_050607_1.py")
	require.NoError(t, err)
	require.Equal(t, "print('hi')", string(body))
	require.True(t, strings.HasPrefix(ctype, "text/plain"))
}

func TestExtract_NoBlocks(t *testing.T) {
	t.Parallel()

	e, store := newTestExtractor(t)
	reply := "Plain answer.\n\n\n\nWith gaps."
	text, n := e.Extract(reply)
	require.Zero(t, n)
	require.Equal(t, reply, text)

	infos, err := store.List()
	require.NoError(t, err)
	require.Empty(t, infos)
}

func TestExtract_BareHTMLDocument(t *testing.T) {
	t.Parallel()

	e, store := newTestExtractor(t)
	reply := "<!DOCTYPE html>\n<html><body>hi</body></html>"
	text, n := e.Extract(reply)
	require.Equal(t, 1, n)
	require.True(t, strings.HasPrefix(text, "[1 artifact saved"))

	_, ctype, err := store.Read("artifact_20250304_050607_1.html")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(ctype, "text/html"))
}

func TestExtract_NameCollision(t *testing.T) {
	t.Parallel()

	e, store := newTestExtractor(t)
	reply := "```js\nconsole.log(1)\n```"
	_, n := e.Extract(reply)
	require.Equal(t, 1, n)
	_, n = e.Extract(reply)
	require.Equal(t, 1, n)

	infos, err := store.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
}

func TestExtract_PersistFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	// The artifacts directory cannot be created under a regular file.
	e := NewExtractor(NewStore(filepath.Join(blocker, "artifacts")))
	reply := "```sql\nselect 1;\n```"
	text, n := e.Extract(reply)
	require.Zero(t, n)
	require.Equal(t, reply, text)
}

func TestBlockExt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		block Block
		want  string
	}{
		{Block{Lang: "HTML"}, ".html"},
		{Block{Lang: "htm"}, ".html"},
		{Block{Lang: "css"}, ".css"},
		{Block{Lang: "javascript"}, ".js"},
		{Block{Lang: "py"}, ".py"},
		{Block{Lang: "xml"}, ".xml"},
		{Block{Lang: "bash"}, ".sh"},
		{Block{Lang: "shell"}, ".sh"},
		{Block{Lang: "typescript"}, ".ts"},
		{Block{Lang: "tsx"}, ".tsx"},
		{Block{Lang: "jsx"}, ".jsx"},
		{Block{Lang: "rust"}, ".txt"},
		{Block{Body: "<html><body/></html>"}, ".html"},
		{Block{Body: "  [1, 2]"}, ".json"},
		{Block{Body: "import os\nprint(os.getcwd())"}, ".py"},
		{Block{Body: "def main():\n    pass"}, ".py"},
		{Block{Body: "just some notes"}, ".txt"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.block.Ext(), "block %+v", tt.block)
	}
}
