package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAugment(t *testing.T) {
	t.Parallel()

	out, err := Augment("What is <b>Go</b>?", []Document{
		{Source: "go.md", Content: "Go is a programming language & toolchain."},
		{Source: "long.txt", Content: strings.Repeat("z", 1500)},
	})
	require.NoError(t, err)
	require.Contains(t, out, "[Source: go.md]")
	require.Contains(t, out, "Go is a programming language & toolchain.")
	require.Contains(t, out, "[Source: long.txt]")
	require.Contains(t, out, strings.Repeat("z", ContextLimit))
	require.NotContains(t, out, strings.Repeat("z", ContextLimit+1))
	require.True(t, strings.HasSuffix(out, "Question: What is <b>Go</b>?"))
	require.Contains(t, out, "only the context")
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "héll", Truncate("héllo", 4))
	require.Equal(t, "hi", Truncate("hi", 10))
	require.Empty(t, Truncate("hi", 0))
}
