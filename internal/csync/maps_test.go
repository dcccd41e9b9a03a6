package csync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	t.Parallel()

	m := NewMap[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)

	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
	require.Equal(t, 2, m.Len())

	v, ok = m.Take("b")
	require.True(t, ok)
	require.Equal(t, 2, v)
	_, ok = m.Get("b")
	require.False(t, ok)

	m.Del("a")
	require.Zero(t, m.Len())
}

func TestMap_SeqAllowsMutation(t *testing.T) {
	t.Parallel()

	m := NewMap[int, int]()
	for i := range 10 {
		m.Set(i, i*i)
	}
	seen := 0
	for k := range m.Seq2() {
		m.Del(k)
		seen++
	}
	require.Equal(t, 10, seen)
	require.Zero(t, m.Len())
}

func TestMap_Concurrent(t *testing.T) {
	t.Parallel()

	m := NewMap[int, int]()
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Set(i, i)
			_, _ = m.Get(i)
		}()
	}
	wg.Wait()
	require.Equal(t, 100, m.Len())
}
