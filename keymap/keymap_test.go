package keymap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLifecycle(t *testing.T) {
	m := New("custkey")
	require.Equal(t, "custkey", m.Column())

	l := m.Get(int64(1))
	require.Equal(t, Unseen, l.State)
	require.False(t, l.IsConcrete())

	require.True(t, m.Assign(int64(1), 3))
	l = m.Get(int64(1))
	require.Equal(t, Assigned, l.State)
	require.Equal(t, int64(3), l.Partition)

	m.MarkException(int64(1))
	require.Equal(t, Exception, m.Get(int64(1)).State)

	// Exception is terminal
	require.False(t, m.Assign(int64(1), 2))
	require.Equal(t, Exception, m.Get(int64(1)).State)
	require.Equal(t, 1, m.Exceptions())
	require.Equal(t, 1, m.Len())
}

func TestNilKey(t *testing.T) {
	m := New("c")
	m.Assign(nil, 0)
	require.Equal(t, Assigned, m.Get(nil).State)
	require.Equal(t, Unseen, m.Get("").State)
}

func TestRange(t *testing.T) {
	m := New("c")
	m.Assign("a", 0)
	m.Assign("b", 1)
	m.MarkException("c")

	seen := map[any]State{}
	m.Range(func(v any, l Lookup) bool {
		seen[v] = l.State
		return true
	})
	require.Equal(t, map[any]State{"a": Assigned, "b": Assigned, "c": Exception}, seen)

	calls := 0
	m.Range(func(any, Lookup) bool {
		calls++
		return false
	})
	require.Equal(t, 1, calls)
}
