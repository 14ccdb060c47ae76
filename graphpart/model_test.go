package graphpart

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danthegoodman1/copartition/table"
	"github.com/stretchr/testify/require"
)

func rowsOf(keys ...[]any) []table.Row {
	rows := make([]table.Row, len(keys))
	for i, k := range keys {
		rows[i] = table.Row{Num: int64(i), ColVals: k}
	}
	return rows
}

func TestEdgeModelOffsets(t *testing.T) {
	m, err := NewEdgeModel([]int{0, 1})
	require.NoError(t, err)

	g, err := m.Build(rowsOf(
		[]any{"x", "a"},
		[]any{"y", "a"},
		[]any{"x", "b"},
	))
	require.NoError(t, err)
	// column 0: x=0 y=1, column 1 starts at 2: a=2 b=3
	require.Equal(t, int64(4), g.NumVertices)
	require.Equal(t, []Edge{{0, 2}, {1, 2}, {0, 3}}, g.Edges)
}

func TestEdgeModelThreeColumns(t *testing.T) {
	m, err := NewEdgeModel([]int{0, 1, 2})
	require.NoError(t, err)

	g, err := m.Build(rowsOf(
		[]any{"a", "b", "c"},
		[]any{"a", "d", "c"},
	))
	require.NoError(t, err)
	// a=0, b=1 d=2, c=3
	require.Equal(t, int64(4), g.NumVertices)
	require.Equal(t, []Edge{
		{0, 1}, {0, 2}, // (0,1)
		{0, 3}, {0, 3}, // (0,2)
		{1, 3}, {2, 3}, // (1,2)
	}, g.Edges)
}

func TestEdgeModelNullJoinsNull(t *testing.T) {
	m, err := NewEdgeModel([]int{0, 1})
	require.NoError(t, err)
	g, err := m.Build(rowsOf([]any{nil, "a"}, []any{nil, "b"}))
	require.NoError(t, err)
	require.Equal(t, []Edge{{0, 1}, {0, 2}}, g.Edges)
}

func TestVertexModel(t *testing.T) {
	m, err := NewVertexModel([]int{0, 1})
	require.NoError(t, err)

	g, err := m.Build(rowsOf(
		[]any{"x", "a"},
		[]any{"y", "a"},
		[]any{"x", "a"},
		[]any{nil, nil},
		[]any{nil, "z"},
	))
	require.NoError(t, err)
	require.Equal(t, int64(5), g.NumVertices)
	require.Equal(t, []Edge{
		{0, 2},         // x
		{0, 1}, {0, 2}, // a
		{1, 2},
	}, g.Edges)
}

func TestVertexModelDenseIDs(t *testing.T) {
	m, err := NewVertexModel([]int{0})
	require.NoError(t, err)

	rows := []table.Row{
		{Num: 812345678901234561, ColVals: []any{"k"}},
		{Num: 812345678901234570, ColVals: []any{"other"}},
		{Num: 812345678901234599, ColVals: []any{"k"}},
	}
	g, err := m.Build(rows)
	require.NoError(t, err)
	require.Equal(t, int64(3), g.NumVertices)
	require.Equal(t, []Edge{{0, 2}}, g.Edges)

	labels, err := ParseLabels(strings.NewReader("0 2 1\n"))
	require.NoError(t, err)
	votes := m.Reconcile(g, labels)
	require.Equal(t, Vote{RowNum: 812345678901234561, Labeled: true, Min: 1, Max: 1}, votes[0])
	require.Equal(t, Vote{RowNum: 812345678901234570}, votes[1])
	require.Equal(t, Vote{RowNum: 812345678901234599, Labeled: true, Min: 1, Max: 1}, votes[2])
}

func TestVertexModelRejectsDuplicateRowNums(t *testing.T) {
	m, err := NewVertexModel([]int{0})
	require.NoError(t, err)

	_, err = m.Build([]table.Row{{Num: 1, ColVals: []any{1}}, {Num: 1, ColVals: []any{2}}})
	require.ErrorIs(t, err, ErrDuplicateRowNum)
}

func TestModelsRejectUnhashableKeys(t *testing.T) {
	edges, err := NewEdgeModel([]int{0, 1})
	require.NoError(t, err)
	_, err = edges.Build(rowsOf([]any{"a", []any{1.0, 2.0}}))
	require.ErrorIs(t, err, table.ErrUnhashableKey)

	vertices, err := NewVertexModel([]int{0})
	require.NoError(t, err)
	_, err = vertices.Build(rowsOf([]any{map[string]any{"a": 1}}))
	require.ErrorIs(t, err, table.ErrUnhashableKey)
}

func TestKeyColumnCounts(t *testing.T) {
	_, err := NewModel(TuplesAsEdges, []int{0, 1, 2, 3})
	require.ErrorIs(t, err, ErrKeyColumnCount)
	_, err = NewModel(TuplesAsEdges, []int{0})
	require.ErrorIs(t, err, ErrKeyColumnCount)
	_, err = NewModel(TuplesAsVertices, []int{0, 1, 2, 3})
	require.ErrorIs(t, err, ErrKeyColumnCount)
	_, err = NewModel(Mode(7), []int{0})
	require.ErrorIs(t, err, ErrUnknownMode)

	m, err := NewModel(TuplesAsVertices, []int{0})
	require.NoError(t, err)
	require.Equal(t, TuplesAsVertices, m.Mode())
}

func TestRowTooShort(t *testing.T) {
	m, err := NewEdgeModel([]int{0, 3})
	require.NoError(t, err)
	_, err = m.Build(rowsOf([]any{"a", "b"}))
	require.ErrorIs(t, err, ErrRowTooShort)
}

func TestWriteEdgeFile(t *testing.T) {
	g := &Graph{Edges: []Edge{{0, 2}, {1, 2}, {10, 30}}}
	path := filepath.Join(t.TempDir(), "edges")
	require.NoError(t, g.WriteEdgeFile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "0 2\n1 2\n10 30\n", string(b))
}

func TestParseLabels(t *testing.T) {
	l, err := ParseLabels(strings.NewReader("t0 t1 part\n0 2 1\n2 0 3\n\n# comment\n5 0\n"))
	require.NoError(t, err)

	s, ok := l.pair(0, 2)
	require.True(t, ok)
	require.Equal(t, span{1, 3}, s)

	s, ok = l.vertex(2)
	require.True(t, ok)
	require.Equal(t, span{1, 3}, s)

	s, ok = l.vertex(5)
	require.True(t, ok)
	require.Equal(t, span{0, 0}, s)

	_, ok = l.vertex(9)
	require.False(t, ok)
	require.Equal(t, 3, l.NumPartitions())

	_, err = ParseLabels(strings.NewReader("0 1 2\nbad line\n"))
	require.ErrorIs(t, err, ErrMalformedLabels)

	_, err = ParseLabels(strings.NewReader("0 1 2 3\n"))
	require.ErrorIs(t, err, ErrMalformedLabels)
}

func TestPairFallsBackToVertexLabels(t *testing.T) {
	l, err := ParseLabels(strings.NewReader("0 1\n2 1\n3 2\n"))
	require.NoError(t, err)

	s, ok := l.pair(0, 2)
	require.True(t, ok)
	require.Equal(t, span{1, 1}, s)

	s, ok = l.pair(2, 3)
	require.True(t, ok)
	require.Equal(t, span{1, 2}, s)

	_, ok = l.pair(0, 4)
	require.False(t, ok)
}
