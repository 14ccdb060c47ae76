package graphpart

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/danthegoodman1/copartition/table"
)

// Mode selects how a relation is turned into a graph.
type Mode int

const (
	TuplesAsEdges Mode = iota
	TuplesAsVertices
)

// MaxKeyColumns is the largest key column count label reconciliation supports.
const MaxKeyColumns = 3

var (
	ErrUnknownMode     = errors.New("mode must be tuples as edges or tuples as vertices")
	ErrKeyColumnCount  = errors.New("unsupported key column count")
	ErrDuplicateRowNum = errors.New("row numbers must be unique")
	ErrRowTooShort     = errors.New("row has fewer values than the key columns require")
)

type (
	Edge [2]int64

	// Graph exists for one batch run. Besides the edge list it keeps the
	// bookkeeping its Model needs to turn labels back into rows.
	Graph struct {
		NumVertices int64
		Edges       []Edge

		rows []table.Row
		// tuples as edges: vertex id per row per key column
		rowVertices [][]int64
	}

	// Model converts rows into a graph and labels back into per-row votes.
	Model interface {
		Mode() Mode
		Build(rows []table.Row) (*Graph, error)
		Reconcile(g *Graph, labels *Labels) []Vote
	}

	// Vote is the label range a row received across all of its graph elements.
	Vote struct {
		RowNum  int64
		Labeled bool
		Min     int64
		Max     int64
	}

	EdgeModel struct {
		keyIdx []int
		pairs  [][2]int
	}

	VertexModel struct {
		keyIdx []int
	}
)

func NewModel(mode Mode, keyIdx []int) (Model, error) {
	switch mode {
	case TuplesAsEdges:
		return NewEdgeModel(keyIdx)
	case TuplesAsVertices:
		return NewVertexModel(keyIdx)
	default:
		return nil, ErrUnknownMode
	}
}

func NewEdgeModel(keyIdx []int) (*EdgeModel, error) {
	if len(keyIdx) < 2 || len(keyIdx) > MaxKeyColumns {
		return nil, fmt.Errorf("tuples as edges needs 2 to %d key columns, got %d: %w", MaxKeyColumns, len(keyIdx), ErrKeyColumnCount)
	}
	m := &EdgeModel{keyIdx: keyIdx}
	for i := 0; i < len(keyIdx); i++ {
		for j := i + 1; j < len(keyIdx); j++ {
			m.pairs = append(m.pairs, [2]int{i, j})
		}
	}
	return m, nil
}

func NewVertexModel(keyIdx []int) (*VertexModel, error) {
	if len(keyIdx) < 1 || len(keyIdx) > MaxKeyColumns {
		return nil, fmt.Errorf("tuples as vertices needs 1 to %d key columns, got %d: %w", MaxKeyColumns, len(keyIdx), ErrKeyColumnCount)
	}
	return &VertexModel{keyIdx: keyIdx}, nil
}

func checkRows(rows []table.Row, keyIdx []int) error {
	maxIdx := 0
	for _, idx := range keyIdx {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	for _, row := range rows {
		if len(row.ColVals) <= maxIdx {
			return fmt.Errorf("row %d: %w", row.Num, ErrRowTooShort)
		}
	}
	return nil
}

func (*EdgeModel) Mode() Mode { return TuplesAsEdges }

// Build makes every distinct value of every key column a vertex. Column i's ids
// start after all ids of columns 0..i-1, so values never alias across columns.
// Each row adds one edge per pair of key columns.
func (m *EdgeModel) Build(rows []table.Row) (*Graph, error) {
	if err := checkRows(rows, m.keyIdx); err != nil {
		return nil, err
	}
	g := &Graph{rows: rows, rowVertices: make([][]int64, len(rows))}

	localIDs := make([]map[any]int64, len(m.keyIdx))
	for c := range m.keyIdx {
		localIDs[c] = make(map[any]int64)
	}
	for r, row := range rows {
		g.rowVertices[r] = make([]int64, len(m.keyIdx))
		for c, idx := range m.keyIdx {
			v, err := row.Key(idx)
			if err != nil {
				return nil, err
			}
			id, ok := localIDs[c][v]
			if !ok {
				id = int64(len(localIDs[c]))
				localIDs[c][v] = id
			}
			g.rowVertices[r][c] = id
		}
	}

	offsets := make([]int64, len(m.keyIdx))
	for c := 1; c < len(m.keyIdx); c++ {
		offsets[c] = offsets[c-1] + int64(len(localIDs[c-1]))
	}
	g.NumVertices = offsets[len(offsets)-1] + int64(len(localIDs[len(localIDs)-1]))

	g.Edges = make([]Edge, 0, len(rows)*len(m.pairs))
	for _, pair := range m.pairs {
		for r := range rows {
			g.Edges = append(g.Edges, Edge{
				g.rowVertices[r][pair[0]] + offsets[pair[0]],
				g.rowVertices[r][pair[1]] + offsets[pair[1]],
			})
		}
	}
	for r := range rows {
		for c := range m.keyIdx {
			g.rowVertices[r][c] += offsets[c]
		}
	}
	return g, nil
}

// Reconcile collects, per row, the labels of all its column pair decompositions.
// Rows sharing the full key combination decompose into the same pairs and so
// receive the same vote.
func (m *EdgeModel) Reconcile(g *Graph, labels *Labels) []Vote {
	votes := make([]Vote, len(g.rows))
	for r, row := range g.rows {
		votes[r].RowNum = row.Num
		for _, pair := range m.pairs {
			s, ok := labels.pair(g.rowVertices[r][pair[0]], g.rowVertices[r][pair[1]])
			if !ok {
				continue
			}
			votes[r].add(s)
		}
	}
	return votes
}

func (*VertexModel) Mode() Mode { return TuplesAsVertices }

// Build makes every row a vertex and joins two rows once per key column they
// agree on. NULL never agrees with NULL. Vertex ids are the dense positions
// 0..n-1 of the rows, row numbers (store row ids) only need to be unique.
func (m *VertexModel) Build(rows []table.Row) (*Graph, error) {
	if err := checkRows(rows, m.keyIdx); err != nil {
		return nil, err
	}
	g := &Graph{rows: rows, NumVertices: int64(len(rows))}
	seen := make(map[int64]struct{}, len(rows))
	for _, row := range rows {
		if _, dup := seen[row.Num]; dup {
			return nil, fmt.Errorf("row %d: %w", row.Num, ErrDuplicateRowNum)
		}
		seen[row.Num] = struct{}{}
	}

	for _, idx := range m.keyIdx {
		groups := make(map[any][]int64)
		var order []any
		for r, row := range rows {
			v, err := row.Key(idx)
			if err != nil {
				return nil, err
			}
			if v == nil {
				continue
			}
			if _, ok := groups[v]; !ok {
				order = append(order, v)
			}
			groups[v] = append(groups[v], int64(r))
		}
		for _, v := range order {
			members := groups[v]
			for i := 0; i < len(members); i++ {
				for j := i + 1; j < len(members); j++ {
					g.Edges = append(g.Edges, Edge{members[i], members[j]})
				}
			}
		}
	}
	return g, nil
}

func (m *VertexModel) Reconcile(g *Graph, labels *Labels) []Vote {
	votes := make([]Vote, len(g.rows))
	for r, row := range g.rows {
		votes[r].RowNum = row.Num
		if s, ok := labels.vertex(int64(r)); ok {
			votes[r].add(s)
		}
	}
	return votes
}

func (v *Vote) add(s span) {
	if !v.Labeled {
		v.Labeled = true
		v.Min, v.Max = s.min, s.max
		return
	}
	if s.min < v.Min {
		v.Min = s.min
	}
	if s.max > v.Max {
		v.Max = s.max
	}
}

// Agreed reports whether every label the row received is the same.
func (v Vote) Agreed() bool {
	return v.Labeled && v.Min == v.Max
}

// WriteEdgeFile writes one "u v" line per edge, the partitioner's input format.
func (g *Graph) WriteEdgeFile(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error in os.Create: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("error closing edge file: %w", cerr)
		}
	}()

	w := bufio.NewWriter(f)
	buf := make([]byte, 0, 48)
	for _, e := range g.Edges {
		buf = buf[:0]
		buf = strconv.AppendInt(buf, e[0], 10)
		buf = append(buf, ' ')
		buf = strconv.AppendInt(buf, e[1], 10)
		buf = append(buf, '\n')
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("error writing edge file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("error flushing edge file: %w", err)
	}
	return nil
}
