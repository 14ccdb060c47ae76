package graphpart

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/danthegoodman1/copartition/gologger"
	"github.com/danthegoodman1/copartition/remap"
	"github.com/danthegoodman1/copartition/table"
	"github.com/danthegoodman1/copartition/utils"
)

// Exception partitions are drawn from [-ExceptionRange, -1], never a real partition.
const ExceptionRange = 32768

var ErrLabelOutOfRange = errors.New("partitioner returned a label outside [0, partitions)")

type (
	Mapper struct {
		relation string
		model    Model
		runner   Runner
		mapping  remap.Mapping
		rnd      *rand.Rand
		// KeepFiles leaves the edge and label files in the work dir
		KeepFiles bool
	}

	Result struct {
		RunID       string
		Assignments []table.Assignment
		// rows whose labels disagreed
		Exceptions int
		// rows that never appeared in the graph
		Unlabeled int
		Vertices  int64
		Edges     int
	}
)

// NewMapper validates the key columns against mode. The partition count is the
// mapping's.
func NewMapper(relation string, mode Mode, keyIdx []int, runner Runner, mapping remap.Mapping) (*Mapper, error) {
	model, err := NewModel(mode, keyIdx)
	if err != nil {
		return nil, utils.NewConfigError("create graph partition mapper", relation, err)
	}
	if mapping.Partitions <= 0 {
		return nil, utils.NewConfigError("create graph partition mapper", relation, remap.ErrBadPartitions)
	}
	return &Mapper{
		relation: relation,
		model:    model,
		runner:   runner,
		mapping:  mapping,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// WithRand replaces the random source used for exception and unlabeled rows.
func (m *Mapper) WithRand(r *rand.Rand) *Mapper {
	m.rnd = r
	return m
}

func (m *Mapper) Model() Model {
	return m.model
}

// Run builds the graph, has it partitioned and reconciles the labels. Either
// every row gets an assignment or an error is returned.
func (m *Mapper) Run(ctx context.Context, rows []table.Row, workDir string) (*Result, error) {
	runID := utils.GenKSortedID("")
	ctx, logger := gologger.RunLogger(ctx, m.relation, runID)

	s := time.Now()
	g, err := m.model.Build(rows)
	if err != nil {
		return nil, utils.NewConfigError("build graph", m.relation, err)
	}
	gologger.LogDuration(logger, "build graph", s)

	edgeFile := filepath.Join(workDir, fmt.Sprintf("%s_%s.edges", m.relation, runID))
	if err := g.WriteEdgeFile(edgeFile); err != nil {
		return nil, utils.NewToolError("write edge file", m.relation, err)
	}
	var labelFile string
	if !m.KeepFiles {
		defer func() {
			os.Remove(edgeFile)
			if labelFile != "" {
				os.Remove(labelFile)
			}
		}()
	}

	s = time.Now()
	labelFile, err = m.runner.Partition(ctx, edgeFile, m.mapping.Partitions)
	if err != nil {
		return nil, utils.WithRelation(err, m.relation)
	}
	gologger.LogDuration(logger, "partition graph", s)

	labels, err := ReadLabels(labelFile)
	if err != nil {
		return nil, utils.NewToolError("read partitioner labels", m.relation, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := m.Assign(g, labels)
	if err != nil {
		return nil, err
	}
	res.RunID = runID
	logger.Info().Int("rows", len(rows)).Int("exceptions", res.Exceptions).Int("unlabeled", res.Unlabeled).Msg("graph partitioning finished")
	return res, nil
}

// Assign turns labels into one assignment per row. Rows whose labels agree get
// that partition, rows with disagreeing labels a random exception partition and
// rows without labels a uniformly random partition. Real partitions are
// translated through the mapping.
func (m *Mapper) Assign(g *Graph, labels *Labels) (*Result, error) {
	p := int64(m.mapping.Partitions)
	votes := m.model.Reconcile(g, labels)
	res := &Result{
		Assignments: make([]table.Assignment, len(votes)),
		Vertices:    g.NumVertices,
		Edges:       len(g.Edges),
	}
	for i, v := range votes {
		var part int64
		switch {
		case !v.Labeled:
			part = m.mapping.Translate(m.rnd.Int63n(p))
			res.Unlabeled++
		case v.Min < 0 || v.Max >= p:
			return nil, utils.NewToolError("reconcile partitioner labels", m.relation, fmt.Errorf("row %d got labels [%d, %d]: %w", v.RowNum, v.Min, v.Max, ErrLabelOutOfRange))
		case v.Agreed():
			part = m.mapping.Translate(v.Min)
		default:
			part = -1 - m.rnd.Int63n(ExceptionRange)
			res.Exceptions++
		}
		res.Assignments[i] = table.Assignment{RowNum: v.RowNum, Partition: part, Values: g.rows[i].ColVals}
	}
	return res, nil
}

// IsException reports whether an assigned partition is an exception partition.
func IsException(partition int64) bool {
	return partition < 0
}
