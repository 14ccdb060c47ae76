package copart

import (
	"context"
	"time"

	"github.com/danthegoodman1/copartition/gologger"
	"github.com/danthegoodman1/copartition/table"
	"github.com/danthegoodman1/copartition/utils"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

const DefaultBatchSize = 1000

type (
	// RowSource streams the rows of a relation in a stable order.
	RowSource interface {
		ScanRows(ctx context.Context, rel *table.Relation, fn func(row table.Row) error) error
	}

	// Applier persists a batch of assignments, by updating the store or writing
	// partitioned files.
	Applier interface {
		ApplyAssignments(ctx context.Context, rel *table.Relation, batch []table.Assignment) error
	}

	ApplierFunc func(ctx context.Context, rel *table.Relation, batch []table.Assignment) error

	// Runner feeds the rows of every relation registered on a CoPartitioner
	// through it and hands the assignments to an Applier in batches. A batch is
	// applied while the next one is computed, with at most one apply in flight.
	Runner struct {
		CP        *CoPartitioner
		Source    RowSource
		Applier   Applier
		BatchSize int
	}

	RunResult struct {
		RunID     string
		Relation  string
		Rows      int64
		Batches   int
		Duration  time.Duration
		RowsPerMS float64
	}
)

func (f ApplierFunc) ApplyAssignments(ctx context.Context, rel *table.Relation, batch []table.Assignment) error {
	return f(ctx, rel, batch)
}

func NewRunner(cp *CoPartitioner, source RowSource, applier Applier) *Runner {
	return &Runner{
		CP:        cp,
		Source:    source,
		Applier:   applier,
		BatchSize: DefaultBatchSize,
	}
}

// Run loads every registered relation, fact tables first.
func (r *Runner) Run(ctx context.Context) ([]RunResult, error) {
	var results []RunResult
	for _, rel := range r.CP.Tables() {
		res, err := r.RunRelation(ctx, rel)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// RunRelation assigns every row of one relation. On cancellation the
// CoPartitioner state covers exactly the rows assigned so far.
func (r *Runner) RunRelation(ctx context.Context, rel *table.Relation) (RunResult, error) {
	res := RunResult{RunID: utils.GenKSortedID("run_"), Relation: rel.Name}
	ctx, logger := gologger.RunLogger(ctx, rel.Name, res.RunID)
	s := time.Now()

	batchSize := r.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(1)
	flush := func(batch []table.Assignment) {
		res.Batches++
		g.Go(func() error {
			return r.Applier.ApplyAssignments(gctx, rel, batch)
		})
	}

	batch := make([]table.Assignment, 0, batchSize)
	scanErr := r.Source.ScanRows(gctx, rel, func(row table.Row) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		part, err := r.CP.Assign(rel.Name, row)
		if err != nil {
			return err
		}
		res.Rows++
		batch = append(batch, table.Assignment{RowNum: row.Num, Partition: part, Values: row.ColVals})
		if len(batch) == batchSize {
			flush(batch)
			batch = make([]table.Assignment, 0, batchSize)
		}
		return nil
	})
	if scanErr == nil && len(batch) > 0 {
		flush(batch)
	}

	var errs error
	if scanErr != nil {
		errs = multierror.Append(errs, utils.WithRelation(scanErr, rel.Name))
	}
	if err := g.Wait(); err != nil {
		errs = multierror.Append(errs, utils.WithRelation(err, rel.Name))
	}

	res.Duration = time.Since(s)
	if ms := float64(res.Duration.Milliseconds()); ms > 0 {
		res.RowsPerMS = float64(res.Rows) / ms
	}
	gologger.LogDuration(logger, "stream assignment", s)
	if errs != nil {
		logger.Error().Err(errs).Int64("rows", res.Rows).Msg("streaming assignment failed")
		return res, errs
	}
	logger.Info().Int64("rows", res.Rows).Int("batches", res.Batches).Msg("streaming assignment finished")
	return res, nil
}

// RunAll runs independent runners in parallel. Runners must not share a
// CoPartitioner.
func RunAll(ctx context.Context, runners ...*Runner) ([][]RunResult, error) {
	results := make([][]RunResult, len(runners))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range runners {
		i, r := i, r
		g.Go(func() error {
			res, err := r.Run(gctx)
			results[i] = res
			return err
		})
	}
	return results, g.Wait()
}
