package http_server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danthegoodman1/copartition/copart"
	"github.com/danthegoodman1/copartition/crdb"
	"github.com/danthegoodman1/copartition/gologger"
	"github.com/danthegoodman1/copartition/graphpart"
	"github.com/danthegoodman1/copartition/remap"
	"github.com/danthegoodman1/copartition/sink"
	"github.com/danthegoodman1/copartition/table"
	"github.com/danthegoodman1/copartition/utils"
	"github.com/rs/zerolog"
)

const (
	OutputStore = "store"
	InputFiles  = "tbl"

	StrategyStream = "stream"
	StrategyGraph  = "graph"
)

type (
	StreamReqBody struct {
		// Schemas are independent star schemas. Each gets its own co-partitioner
		// and they run in parallel, so a table may appear in one schema only.
		Schemas []SchemaSpec `validate:"required,min=1,dive"`
		// "store" (default) scans the tables in the store, "tbl" reads the
		// delimited files in Paths.
		Input string `validate:"omitempty,oneof=store tbl"`
		// Input file per table
		Paths map[string]string
		// Column names per table for "tbl" input of tables the store does not
		// know. Values are read as text.
		Columns map[string][]string
		// "store" updates the partition column in place, "tbl" and "parquet"
		// write partitioned files into the work dir.
		Output string `validate:"omitempty,oneof=store tbl parquet"`
		// Load hands the written files to the bulk loader.
		Load bool
		// Default 1 hour
		MaxRuntimeSec *int64
	}

	StreamResponse struct {
		RunID   string
		Results []copart.RunResult
		Files   []sink.File `json:",omitempty"`
		// One per schema, in request order
		Stats []copart.Stats
	}

	GraphReqBody struct {
		Table      string   `validate:"required"`
		KeyColumns []string `validate:"required,min=1,max=3"`
		// "edges" (tuples as edges) or "vertices" (tuples as vertices)
		Mode       string `validate:"required,oneof=edges vertices"`
		Partitions int    `validate:"required,gte=1"`
		// InternalIDs stores the partitioner's labels 0..Partitions-1 as they
		// are, /partition/remap translates them later.
		InternalIDs bool
		KeepFiles   bool
		// Default 1 hour
		MaxRuntimeSec *int64
	}

	GraphResponse struct {
		RunID      string
		Rows       int
		Exceptions int
		Unlabeled  int
		Vertices   int64
		Edges      int
		TimeMS     int64
	}

	RemapReqBody struct {
		Table      string `validate:"required"`
		Partitions int    `validate:"required,gte=1"`
	}
)

var ErrDuplicateTable = errors.New("table appears in more than one schema")

func (s *HTTPServer) requireStore(c *CustomContext) bool {
	if s.Deps.Store == nil {
		c.String(http.StatusServiceUnavailable, "no store configured")
		return false
	}
	return true
}

func (b *StreamReqBody) fromFiles() bool {
	return b.Input == InputFiles
}

func (b *StreamReqBody) toStore() bool {
	return b.Output == "" || b.Output == OutputStore
}

// relation resolves a table from the request's Columns or, failing that, the store.
func (s *HTTPServer) relation(ctx context.Context, reqBody *StreamReqBody, name string) (*table.Relation, error) {
	if cols, ok := reqBody.Columns[name]; ok && reqBody.fromFiles() {
		types := make([]string, len(cols))
		for i := range types {
			types[i] = "text"
		}
		rel, err := table.NewRelation(name, cols, types)
		if err != nil {
			return nil, utils.NewConfigError("resolve relation", name, err)
		}
		return rel, nil
	}
	if s.Deps.Store == nil {
		return nil, utils.NewConfigError("resolve relation", name, ErrMissingRelation)
	}
	return s.Deps.Store.LoadRelation(ctx, name)
}

// StreamHandler runs the streaming co-partitioner over tables in the store or
// over delimited input files.
func (s *HTTPServer) StreamHandler(c *CustomContext) error {
	var reqBody StreamReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	if reqBody.fromFiles() && reqBody.toStore() {
		return c.String(http.StatusBadRequest, "file input needs a file output")
	}
	if (!reqBody.fromFiles() || reqBody.toStore()) && !s.requireStore(c) {
		return nil
	}
	if reqBody.Load && reqBody.toStore() {
		return c.String(http.StatusBadRequest, "Load needs a file output")
	}
	if reqBody.Load && s.Deps.Loader == nil {
		return c.String(http.StatusServiceUnavailable, "no bulk loader configured")
	}

	var names []string
	seen := make(map[string]bool)
	for _, schema := range reqBody.Schemas {
		for _, name := range schema.TableNames() {
			if seen[name] {
				return c.String(http.StatusBadRequest, fmt.Sprintf("%s: %s", name, ErrDuplicateTable))
			}
			seen[name] = true
			names = append(names, name)
			if _, ok := reqBody.Paths[name]; reqBody.fromFiles() && !ok {
				return c.String(http.StatusBadRequest, "no input file for table "+name)
			}
		}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*time.Duration(utils.Deref(reqBody.MaxRuntimeSec, 3600)))
	defer cancel()
	runID := utils.GenKSortedID("run_")
	ctx, logger := gologger.RunLogger(ctx, strings.Join(names, ","), runID)

	relations := make(map[string]*table.Relation)
	for _, name := range names {
		rel, err := s.relation(ctx, &reqBody, name)
		if err != nil {
			return c.PartitionError(err, "error loading relation")
		}
		relations[name] = rel
	}

	var source copart.RowSource = s.Deps.Store
	if reqBody.fromFiles() {
		source = sink.DelimitedSource{Paths: reqBody.Paths}
	}
	var applier copart.Applier
	var files *sink.FileApplier
	if reqBody.toStore() {
		for _, name := range names {
			if err := s.Deps.Store.EnsurePartitionColumn(ctx, relations[name]); err != nil {
				return c.PartitionError(err, "error adding partition column")
			}
		}
		applier = s.Deps.Store
	} else {
		format, err := sink.ParseFormat(reqBody.Output)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		files = sink.NewFileApplier(s.Deps.WorkDir, format, runID)
		files.Uploader = s.Deps.Uploader
		applier = files
	}

	cps := make([]*copart.CoPartitioner, len(reqBody.Schemas))
	runners := make([]*copart.Runner, len(reqBody.Schemas))
	for i := range reqBody.Schemas {
		schema := &reqBody.Schemas[i]
		mapping, err := s.Deps.Remapper.Mapping(ctx, schema.Partitions)
		if err != nil {
			return c.PartitionError(err, "error computing partition mapping")
		}
		cps[i], err = schema.Build(mapping, relations)
		if err != nil {
			return c.PartitionError(err, "error building schema")
		}
		runners[i] = copart.NewRunner(cps[i], source, applier)
	}

	perSchema, err := copart.RunAll(ctx, runners...)
	if err != nil {
		return c.PartitionError(err, "error running streaming co-partitioner")
	}
	res := StreamResponse{RunID: runID}
	for i, cp := range cps {
		res.Results = append(res.Results, perSchema[i]...)
		res.Stats = append(res.Stats, cp.Stats())
	}

	if files != nil {
		res.Files, err = files.Finish(ctx)
		if err != nil {
			return c.PartitionError(err, "error finishing partitioned files")
		}
		if reqBody.Load {
			for _, f := range res.Files {
				if err := s.Deps.Loader.Load(ctx, relations[f.Relation], f.Path); err != nil {
					return c.PartitionError(err, "error bulk loading "+f.Relation)
				}
			}
		}
	}

	for i, st := range res.Stats {
		exceptions := make(map[string]int64)
		for _, slot := range st.Slots {
			exceptions[slot.Table] += int64(slot.Exceptions)
		}
		for _, r := range perSchema[i] {
			s.recordRun(ctx, crdb.RunRecord{
				RunID:      r.RunID,
				Relation:   r.Relation,
				Strategy:   StrategyStream,
				Partitions: int64(reqBody.Schemas[i].Partitions),
				Rows:       r.Rows,
				Exceptions: exceptions[r.Relation],
				DurationMS: r.Duration.Milliseconds(),
			})
		}
	}
	logger.Info().Int("schemas", len(cps)).Int("relations", len(res.Results)).Msg("streaming co-partitioning finished")

	return c.JSON(http.StatusOK, res)
}

// recordRun only logs failures, the partitioning itself already succeeded.
// File to file runs without a store are not recorded.
func (s *HTTPServer) recordRun(ctx context.Context, r crdb.RunRecord) {
	if s.Deps.Store == nil {
		return
	}
	if err := s.Deps.Store.RecordRun(ctx, r); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("runID", r.RunID).Msg("error recording run")
	}
}

func parseMode(s string) graphpart.Mode {
	if s == "vertices" {
		return graphpart.TuplesAsVertices
	}
	return graphpart.TuplesAsEdges
}

// GraphHandler partitions one table with the external graph partitioner and
// writes the result to its partition column.
func (s *HTTPServer) GraphHandler(c *CustomContext) error {
	start := time.Now()
	var reqBody GraphReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	if !s.requireStore(c) {
		return nil
	}
	if s.Deps.GraphRunner == nil {
		return c.String(http.StatusServiceUnavailable, "no graph partitioner configured")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*time.Duration(utils.Deref(reqBody.MaxRuntimeSec, 3600)))
	defer cancel()

	mapping, err := s.Deps.Remapper.Mapping(ctx, reqBody.Partitions)
	if err != nil {
		return c.PartitionError(err, "error computing partition mapping")
	}
	rel, err := s.Deps.Store.LoadRelation(ctx, reqBody.Table)
	if err != nil {
		return c.PartitionError(err, "error loading relation")
	}
	keyIdx, err := rel.ColumnIndexes(reqBody.KeyColumns)
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	if reqBody.InternalIDs {
		mapping = remap.Identity(reqBody.Partitions)
	}
	mapper, err := graphpart.NewMapper(rel.Name, parseMode(reqBody.Mode), keyIdx, s.Deps.GraphRunner, mapping)
	if err != nil {
		return c.PartitionError(err, "error creating graph partition mapper")
	}
	mapper.KeepFiles = reqBody.KeepFiles

	rows, err := s.Deps.Store.ReadRows(ctx, rel)
	if err != nil {
		return c.PartitionError(err, "error reading rows")
	}
	res, err := mapper.Run(ctx, rows, s.Deps.WorkDir)
	if err != nil {
		return c.PartitionError(err, "error running graph partitioner")
	}

	if err := s.Deps.Store.EnsurePartitionColumn(ctx, rel); err != nil {
		return c.PartitionError(err, "error adding partition column")
	}
	// one transaction, a failure leaves the partition column untouched
	if err := s.Deps.Store.ApplyAssignments(ctx, rel, res.Assignments); err != nil {
		return c.PartitionError(err, "error applying assignments")
	}

	out := GraphResponse{
		RunID:      res.RunID,
		Rows:       len(rows),
		Exceptions: res.Exceptions,
		Unlabeled:  res.Unlabeled,
		Vertices:   res.Vertices,
		Edges:      res.Edges,
		TimeMS:     time.Since(start).Milliseconds(),
	}
	s.recordRun(ctx, crdb.RunRecord{
		RunID:      res.RunID,
		Relation:   rel.Name,
		Strategy:   StrategyGraph,
		Partitions: int64(reqBody.Partitions),
		Rows:       int64(len(rows)),
		Exceptions: int64(res.Exceptions),
		DurationMS: out.TimeMS,
	})
	return c.JSON(http.StatusOK, out)
}

// RemapHandler translates the internal partition ids a graph run stored with
// InternalIDs into the identifiers of the partition mapping.
func (s *HTTPServer) RemapHandler(c *CustomContext) error {
	var reqBody RemapReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	if !s.requireStore(c) {
		return nil
	}
	ctx := c.Request().Context()
	mapping, err := s.Deps.Remapper.Mapping(ctx, reqBody.Partitions)
	if err != nil {
		return c.PartitionError(err, "error computing partition mapping")
	}
	rel, err := s.Deps.Store.LoadRelation(ctx, reqBody.Table)
	if err != nil {
		return c.PartitionError(err, "error loading relation")
	}
	if err := s.Deps.Store.ApplyMapping(ctx, rel, mapping); err != nil {
		return c.PartitionError(err, "error applying partition mapping")
	}
	return c.JSON(http.StatusOK, mappingResponse(mapping))
}
