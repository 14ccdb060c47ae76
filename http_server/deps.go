package http_server

import (
	"context"

	"github.com/danthegoodman1/copartition/bulkload"
	"github.com/danthegoodman1/copartition/crdb"
	"github.com/danthegoodman1/copartition/graphpart"
	"github.com/danthegoodman1/copartition/remap"
	"github.com/danthegoodman1/copartition/sink"
	"github.com/danthegoodman1/copartition/table"
)

type (
	// Store is what the handlers need from the relational store, *crdb.Store
	// implements it.
	Store interface {
		LoadRelation(ctx context.Context, name string) (*table.Relation, error)
		ScanRows(ctx context.Context, rel *table.Relation, fn func(row table.Row) error) error
		ReadRows(ctx context.Context, rel *table.Relation) ([]table.Row, error)
		EnsurePartitionColumn(ctx context.Context, rel *table.Relation) error
		ApplyAssignments(ctx context.Context, rel *table.Relation, batch []table.Assignment) error
		ApplyMapping(ctx context.Context, rel *table.Relation, m remap.Mapping) error
		PartitionStats(ctx context.Context, rel *table.Relation, keyCols []string) (*crdb.PartitionStats, error)
		RecordRun(ctx context.Context, r crdb.RunRecord) error
		GetRun(ctx context.Context, runID string) (*crdb.RunRecord, error)
	}

	Deps struct {
		Remapper *remap.Remapper
		// Store, GraphRunner, Loader and Uploader are optional, handlers that need
		// a missing one answer 503.
		Store       Store
		GraphRunner graphpart.Runner
		Loader      bulkload.Loader
		Uploader    sink.Uploader
		WorkDir     string
	}
)

var _ Store = (*crdb.Store)(nil)
