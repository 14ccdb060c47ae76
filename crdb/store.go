package crdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danthegoodman1/copartition/parquet_accumulator"
	"github.com/danthegoodman1/copartition/remap"
	"github.com/danthegoodman1/copartition/table"
	"github.com/danthegoodman1/copartition/utils"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

var ErrRelationNotFound = errors.New("relation not found")

// Store reads relations from and writes partition ids back to a Postgres wire
// compatible database.
type Store struct {
	Pool *pgxpool.Pool
	// PartitionColumn receives the assigned partition id
	PartitionColumn string
	// RowNumColumn identifies rows, "rowid" is the hidden key CockroachDB adds
	// to tables without a primary key.
	RowNumColumn string
	TryTimeout   time.Duration
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Pool:            pool,
		PartitionColumn: parquet_accumulator.DefaultPartitionColumn,
		RowNumColumn:    "rowid",
		TryTimeout:      StandardContextTimeout,
	}
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// LoadRelation reads the columns of a table, leaving out the row number and
// partition columns.
func (s *Store) LoadRelation(ctx context.Context, name string) (*table.Relation, error) {
	var names, types []string
	err := utils.ReliableExec(ctx, s.Pool, s.TryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		names, types = nil, nil
		rows, err := conn.Query(ctx, `
			SELECT column_name, data_type
			FROM information_schema.columns
			WHERE table_name = $1 AND column_name <> $2 AND column_name <> $3
			ORDER BY ordinal_position`, name, s.RowNumColumn, s.PartitionColumn)
		if err != nil {
			return fmt.Errorf("error querying columns: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var n, t string
			if err := rows.Scan(&n, &t); err != nil {
				return fmt.Errorf("error in rows.Scan: %w", err)
			}
			names = append(names, n)
			types = append(types, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, utils.NewStoreError("load relation", name, err)
	}
	if len(names) == 0 {
		return nil, utils.NewStoreError("load relation", name, ErrRelationNotFound)
	}
	return table.NewRelation(name, names, types)
}

func (s *Store) selectRowsSQL(rel *table.Relation) string {
	cols := make([]string, 0, len(rel.Columns)+1)
	cols = append(cols, ident(s.RowNumColumn))
	for _, c := range rel.Columns {
		cols = append(cols, ident(c.Name))
	}
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", strings.Join(cols, ", "), ident(rel.Name), ident(s.RowNumColumn))
}

// ScanRows streams the relation ordered by its row number column. The scan is
// not retried once rows were handed out.
func (s *Store) ScanRows(ctx context.Context, rel *table.Relation, fn func(row table.Row) error) error {
	rows, err := s.Pool.Query(ctx, s.selectRowsSQL(rel))
	if err != nil {
		return utils.NewStoreError("scan rows", rel.Name, err)
	}
	defer rows.Close()
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return utils.NewStoreError("scan rows", rel.Name, fmt.Errorf("error in rows.Values: %w", err))
		}
		num, err := table.AsInt64(vals[0])
		if err != nil {
			return utils.NewConfigError("scan rows", rel.Name, fmt.Errorf("row number column %s: %w", s.RowNumColumn, err))
		}
		if err := fn(table.Row{Num: num, ColVals: vals[1:]}); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return utils.NewStoreError("scan rows", rel.Name, err)
	}
	return nil
}

// ReadRows loads the whole relation, the batch path needs every row at once.
func (s *Store) ReadRows(ctx context.Context, rel *table.Relation) ([]table.Row, error) {
	var out []table.Row
	err := s.ScanRows(ctx, rel, func(row table.Row) error {
		out = append(out, row)
		return nil
	})
	return out, err
}

func (s *Store) EnsurePartitionColumn(ctx context.Context, rel *table.Relation) error {
	q := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s INT8", ident(rel.Name), ident(s.PartitionColumn))
	err := utils.ReliableExec(ctx, s.Pool, s.TryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, q)
		return err
	})
	if err != nil {
		return utils.NewStoreError("add partition column", rel.Name, err)
	}
	return nil
}

// ApplyAssignments writes a batch of partition ids in one transaction: the
// batch is copied into a temporary table and joined into the relation.
func (s *Store) ApplyAssignments(ctx context.Context, rel *table.Relation, batch []table.Assignment) error {
	if len(batch) == 0 {
		return nil
	}
	rows := make([][]any, len(batch))
	for i, a := range batch {
		rows[i] = []any{a.RowNum, a.Partition}
	}

	err := utils.ReliableExecInTx(ctx, s.Pool, s.TryTimeout, func(ctx context.Context, tx pgx.Tx) error {
		tmp := "pa_" + utils.GenTempTableSuffix()
		_, err := tx.Exec(ctx, fmt.Sprintf("CREATE TEMP TABLE %s (row_num INT8 PRIMARY KEY, partition_id INT8 NOT NULL) ON COMMIT DROP", tmp))
		if err != nil {
			return fmt.Errorf("error creating temp table: %w", err)
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{tmp}, []string{"row_num", "partition_id"}, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("error in CopyFrom: %w", err)
		}
		_, err = tx.Exec(ctx, s.applyFromSQL(rel, tmp))
		if err != nil {
			return fmt.Errorf("error updating partitions: %w", err)
		}
		return nil
	})
	if err != nil {
		return utils.NewStoreError("apply assignments", rel.Name, err)
	}
	return nil
}

func (s *Store) applyFromSQL(rel *table.Relation, tmp string) string {
	return fmt.Sprintf("UPDATE %[1]s SET %[2]s = t.partition_id FROM %[3]s AS t WHERE %[1]s.%[4]s = t.row_num",
		ident(rel.Name), ident(s.PartitionColumn), ident(tmp), ident(s.RowNumColumn))
}

// ApplyMapping rewrites internal partition ids already stored in the partition
// column into their external identifiers. Exception partitions are left alone.
func (s *Store) ApplyMapping(ctx context.Context, rel *table.Relation, m remap.Mapping) error {
	q, args := s.mappingUpdateSQL(rel, m)
	err := utils.ReliableExec(ctx, s.Pool, s.TryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, q, args...)
		return err
	})
	if err != nil {
		return utils.NewStoreError("apply mapping", rel.Name, err)
	}
	return nil
}

func (s *Store) mappingUpdateSQL(rel *table.Relation, m remap.Mapping) (string, []any) {
	col := ident(s.PartitionColumn)
	var sb strings.Builder
	args := make([]any, 0, 2*len(m.Values)+1)
	fmt.Fprintf(&sb, "UPDATE %s SET %s = CASE %s", ident(rel.Name), col, col)
	for i, v := range m.Values {
		args = append(args, int64(i), v)
		fmt.Fprintf(&sb, " WHEN $%d THEN $%d", len(args)-1, len(args))
	}
	args = append(args, int64(m.Partitions))
	fmt.Fprintf(&sb, " END WHERE %s >= 0 AND %s < $%d", col, col, len(args))
	return sb.String(), args
}
