package crdb

import (
	"context"
	"fmt"
	"time"

	"github.com/danthegoodman1/copartition/table"
	"github.com/danthegoodman1/copartition/utils"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

type (
	PartitionStats struct {
		Rows       int64
		Partitions int64
		MinRows    int64
		MaxRows    int64
		// BalanceFactor is MaxRows over MinRows, 1 is perfect
		BalanceFactor float64
		// ExceptionRates is, per key column, the share of rows whose key value
		// lives in more than one partition or in an exception partition.
		ExceptionRates map[string]float64
	}

	RunRecord struct {
		RunID      string    `json:"runID"`
		Relation   string    `json:"relation"`
		Strategy   string    `json:"strategy"`
		Partitions int64     `json:"partitions"`
		Rows       int64     `json:"rows"`
		Exceptions int64     `json:"exceptions"`
		DurationMS int64     `json:"durationMS"`
		CreatedAt  time.Time `json:"createdAt"`
	}
)

func (s *Store) exceptionRateSQL(rel *table.Relation, col string) string {
	t, c, p := ident(rel.Name), ident(col), ident(s.PartitionColumn)
	return fmt.Sprintf(`SELECT count(*) FROM %[1]s WHERE %[2]s IN (
		SELECT %[2]s FROM %[1]s GROUP BY 1 HAVING count(DISTINCT %[3]s) > 1
	) OR %[2]s IN (
		SELECT %[2]s FROM %[1]s WHERE %[3]s < 0
	)`, t, c, p)
}

// PartitionStats measures the balance of the stored partitioning and how many
// rows of each key column lost co-location.
func (s *Store) PartitionStats(ctx context.Context, rel *table.Relation, keyCols []string) (*PartitionStats, error) {
	st := &PartitionStats{ExceptionRates: make(map[string]float64, len(keyCols))}
	balanceQ := fmt.Sprintf(`SELECT count(*), coalesce(sum(card), 0)::INT8, coalesce(min(card), 0), coalesce(max(card), 0)
		FROM (SELECT %s, count(*) AS card FROM %s GROUP BY 1) AS t`, ident(s.PartitionColumn), ident(rel.Name))

	err := utils.ReliableExec(ctx, s.Pool, s.TryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		if err := conn.QueryRow(ctx, balanceQ).Scan(&st.Partitions, &st.Rows, &st.MinRows, &st.MaxRows); err != nil {
			return fmt.Errorf("error querying balance: %w", err)
		}
		for _, col := range keyCols {
			var n int64
			if err := conn.QueryRow(ctx, s.exceptionRateSQL(rel, col)).Scan(&n); err != nil {
				return fmt.Errorf("error querying exceptions of %s: %w", col, err)
			}
			if st.Rows > 0 {
				st.ExceptionRates[col] = float64(n) / float64(st.Rows)
			}
		}
		return nil
	})
	if err != nil {
		return nil, utils.NewStoreError("partition stats", rel.Name, err)
	}
	if st.MinRows > 0 {
		st.BalanceFactor = float64(st.MaxRows) / float64(st.MinRows)
	}
	return st, nil
}

func (s *Store) RecordRun(ctx context.Context, r RunRecord) error {
	err := utils.ReliableExec(ctx, s.Pool, s.TryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `
			INSERT INTO partition_runs (run_id, relation, strategy, partitions, row_count, exceptions, duration_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.RunID, r.Relation, r.Strategy, r.Partitions, r.Rows, r.Exceptions, r.DurationMS)
		return err
	})
	if err != nil {
		return utils.NewStoreError("record run", r.Relation, err)
	}
	return nil
}

// GetRun returns nil when the run is unknown.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var r RunRecord
	found := true
	err := utils.ReliableExec(ctx, s.Pool, s.TryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		err := conn.QueryRow(ctx, `
			SELECT run_id, relation, strategy, partitions, row_count, exceptions, duration_ms, created_at
			FROM partition_runs WHERE run_id = $1`, runID).
			Scan(&r.RunID, &r.Relation, &r.Strategy, &r.Partitions, &r.Rows, &r.Exceptions, &r.DurationMS, &r.CreatedAt)
		if err == pgx.ErrNoRows {
			found = false
			return nil
		}
		return err
	})
	if err != nil {
		return nil, utils.NewStoreError("get run", "", err)
	}
	if !found {
		return nil, nil
	}
	return &r, nil
}
