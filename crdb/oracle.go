package crdb

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/danthegoodman1/copartition/utils"
	"github.com/jackc/pgx/v4/pgxpool"
)

// HashOracle asks the database which hash bucket a value lands in. SQL takes
// the probe as $1 and the partition count as $2.
type HashOracle struct {
	Pool       *pgxpool.Pool
	SQL        string
	TryTimeout time.Duration
}

func NewHashOracle(pool *pgxpool.Pool) *HashOracle {
	return &HashOracle{Pool: pool, SQL: utils.HASH_SQL, TryTimeout: StandardContextTimeout}
}

// Name is derived from the query, so mappings computed with a different
// HASH_SQL are never reused.
func (o *HashOracle) Name() string {
	return fmt.Sprintf("sql_%016x", xxhash.Sum64String(o.SQL))
}

func (o *HashOracle) Bucket(ctx context.Context, probe int64, partitions int) (int, error) {
	var bucket int64
	err := utils.ReliableExec(ctx, o.Pool, o.TryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		return conn.QueryRow(ctx, o.SQL, probe, int64(partitions)).Scan(&bucket)
	})
	if err != nil {
		return 0, fmt.Errorf("error querying hash bucket of %d: %w", probe, err)
	}
	return int(bucket), nil
}
