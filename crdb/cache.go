package crdb

import (
	"context"
	"fmt"
	"time"

	"github.com/danthegoodman1/copartition/remap"
	"github.com/danthegoodman1/copartition/utils"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// MappingCache persists partition identifier mappings in partition_id_mappings
// so they survive restarts.
type MappingCache struct {
	Pool       *pgxpool.Pool
	TryTimeout time.Duration
}

func NewMappingCache(pool *pgxpool.Pool) *MappingCache {
	return &MappingCache{Pool: pool, TryTimeout: StandardContextTimeout}
}

// Load treats an incomplete mapping as a miss.
func (c *MappingCache) Load(ctx context.Context, oracle string, partitions int) (remap.Mapping, bool, error) {
	m := remap.Mapping{Partitions: partitions, Oracle: oracle}
	err := utils.ReliableExec(ctx, c.Pool, c.TryTimeout, func(ctx context.Context, conn *pgxpool.Conn) error {
		m.Values = nil
		rows, err := conn.Query(ctx, `SELECT internal_id, probe FROM partition_id_mappings WHERE oracle = $1 AND partitions = $2 ORDER BY internal_id`, oracle, int64(partitions))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id, probe int64
			if err := rows.Scan(&id, &probe); err != nil {
				return fmt.Errorf("error in rows.Scan: %w", err)
			}
			if id != int64(len(m.Values)) {
				// gap, ignore the partial mapping
				m.Values = nil
				return nil
			}
			m.Values = append(m.Values, probe)
		}
		return rows.Err()
	})
	if err != nil {
		return remap.Mapping{}, false, fmt.Errorf("error loading mapping for %d partitions: %w", partitions, err)
	}
	if len(m.Values) != partitions {
		return remap.Mapping{}, false, nil
	}
	return m, true, nil
}

func (c *MappingCache) Store(ctx context.Context, m remap.Mapping) error {
	err := utils.ReliableExecInTx(ctx, c.Pool, c.TryTimeout, func(ctx context.Context, tx pgx.Tx) error {
		b := &pgx.Batch{}
		for i, v := range m.Values {
			b.Queue(`INSERT INTO partition_id_mappings (oracle, partitions, internal_id, probe) VALUES ($1, $2, $3, $4) ON CONFLICT (oracle, partitions, internal_id) DO NOTHING`,
				m.Oracle, int64(m.Partitions), int64(i), v)
		}
		br := tx.SendBatch(ctx, b)
		for range m.Values {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("error inserting mapping: %w", err)
			}
		}
		return br.Close()
	})
	if err != nil {
		return fmt.Errorf("error storing mapping for %d partitions: %w", m.Partitions, err)
	}
	return nil
}
