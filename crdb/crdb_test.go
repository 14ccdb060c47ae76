package crdb

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/danthegoodman1/copartition/remap"
	"github.com/danthegoodman1/copartition/table"
	"github.com/danthegoodman1/copartition/utils"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/stretchr/testify/require"
)

func testRelation(t *testing.T, name string) *table.Relation {
	rel, err := table.NewRelation(name, []string{"lo_custkey", "lo_partkey"}, []string{"int8", "int8"})
	require.NoError(t, err)
	return rel
}

func TestSelectRowsSQL(t *testing.T) {
	s := NewStore(nil)
	require.Equal(t,
		`SELECT "rowid", "lo_custkey", "lo_partkey" FROM "lineorder" ORDER BY "rowid"`,
		s.selectRowsSQL(testRelation(t, "lineorder")))
}

func TestApplyFromSQL(t *testing.T) {
	s := NewStore(nil)
	require.Equal(t,
		`UPDATE "lineorder" SET "partition_id" = t.partition_id FROM "pa_x" AS t WHERE "lineorder"."rowid" = t.row_num`,
		s.applyFromSQL(testRelation(t, "lineorder"), "pa_x"))
}

func TestMappingUpdateSQL(t *testing.T) {
	s := NewStore(nil)
	q, args := s.mappingUpdateSQL(testRelation(t, "lineorder"), remap.Mapping{Partitions: 2, Values: []int64{7, 4}})
	require.Equal(t,
		`UPDATE "lineorder" SET "partition_id" = CASE "partition_id" WHEN $1 THEN $2 WHEN $3 THEN $4 END WHERE "partition_id" >= 0 AND "partition_id" < $5`,
		q)
	require.Equal(t, []any{int64(0), int64(7), int64(1), int64(4), int64(2)}, args)
}

func TestHashOracleNameFollowsSQL(t *testing.T) {
	a := &HashOracle{SQL: "select mod(abs(hashint8($1::int8)), $2::int8)"}
	b := &HashOracle{SQL: "select mod($1::int8, $2::int8)"}
	require.True(t, strings.HasPrefix(a.Name(), "sql_"))
	require.Equal(t, a.Name(), (&HashOracle{SQL: a.SQL}).Name())
	require.NotEqual(t, a.Name(), b.Name())
	require.NotEqual(t, remap.XXHashOracle{}.Name(), a.Name())
}

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("CRDB_DSN")
	if dsn == "" {
		t.Skip("CRDB_DSN not set")
	}
	pool, err := pgxpool.Connect(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestStoreRoundTrip(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	name := "copart_test_" + utils.GenTempTableSuffix()
	_, err := pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE %s (rowid INT8 PRIMARY KEY, lo_custkey INT8, lo_partkey INT8)`, name))
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(context.Background(), "DROP TABLE "+name)
	})
	_, err = pool.Exec(ctx, fmt.Sprintf(`INSERT INTO %s VALUES (0, 1, 10), (1, 1, 11), (2, 2, 10)`, name))
	require.NoError(t, err)

	s := NewStore(pool)
	rel, err := s.LoadRelation(ctx, name)
	require.NoError(t, err)
	require.Equal(t, []string{"lo_custkey", "lo_partkey"}, rel.ColumnNames())

	rows, err := s.ReadRows(ctx, rel)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, int64(2), rows[2].Num)

	require.NoError(t, s.EnsurePartitionColumn(ctx, rel))
	require.NoError(t, s.ApplyAssignments(ctx, rel, []table.Assignment{
		{RowNum: 0, Partition: 0},
		{RowNum: 1, Partition: 0},
		{RowNum: 2, Partition: 1},
	}))
	require.NoError(t, s.ApplyMapping(ctx, rel, remap.Mapping{Partitions: 2, Values: []int64{5, 9}}))

	var got []int64
	r, err := pool.Query(ctx, fmt.Sprintf("SELECT partition_id FROM %s ORDER BY rowid", name))
	require.NoError(t, err)
	for r.Next() {
		var p int64
		require.NoError(t, r.Scan(&p))
		got = append(got, p)
	}
	require.NoError(t, r.Err())
	require.Equal(t, []int64{5, 5, 9}, got)

	st, err := s.PartitionStats(ctx, rel, []string{"lo_custkey", "lo_partkey"})
	require.NoError(t, err)
	require.Equal(t, int64(3), st.Rows)
	require.Equal(t, 2.0, st.BalanceFactor)
	require.Equal(t, 0.0, st.ExceptionRates["lo_custkey"])
	// partkey 10 lives in two partitions
	require.InDelta(t, 2.0/3.0, st.ExceptionRates["lo_partkey"], 1e-9)

	_, err = s.LoadRelation(ctx, name+"_missing")
	require.ErrorIs(t, err, ErrRelationNotFound)
}

func TestMappingCacheAndOracle(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	cache := NewMappingCache(pool)
	_, err := pool.Exec(ctx, `DELETE FROM partition_id_mappings WHERE partitions = 3`)
	if err != nil {
		t.Skip("partition_id_mappings missing, run migrations first")
	}

	oracle := NewHashOracle(pool)
	_, found, err := cache.Load(ctx, oracle.Name(), 3)
	require.NoError(t, err)
	require.False(t, found)

	r := remap.NewRemapper(oracle, cache)
	m, err := r.Mapping(ctx, 3)
	require.NoError(t, err)
	require.NoError(t, m.Validate(ctx, NewHashOracle(pool)))

	loaded, found, err := cache.Load(ctx, oracle.Name(), 3)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, m, loaded)

	_, found, err = cache.Load(ctx, remap.XXHashOracle{}.Name(), 3)
	require.NoError(t, err)
	require.False(t, found)
}
