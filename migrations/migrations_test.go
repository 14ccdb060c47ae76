package migrations

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	names, err := Names()
	require.NoError(t, err)
	require.Equal(t, []string{"1_partition_id_mappings.sql", "2_partition_runs.sql"}, names)
}

func TestRunMigrations(t *testing.T) {
	dsn := os.Getenv("CRDB_DSN")
	if dsn == "" {
		t.Skip("CRDB_DSN not set")
	}
	_, err := RunMigrations(dsn)
	require.NoError(t, err)
	require.NoError(t, CheckMigrations(dsn))
}
