package bulkload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danthegoodman1/copartition/table"
	"github.com/danthegoodman1/copartition/utils"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "loader.sh")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755))
	return p
}

func partFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "customer.tbl")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func rel(t *testing.T) *table.Relation {
	r, err := table.NewRelation("customer", []string{"c_custkey", "c_name"}, []string{"int8", "text"})
	require.NoError(t, err)
	return r
}

func TestExecLoaderArgs(t *testing.T) {
	out := filepath.Join(t.TempDir(), "args")
	l := &ExecLoader{
		Bin:        writeScript(t, `echo "$@" > `+out),
		DB:         "testdb",
		Args:       []string{"--timing", "--cluster"},
		NullString: "null",
	}
	path := partFile(t, "1|a|0\n")
	require.NoError(t, l.Load(context.Background(), rel(t), path))

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "--timing --cluster --table customer -n null testdb "+path, strings.TrimSpace(string(b)))
}

func TestExecLoaderFailure(t *testing.T) {
	l := &ExecLoader{Bin: writeScript(t, "echo boom >&2\nexit 3\n"), DB: "testdb"}
	err := l.Load(context.Background(), rel(t), partFile(t, ""))
	var toolErr *utils.ToolError
	require.True(t, errors.As(err, &toolErr))
	require.Contains(t, err.Error(), "boom")
}

func TestExecLoaderTimeout(t *testing.T) {
	l := &ExecLoader{Bin: writeScript(t, "exec sleep 5\n"), DB: "testdb", Timeout: 100 * time.Millisecond}
	err := l.Load(context.Background(), rel(t), partFile(t, ""))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecLoaderConfig(t *testing.T) {
	l := &ExecLoader{Bin: "definitely-not-a-loader", DB: "testdb"}
	require.ErrorIs(t, l.Load(context.Background(), rel(t), partFile(t, "")), ErrLoaderNotFound)

	l = &ExecLoader{Bin: writeScript(t, "exit 0\n")}
	require.ErrorIs(t, l.Load(context.Background(), rel(t), partFile(t, "")), ErrNoDatabase)

	l.DB = "testdb"
	var cfgErr *utils.ConfigError
	require.True(t, errors.As(l.Load(context.Background(), rel(t), "/nonexistent/file.tbl"), &cfgErr))
}

func TestDelimitedRows(t *testing.T) {
	f, err := os.Open(partFile(t, "1|Customer#1|3\n2||-5\n"))
	require.NoError(t, err)
	defer f.Close()

	rows := newDelimitedRows(f, 3)
	var got [][]any
	for rows.Next() {
		v, err := rows.Values()
		require.NoError(t, err)
		got = append(got, v)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, [][]any{{"1", "Customer#1", "3"}, {"2", nil, "-5"}}, got)
}

func TestDelimitedRowsFieldCount(t *testing.T) {
	f, err := os.Open(partFile(t, "1|a|3\n2|b\n"))
	require.NoError(t, err)
	defer f.Close()

	rows := newDelimitedRows(f, 3)
	require.True(t, rows.Next())
	require.False(t, rows.Next())
	require.Error(t, rows.Err())
}

func TestCopyLoaderDefaults(t *testing.T) {
	var l Loader = NewCopyLoader(nil)
	require.Equal(t, "partition_id", l.(*CopyLoader).PartitionColumn)

	err := l.Load(context.Background(), rel(t), filepath.Join(t.TempDir(), "missing.tbl"))
	var cfgErr *utils.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}
