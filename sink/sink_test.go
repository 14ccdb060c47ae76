package sink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danthegoodman1/copartition/table"
	"github.com/danthegoodman1/copartition/utils"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
)

func customer(t *testing.T) *table.Relation {
	rel, err := table.NewRelation("customer", []string{"c_custkey", "c_name", "c_acctbal", "c_since"}, []string{"int8", "text", "float8", "date"})
	require.NoError(t, err)
	return rel
}

func TestDelimitedSink(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(FormatDelimited, dir, customer(t), "run_1")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "customer_run_1.tbl"), s.Path())

	since := time.Date(1998, 3, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Write([]any{int64(1), "Customer#1", 711.56, since}, 3))
	require.NoError(t, s.Write([]any{int64(2), []byte("Customer#2"), nil, nil}, -17))
	require.Error(t, s.Write([]any{int64(3)}, 0))
	require.NoError(t, s.Close())
	require.Equal(t, int64(2), s.Rows())

	b, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	require.Equal(t, "1|Customer#1|711.56|1998-03-02|3\n2|Customer#2|||-17\n", string(b))
}

func TestDelimitedSinkRejectsDelimiters(t *testing.T) {
	ctx := context.Background()
	a := NewFileApplier(t.TempDir(), FormatDelimited, "r")
	require.NoError(t, a.ApplyAssignments(ctx, customer(t), []table.Assignment{
		{RowNum: 0, Partition: 1, Values: []any{int64(1), "plain", 1.5, nil}},
	}))
	for _, name := range []string{"a|b", "line\nbreak", "cr\r"} {
		err := a.ApplyAssignments(ctx, customer(t), []table.Assignment{
			{RowNum: 1, Partition: 1, Values: []any{int64(2), name, 1.5, nil}},
		})
		require.ErrorIs(t, err, ErrDelimiterInValue)
		var cfgErr *utils.ConfigError
		require.True(t, errors.As(err, &cfgErr))
	}

	files, err := a.Finish(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), files[0].Rows)
	b, err := os.ReadFile(files[0].Path)
	require.NoError(t, err)
	require.Equal(t, "1|plain|1.5||1\n", string(b))
}

func TestParquetSink(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(FormatParquet, dir, customer(t), "")
	require.NoError(t, err)

	require.NoError(t, s.Write([]any{int32(1), "Customer#1", 711.56, "1998-03-02"}, 3))
	require.NoError(t, s.Write([]any{int64(2), nil, int64(12), nil}, 1))
	require.Error(t, s.Write([]any{"not a key", "x", 1.0, nil}, 1))
	require.NoError(t, s.Close())
	require.Equal(t, int64(2), s.Rows())

	fr, err := local.NewLocalFileReader(s.Path())
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, s.(*ParquetSink).Schema, 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(2), pr.GetNumRows())
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatDelimited, f)
	f, err = ParseFormat("parquet")
	require.NoError(t, err)
	require.Equal(t, FormatParquet, f)
	_, err = ParseFormat("orc")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

type recordingUploader struct {
	keys []string
	fail bool
}

func (u *recordingUploader) UploadFile(ctx context.Context, key, localPath string) error {
	if u.fail {
		return errors.New("bucket unavailable")
	}
	u.keys = append(u.keys, key)
	return nil
}

func TestFileApplier(t *testing.T) {
	ctx := context.Background()
	rel := customer(t)
	part, err := table.NewRelation("part", []string{"p_partkey"}, []string{"int8"})
	require.NoError(t, err)

	a := NewFileApplier(t.TempDir(), FormatDelimited, "r")
	up := &recordingUploader{}
	a.Uploader = up

	require.NoError(t, a.ApplyAssignments(ctx, rel, []table.Assignment{
		{RowNum: 0, Partition: 1, Values: []any{int64(1), "a", 1.5, nil}},
		{RowNum: 1, Partition: 0, Values: []any{int64(2), "b", 2.5, nil}},
	}))
	require.NoError(t, a.ApplyAssignments(ctx, part, []table.Assignment{
		{RowNum: 0, Partition: 9, Values: []any{int64(9)}},
	}))
	err = a.ApplyAssignments(ctx, part, []table.Assignment{{RowNum: 4, Partition: 1}})
	var stateErr *utils.StateError
	require.True(t, errors.As(err, &stateErr))

	files, err := a.Finish(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "customer", files[0].Relation)
	require.Equal(t, int64(2), files[0].Rows)
	require.Equal(t, []string{"customer_r.tbl", "part_r.tbl"}, up.keys)
}

func TestFileApplierUploadFailure(t *testing.T) {
	ctx := context.Background()
	a := NewFileApplier(t.TempDir(), FormatDelimited, "")
	a.Uploader = &recordingUploader{fail: true}
	require.NoError(t, a.ApplyAssignments(ctx, customer(t), []table.Assignment{
		{RowNum: 0, Partition: 1, Values: []any{int64(1), "a", 1.5, nil}},
	}))
	_, err := a.Finish(ctx)
	var storeErr *utils.StoreError
	require.True(t, errors.As(err, &storeErr))
	require.Equal(t, "customer", storeErr.Relation)
}

func TestDelimitedSource(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "part.tbl")
	// dbgen style files end every line with the delimiter
	require.NoError(t, os.WriteFile(p, []byte("1|goldenrod|\n2|blush|\n"), 0o644))
	rel, err := table.NewRelation("part", []string{"p_partkey", "p_name"}, []string{"int8", "text"})
	require.NoError(t, err)

	var rows []table.Row
	err = DelimitedSource{Paths: map[string]string{"part": p}}.ScanRows(context.Background(), rel, func(row table.Row) error {
		rows = append(rows, row)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []table.Row{
		{Num: 0, ColVals: []any{"1", "goldenrod"}},
		{Num: 1, ColVals: []any{"2", "blush"}},
	}, rows)

	other, err := table.NewRelation("supplier", []string{"s_suppkey"}, []string{"int8"})
	require.NoError(t, err)
	err = DelimitedSource{}.ScanRows(context.Background(), other, func(table.Row) error { return nil })
	require.ErrorIs(t, err, ErrNoInputFile)
	var cfgErr *utils.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	short := filepath.Join(dir, "short.tbl")
	require.NoError(t, os.WriteFile(short, []byte("1|\n"), 0o644))
	err = DelimitedSource{Paths: map[string]string{"part": short}}.ScanRows(context.Background(), rel, func(table.Row) error { return nil })
	require.ErrorAs(t, err, &cfgErr)
}
