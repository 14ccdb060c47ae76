package bulkload

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/danthegoodman1/copartition/parquet_accumulator"
	"github.com/danthegoodman1/copartition/sink"
	"github.com/danthegoodman1/copartition/table"
	"github.com/danthegoodman1/copartition/utils"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// CopyLoader streams a delimited partitioned file into the table with COPY.
// Empty fields load as NULL.
type CopyLoader struct {
	Pool            *pgxpool.Pool
	PartitionColumn string
}

func NewCopyLoader(pool *pgxpool.Pool) *CopyLoader {
	return &CopyLoader{Pool: pool, PartitionColumn: parquet_accumulator.DefaultPartitionColumn}
}

// delimitedRows adapts a delimited file to pgx.CopyFromSource.
type delimitedRows struct {
	scanner *bufio.Scanner
	fields  int
	line    int
	values  []any
	err     error
}

func newDelimitedRows(f *os.File, fields int) *delimitedRows {
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<24)
	return &delimitedRows{scanner: sc, fields: fields}
}

func (r *delimitedRows) Next() bool {
	if r.err != nil || !r.scanner.Scan() {
		return false
	}
	r.line++
	parts := strings.Split(r.scanner.Text(), string(sink.Delimiter))
	if len(parts) != r.fields {
		r.err = fmt.Errorf("line %d has %d fields, expected %d", r.line, len(parts), r.fields)
		return false
	}
	r.values = make([]any, len(parts))
	for i, p := range parts {
		if p != "" {
			r.values[i] = p
		}
	}
	return true
}

func (r *delimitedRows) Values() ([]any, error) {
	return r.values, nil
}

func (r *delimitedRows) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.scanner.Err()
}

func (l *CopyLoader) Load(ctx context.Context, rel *table.Relation, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return utils.NewConfigError("copy load", rel.Name, fmt.Errorf("error in os.Open: %w", err))
	}
	defer f.Close()

	cols := append(rel.ColumnNames(), l.PartitionColumn)
	rows := newDelimitedRows(f, len(cols))
	n, err := l.Pool.CopyFrom(ctx, pgx.Identifier{rel.Name}, cols, rows)
	if err != nil {
		return utils.NewStoreError("copy load", rel.Name, fmt.Errorf("error in CopyFrom after %d rows: %w", n, err))
	}
	return nil
}
