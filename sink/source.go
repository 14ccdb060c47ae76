package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/danthegoodman1/copartition/table"
	"github.com/danthegoodman1/copartition/utils"
)

var ErrNoInputFile = errors.New("no input file for relation")

// DelimitedSource reads unpartitioned '|' delimited files, one per relation.
// Values are read as strings, the row number is the line number starting at 0.
type DelimitedSource struct {
	Paths map[string]string
}

func (s DelimitedSource) ScanRows(ctx context.Context, rel *table.Relation, fn func(row table.Row) error) error {
	path, ok := s.Paths[rel.Name]
	if !ok {
		return utils.NewConfigError("open input file", rel.Name, ErrNoInputFile)
	}
	f, err := os.Open(path)
	if err != nil {
		return utils.NewConfigError("open input file", rel.Name, fmt.Errorf("error in os.Open: %w", err))
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<24)
	var num int64
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSuffix(sc.Text(), string(Delimiter))
		fields := strings.Split(line, string(Delimiter))
		if len(fields) != len(rel.Columns) {
			return utils.NewConfigError("read input file", rel.Name, fmt.Errorf("%s line %d has %d fields, expected %d", path, num+1, len(fields), len(rel.Columns)))
		}
		vals := make([]any, len(fields))
		for i, v := range fields {
			vals[i] = v
		}
		if err := fn(table.Row{Num: num, ColVals: vals}); err != nil {
			return err
		}
		num++
	}
	if err := sc.Err(); err != nil {
		return utils.NewToolError("read input file", rel.Name, fmt.Errorf("error reading %s: %w", path, err))
	}
	return nil
}
