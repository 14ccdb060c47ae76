package sink

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/danthegoodman1/copartition/table"
)

var ErrUnknownFormat = errors.New("unknown file format")

type (
	// Sink writes rows of one relation with their partition id appended.
	Sink interface {
		Write(values []any, partition int64) error
		// Close flushes the file. The sink is unusable afterwards.
		Close() error
		Path() string
		Rows() int64
	}

	Format string
)

const (
	FormatDelimited Format = "tbl"
	FormatParquet   Format = "parquet"
)

// Open creates the partitioned file for rel inside dir.
func Open(format Format, dir string, rel *table.Relation, runID string) (Sink, error) {
	name := rel.Name
	if runID != "" {
		name += "_" + runID
	}
	path := filepath.Join(dir, name+"."+string(format))
	switch format {
	case FormatDelimited:
		return NewDelimitedSink(path, len(rel.Columns))
	case FormatParquet:
		return NewParquetSink(path, rel)
	default:
		return nil, fmt.Errorf("%s: %w", format, ErrUnknownFormat)
	}
}

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatDelimited:
		return FormatDelimited, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("%s: %w", s, ErrUnknownFormat)
	}
}

// formatValue renders a column value as text, NULL as the empty string.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
