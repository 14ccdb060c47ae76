package sink

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/danthegoodman1/copartition/parquet_accumulator"
	"github.com/danthegoodman1/copartition/table"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// ParquetSink writes a parquet file with the relation's columns and a
// partition_id column.
type ParquetSink struct {
	path   string
	names  []string
	types  []string
	fw     source.ParquetFile
	pw     *writer.JSONWriter
	rows   int64
	Schema string
}

// Parallelism of the parquet writer
var ParquetWriterParallelism int64 = 4

func NewParquetSink(path string, rel *table.Relation) (*ParquetSink, error) {
	acc := parquet_accumulator.ForRelation(rel, parquet_accumulator.DefaultPartitionColumn)
	schema, err := acc.GetSchemaString()
	if err != nil {
		return nil, fmt.Errorf("error in GetSchemaString: %w", err)
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("error in NewLocalFileWriter: %w", err)
	}
	pw, err := writer.NewJSONWriter(schema, fw, ParquetWriterParallelism)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("error in NewJSONWriter: %w", err)
	}
	return &ParquetSink{
		path:   path,
		names:  acc.GetColumnNames(),
		types:  acc.GetPhysicalTypes(),
		fw:     fw,
		pw:     pw,
		Schema: schema,
	}, nil
}

func (s *ParquetSink) Write(values []any, partition int64) error {
	if len(values) != len(s.names)-1 {
		return fmt.Errorf("got %d values for %d columns", len(values), len(s.names)-1)
	}
	row := make(map[string]any, len(s.names))
	for i, v := range values {
		pv, err := parquetValue(v, s.types[i])
		if err != nil {
			return fmt.Errorf("column %s: %w", s.names[i], err)
		}
		if pv != nil {
			row[s.names[i]] = pv
		}
	}
	row[s.names[len(s.names)-1]] = partition

	b, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("error in json.Marshal: %w", err)
	}
	if err := s.pw.Write(string(b)); err != nil {
		return fmt.Errorf("error writing %s: %w", s.path, err)
	}
	s.rows++
	return nil
}

type assigner interface {
	AssignTo(dst any) error
}

// parquetValue converts a scanned value to what the JSON writer expects for the
// physical type. nil stays nil.
func parquetValue(v any, physicalType string) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch physicalType {
	case "INT64":
		return table.AsInt64(v)
	case "DOUBLE":
		switch t := v.(type) {
		case float64:
			return t, nil
		case float32:
			return float64(t), nil
		case assigner:
			var f float64
			if err := t.AssignTo(&f); err != nil {
				return nil, err
			}
			return f, nil
		}
		if i, err := table.AsInt64(v); err == nil {
			return float64(i), nil
		}
		return strconv.ParseFloat(formatValue(v), 64)
	case "BOOLEAN":
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return strconv.ParseBool(formatValue(v))
	default:
		return formatValue(v), nil
	}
}

func (s *ParquetSink) Close() error {
	if err := s.pw.WriteStop(); err != nil {
		s.fw.Close()
		return fmt.Errorf("error in WriteStop: %w", err)
	}
	return s.fw.Close()
}

func (s *ParquetSink) Path() string {
	return s.path
}

func (s *ParquetSink) Rows() int64 {
	return s.rows
}
