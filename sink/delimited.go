package sink

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const Delimiter = '|'

// ErrDelimiterInValue is returned for values that would split a field or a line.
// The format has no escaping, so such rows are rejected.
var ErrDelimiterInValue = errors.New("value contains the delimiter or a line break")

// DelimitedSink writes one line per row: the column values followed by the
// partition id, separated by Delimiter. This is the input format of the bulk
// loader.
type DelimitedSink struct {
	path    string
	columns int
	f       *os.File
	w       *bufio.Writer
	rows    int64
}

func NewDelimitedSink(path string, columns int) (*DelimitedSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("error in os.Create: %w", err)
	}
	return &DelimitedSink{
		path:    path,
		columns: columns,
		f:       f,
		w:       bufio.NewWriterSize(f, 1<<16),
	}, nil
}

func (s *DelimitedSink) Write(values []any, partition int64) error {
	if len(values) != s.columns {
		return fmt.Errorf("got %d values for %d columns", len(values), s.columns)
	}
	fields := make([]string, len(values))
	for i, v := range values {
		fields[i] = formatValue(v)
		if strings.ContainsAny(fields[i], "|\r\n") {
			return fmt.Errorf("column %d %q: %w", i, fields[i], ErrDelimiterInValue)
		}
	}
	for _, f := range fields {
		if _, err := s.w.WriteString(f); err != nil {
			return fmt.Errorf("error writing %s: %w", s.path, err)
		}
		if err := s.w.WriteByte(Delimiter); err != nil {
			return fmt.Errorf("error writing %s: %w", s.path, err)
		}
	}
	if _, err := s.w.WriteString(strconv.FormatInt(partition, 10)); err != nil {
		return fmt.Errorf("error writing %s: %w", s.path, err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("error writing %s: %w", s.path, err)
	}
	s.rows++
	return nil
}

func (s *DelimitedSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return fmt.Errorf("error flushing %s: %w", s.path, err)
	}
	return s.f.Close()
}

func (s *DelimitedSink) Path() string {
	return s.path
}

func (s *DelimitedSink) Rows() int64 {
	return s.rows
}
