package graphpart

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var ErrMalformedLabels = errors.New("malformed label file")

type (
	span struct {
		min, max int64
	}

	// Labels is the partitioner's output. Lines of "u v part" label an edge,
	// lines of "v part" label a vertex.
	Labels struct {
		edges map[Edge]span
		// vertices labeled directly by "v part" lines
		direct map[int64]span
		// vertices labeled through their incident edges
		incident map[int64]span

		partitions map[int64]struct{}
	}
)

func newLabels() *Labels {
	return &Labels{
		edges:      make(map[Edge]span),
		direct:     make(map[int64]span),
		incident:   make(map[int64]span),
		partitions: make(map[int64]struct{}),
	}
}

func widen(m map[int64]span, k, label int64) {
	s, ok := m[k]
	if !ok {
		m[k] = span{label, label}
		return
	}
	if label < s.min {
		s.min = label
	}
	if label > s.max {
		s.max = label
	}
	m[k] = s
}

func (l *Labels) addEdge(u, v, label int64) {
	if u > v {
		u, v = v, u
	}
	e := Edge{u, v}
	s, ok := l.edges[e]
	if !ok {
		s = span{label, label}
	} else {
		if label < s.min {
			s.min = label
		}
		if label > s.max {
			s.max = label
		}
	}
	l.edges[e] = s
	widen(l.incident, u, label)
	widen(l.incident, v, label)
	l.partitions[label] = struct{}{}
}

func (l *Labels) addVertex(v, label int64) {
	widen(l.direct, v, label)
	l.partitions[label] = struct{}{}
}

// pair returns the labels for the vertex pair (u, v): the edge's own labels if
// the edge was labeled, otherwise the union of both endpoint labels.
func (l *Labels) pair(u, v int64) (span, bool) {
	if u > v {
		u, v = v, u
	}
	if s, ok := l.edges[Edge{u, v}]; ok {
		return s, true
	}
	su, okU := l.direct[u]
	sv, okV := l.direct[v]
	if !okU || !okV {
		return span{}, false
	}
	if sv.min < su.min {
		su.min = sv.min
	}
	if sv.max > su.max {
		su.max = sv.max
	}
	return su, true
}

func (l *Labels) vertex(v int64) (span, bool) {
	if s, ok := l.direct[v]; ok {
		return s, true
	}
	s, ok := l.incident[v]
	return s, ok
}

// NumPartitions is the number of distinct labels seen.
func (l *Labels) NumPartitions() int {
	return len(l.partitions)
}

func (l *Labels) Len() int {
	return len(l.edges) + len(l.direct)
}

func ReadLabels(path string) (*Labels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error in os.Open: %w", err)
	}
	defer f.Close()
	return ParseLabels(f)
}

// ParseLabels reads whitespace separated label lines. A first line that is not
// numeric is a header and skipped, blank lines and '#' comments are ignored.
func ParseLabels(r io.Reader) (*Labels, error) {
	l := newLabels()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		nums := make([]int64, len(fields))
		numeric := true
		for i, f := range fields {
			n, err := strconv.ParseInt(f, 10, 64)
			if err != nil {
				numeric = false
				break
			}
			nums[i] = n
		}
		if !numeric {
			if lineNum == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d %q: %w", lineNum, line, ErrMalformedLabels)
		}
		switch len(nums) {
		case 2:
			l.addVertex(nums[0], nums[1])
		case 3:
			l.addEdge(nums[0], nums[1], nums[2])
		default:
			return nil, fmt.Errorf("line %d has %d fields: %w", lineNum, len(nums), ErrMalformedLabels)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading label file: %w", err)
	}
	return l, nil
}
