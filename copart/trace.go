package copart

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
)

type (
	// tracer remembers, per key slot, the internal partitions each key value was
	// placed on.
	tracer struct {
		partitions int
		observed   []map[any]map[int64]struct{}
	}

	SlotStats struct {
		Table      string
		Column     string
		Values     int
		Exceptions int
		// ExceptionPct is Exceptions as a percentage of Values
		ExceptionPct float64
	}

	Stats struct {
		Counts []int64
		Rows   int64
		// Balance is the largest partition over the mean partition size, 1 is perfect
		Balance float64
		Slots   []SlotStats
	}
)

func newTracer(partitions int) *tracer {
	return &tracer{partitions: partitions}
}

func (t *tracer) addSlot() {
	t.observed = append(t.observed, make(map[any]map[int64]struct{}))
}

func (t *tracer) record(slots []int, values []any, part int64) {
	for i, s := range slots {
		seen, ok := t.observed[s][values[i]]
		if !ok {
			seen = make(map[int64]struct{}, 1)
			t.observed[s][values[i]] = seen
		}
		seen[part] = struct{}{}
	}
}

// Verify checks that every key value with a concrete assignment only ever
// appeared in that partition. It needs WithTracing and returns one error per
// violating value.
func (cp *CoPartitioner) Verify() error {
	if cp.tracer == nil {
		return fmt.Errorf("tracing is not enabled")
	}
	var errs error
	for s, slot := range cp.slots {
		for value, parts := range cp.tracer.observed[s] {
			l := slot.keys.Get(value)
			if !l.IsConcrete() {
				continue
			}
			for _, p := range sortedParts(parts) {
				if p != l.Partition {
					errs = multierror.Append(errs, fmt.Errorf("%s.%s value %v is mapped to partition %d but was found in partition %d", slot.table, slot.column, value, l.Partition, p))
				}
			}
		}
	}
	return errs
}

func sortedParts(parts map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(parts))
	for p := range parts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Stats summarises the balance and exception rates of the rows assigned so far.
func (cp *CoPartitioner) Stats() Stats {
	st := Stats{Counts: cp.Counts()}
	var max int64
	for _, c := range st.Counts {
		st.Rows += c
		if c > max {
			max = c
		}
	}
	if st.Rows > 0 {
		st.Balance = float64(max) / (float64(st.Rows) / float64(cp.partitions))
	}
	for _, slot := range cp.slots {
		ss := SlotStats{
			Table:      slot.table,
			Column:     slot.column,
			Values:     slot.keys.Len(),
			Exceptions: slot.keys.Exceptions(),
		}
		if ss.Values > 0 {
			ss.ExceptionPct = 100 * float64(ss.Exceptions) / float64(ss.Values)
		}
		st.Slots = append(st.Slots, ss)
	}
	return st
}
