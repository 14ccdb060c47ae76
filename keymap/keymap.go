package keymap

// ExceptionMarker is stored for key values that can no longer guarantee co-location.
// It is never a valid partition id.
const ExceptionMarker int64 = -1

type (
	// State of a key value inside one Map. A value moves Unseen -> Assigned -> Exception
	// and never leaves Exception.
	State int

	// Lookup is the result of reading a key value.
	Lookup struct {
		State     State
		Partition int64
	}

	// Map holds, for one key column, the partition each key value was co-located on.
	Map struct {
		column  string
		entries map[any]int64
	}
)

const (
	Unseen State = iota
	Assigned
	Exception
)

func New(column string) *Map {
	return &Map{
		column:  column,
		entries: make(map[any]int64),
	}
}

func (m *Map) Column() string {
	return m.column
}

func (m *Map) Len() int {
	return len(m.entries)
}

func (m *Map) Get(value any) Lookup {
	p, ok := m.entries[value]
	if !ok {
		return Lookup{State: Unseen, Partition: ExceptionMarker}
	}
	if p == ExceptionMarker {
		return Lookup{State: Exception, Partition: ExceptionMarker}
	}
	return Lookup{State: Assigned, Partition: p}
}

// Assign records value -> partition. It is a no-op for values already marked as
// exceptions and returns false in that case.
func (m *Map) Assign(value any, partition int64) bool {
	if p, ok := m.entries[value]; ok && p == ExceptionMarker {
		return false
	}
	m.entries[value] = partition
	return true
}

// MarkException moves value into the terminal Exception state.
func (m *Map) MarkException(value any) {
	m.entries[value] = ExceptionMarker
}

// Exceptions counts the values in the Exception state.
func (m *Map) Exceptions() int {
	n := 0
	for _, p := range m.entries {
		if p == ExceptionMarker {
			n++
		}
	}
	return n
}

// Range calls fn for every recorded value until fn returns false.
func (m *Map) Range(fn func(value any, l Lookup) bool) {
	for v := range m.entries {
		if !fn(v, m.Get(v)) {
			return
		}
	}
}

func (l Lookup) IsConcrete() bool {
	return l.State == Assigned
}

func (s State) String() string {
	switch s {
	case Assigned:
		return "assigned"
	case Exception:
		return "exception"
	default:
		return "unseen"
	}
}
