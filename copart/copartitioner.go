package copart

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/danthegoodman1/copartition/keymap"
	"github.com/danthegoodman1/copartition/remap"
	"github.com/danthegoodman1/copartition/table"
	"github.com/danthegoodman1/copartition/utils"
)

var (
	ErrTableExists       = errors.New("table already registered")
	ErrUnknownTable      = errors.New("table not registered")
	ErrNotFactTable      = errors.New("table is not a fact table")
	ErrNotDimTable       = errors.New("table is not a dimension table")
	ErrNoPrimaryKey      = errors.New("dimension table needs a primary key column")
	ErrNoKeySlots        = errors.New("fact table has no key columns registered")
	ErrNotReferenced     = errors.New("no foreign key references this dimension table")
	ErrBadPartitionCount = errors.New("partition count must be positive")
)

type (
	Table struct {
		Relation   *table.Relation
		IsFact     bool
		PrimaryKey int // -1 when absent
		// key slots registered against this fact table, in registration order
		slots []int
		// slot index within slots that won the most recent conflict
		lastChoice int
	}

	ForeignKey struct {
		FactTable string
		FactCol   string
		DimTable  string
		DimCol    string
		slot      int
	}

	keySlot struct {
		table  string
		column string
		colIdx int
		keys   *keymap.Map
	}

	// CoPartitioner assigns partitions to rows of a star schema one row at a time.
	// It is not safe for concurrent use, give every concurrently loaded schema its
	// own instance.
	CoPartitioner struct {
		partitions int
		mapping    remap.Mapping
		tables     map[string]*Table
		order      []string
		fks        []*ForeignKey
		slots      []*keySlot
		counts     []int64

		dimFallback DimFallback
		rnd         *rand.Rand
		tracer      *tracer
	}

	Option func(*CoPartitioner)
)

// WithDimFallback sets the policy for dimension rows without a co-located fact row.
func WithDimFallback(f DimFallback) Option {
	return func(cp *CoPartitioner) {
		cp.dimFallback = f
	}
}

// WithTracing records the key values placed in every partition so the result can
// be verified with Verify.
func WithTracing() Option {
	return func(cp *CoPartitioner) {
		cp.tracer = newTracer(cp.partitions)
	}
}

func WithRand(r *rand.Rand) Option {
	return func(cp *CoPartitioner) {
		cp.rnd = r
	}
}

// New creates a CoPartitioner for mapping.Partitions partitions.
func New(mapping remap.Mapping, opts ...Option) (*CoPartitioner, error) {
	if mapping.Partitions <= 0 || len(mapping.Values) != mapping.Partitions {
		return nil, utils.NewConfigError("create co-partitioner", "", ErrBadPartitionCount)
	}
	cp := &CoPartitioner{
		partitions:  mapping.Partitions,
		mapping:     mapping,
		tables:      make(map[string]*Table),
		counts:      make([]int64, mapping.Partitions),
		dimFallback: RawKeyFallback{},
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(cp)
	}
	return cp, nil
}

func (cp *CoPartitioner) Partitions() int {
	return cp.partitions
}

func (cp *CoPartitioner) Mapping() remap.Mapping {
	return cp.mapping
}

func (cp *CoPartitioner) newTable(rel *table.Relation, isFact bool, primaryKey string) error {
	if _, exists := cp.tables[rel.Name]; exists {
		return utils.NewConfigError("register table", rel.Name, ErrTableExists)
	}
	t := &Table{Relation: rel, IsFact: isFact, PrimaryKey: -1}
	if primaryKey != "" {
		idx, err := rel.ColumnIndex(primaryKey)
		if err != nil {
			return utils.NewConfigError("register table", rel.Name, err)
		}
		t.PrimaryKey = idx
	}
	cp.tables[rel.Name] = t
	cp.order = append(cp.order, rel.Name)
	return nil
}

// Tables returns the registered relations, fact tables first, each group in
// registration order. Dimension rows depend on the fact rows, so this is the
// order to load them in.
func (cp *CoPartitioner) Tables() []*table.Relation {
	var facts, dims []*table.Relation
	for _, name := range cp.order {
		t := cp.tables[name]
		if t.IsFact {
			facts = append(facts, t.Relation)
		} else {
			dims = append(dims, t.Relation)
		}
	}
	return append(facts, dims...)
}

// NewFactTable registers a fact table. primaryKey may be empty.
func (cp *CoPartitioner) NewFactTable(rel *table.Relation, primaryKey string) error {
	return cp.newTable(rel, true, primaryKey)
}

func (cp *CoPartitioner) NewDimTable(rel *table.Relation, primaryKey string) error {
	if primaryKey == "" {
		return utils.NewConfigError("register table", rel.Name, ErrNoPrimaryKey)
	}
	return cp.newTable(rel, false, primaryKey)
}

func (cp *CoPartitioner) factColumn(tableName, column string) (*Table, int, error) {
	t, ok := cp.tables[tableName]
	if !ok {
		return nil, -1, fmt.Errorf("%s: %w", tableName, ErrUnknownTable)
	}
	if !t.IsFact {
		return nil, -1, fmt.Errorf("%s: %w", tableName, ErrNotFactTable)
	}
	idx, err := t.Relation.ColumnIndex(column)
	if err != nil {
		return nil, -1, err
	}
	return t, idx, nil
}

func (cp *CoPartitioner) addSlot(t *Table, column string, colIdx int) int {
	slot := len(cp.slots)
	cp.slots = append(cp.slots, &keySlot{
		table:  t.Relation.Name,
		column: column,
		colIdx: colIdx,
		keys:   keymap.New(column),
	})
	t.slots = append(t.slots, slot)
	if cp.tracer != nil {
		cp.tracer.addSlot()
	}
	return slot
}

// NewForeignKey registers factTable.factCol -> dimTable.dimCol and makes factCol
// a key slot of the fact table. Dimension rows look up their partition in it.
func (cp *CoPartitioner) NewForeignKey(factTable, factCol, dimTable, dimCol string) error {
	ft, colIdx, err := cp.factColumn(factTable, factCol)
	if err != nil {
		return utils.NewConfigError("register foreign key", factTable, err)
	}
	dt, ok := cp.tables[dimTable]
	if !ok {
		return utils.NewConfigError("register foreign key", dimTable, ErrUnknownTable)
	}
	if dt.IsFact {
		return utils.NewConfigError("register foreign key", dimTable, ErrNotDimTable)
	}
	if _, err := dt.Relation.ColumnIndex(dimCol); err != nil {
		return utils.NewConfigError("register foreign key", dimTable, err)
	}

	cp.fks = append(cp.fks, &ForeignKey{
		FactTable: factTable,
		FactCol:   factCol,
		DimTable:  dimTable,
		DimCol:    dimCol,
		slot:      cp.addSlot(ft, factCol, colIdx),
	})
	return nil
}

// AddPartitionKey makes a fact column a key slot without a referenced dimension.
func (cp *CoPartitioner) AddPartitionKey(factTable, column string) error {
	ft, colIdx, err := cp.factColumn(factTable, column)
	if err != nil {
		return utils.NewConfigError("register partition key", factTable, err)
	}
	cp.addSlot(ft, column, colIdx)
	return nil
}

// KeyMap returns the key partition map of a fact table's key column.
func (cp *CoPartitioner) KeyMap(factTable, column string) (*keymap.Map, error) {
	t, ok := cp.tables[factTable]
	if !ok {
		return nil, utils.NewStateError("look up key map", factTable, ErrUnknownTable)
	}
	for _, s := range t.slots {
		if cp.slots[s].column == column {
			return cp.slots[s].keys, nil
		}
	}
	return nil, utils.NewStateError("look up key map", factTable, fmt.Errorf("column %s: %w", column, ErrNoKeySlots))
}

// Counts returns a copy of the rows assigned per internal partition.
func (cp *CoPartitioner) Counts() []int64 {
	out := make([]int64, len(cp.counts))
	copy(out, cp.counts)
	return out
}

// LastChoice is the key slot index within factTable that won its most recent
// conflict. Every fact table keeps its own round robin cursor.
func (cp *CoPartitioner) LastChoice(factTable string) int {
	t, ok := cp.tables[factTable]
	if !ok {
		return 0
	}
	return t.lastChoice
}

// leastLoaded returns the partition with the fewest rows, the lowest index on ties.
func (cp *CoPartitioner) leastLoaded() int64 {
	best := 0
	for i := 1; i < len(cp.counts); i++ {
		if cp.counts[i] < cp.counts[best] {
			best = i
		}
	}
	return int64(best)
}
