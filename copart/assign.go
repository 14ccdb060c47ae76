package copart

import (
	"fmt"

	"github.com/danthegoodman1/copartition/keymap"
	"github.com/danthegoodman1/copartition/table"
	"github.com/danthegoodman1/copartition/utils"
)

type update struct {
	slot      int
	value     any
	partition int64
	exception bool
}

// AssignFact decides the partition of one fact row and returns its external id.
//
// Without any co-location signal the row goes to the least loaded partition and
// its unseen key values follow it. Otherwise the first assigned key value wins,
// unless a later key disagrees: then the winner is chosen round robin over the
// slots holding an assignment, starting after the previous winner. Key values
// whose assignment lost become exceptions.
func (cp *CoPartitioner) AssignFact(factTable string, row table.Row) (int64, error) {
	t, ok := cp.tables[factTable]
	if !ok {
		return 0, utils.NewStateError("assign fact row", factTable, ErrUnknownTable)
	}
	if !t.IsFact {
		return 0, utils.NewStateError("assign fact row", factTable, ErrNotFactTable)
	}
	k := len(t.slots)
	if k == 0 {
		return 0, utils.NewStateError("assign fact row", factTable, ErrNoKeySlots)
	}

	values := make([]any, k)
	lookups := make([]keymap.Lookup, k)
	for i, s := range t.slots {
		slot := cp.slots[s]
		if slot.colIdx >= len(row.ColVals) {
			return 0, utils.NewConfigError("assign fact row", factTable, fmt.Errorf("row %d: %w", row.Num, table.ErrUnknownColumn))
		}
		v, err := row.Key(slot.colIdx)
		if err != nil {
			return 0, utils.NewConfigError("assign fact row", factTable, err)
		}
		values[i] = v
		lookups[i] = slot.keys.Get(v)
	}

	part, choice, signal := resolve(lookups, t.lastChoice)
	if !signal {
		part = cp.leastLoaded()
	}

	// all decisions are made before the maps change
	updates := make([]update, 0, k)
	for i, l := range lookups {
		switch {
		case l.State == keymap.Unseen:
			updates = append(updates, update{slot: t.slots[i], value: values[i], partition: part})
		case l.State == keymap.Assigned && l.Partition != part:
			updates = append(updates, update{slot: t.slots[i], value: values[i], exception: true})
		}
	}
	for _, u := range updates {
		if u.exception {
			cp.slots[u.slot].keys.MarkException(u.value)
		} else {
			cp.slots[u.slot].keys.Assign(u.value, u.partition)
		}
	}
	if choice >= 0 {
		t.lastChoice = choice
	}
	cp.counts[part]++
	if cp.tracer != nil {
		cp.tracer.record(t.slots, values, part)
	}
	return cp.mapping.Translate(part), nil
}

// resolve picks the partition dictated by the lookups. signal is false when no
// lookup holds an assignment. choice is the slot that won a conflict, or -1.
// Only the first disagreement is resolved.
func resolve(lookups []keymap.Lookup, lastChoice int) (part int64, choice int, signal bool) {
	k := len(lookups)
	choice = -1
	for _, l := range lookups {
		if !l.IsConcrete() {
			continue
		}
		if !signal {
			part = l.Partition
			signal = true
			continue
		}
		if l.Partition != part {
			// at least two slots are concrete, so this terminates
			c := (lastChoice + 1) % k
			for !lookups[c].IsConcrete() {
				c = (c + 1) % k
			}
			return lookups[c].Partition, c, true
		}
	}
	return part, choice, signal
}

// AssignDim returns the partition of a dimension row: the partition its primary
// key value was co-located on by the referencing fact table, or the fallback
// policy's choice when there is none.
func (cp *CoPartitioner) AssignDim(dimTable string, row table.Row) (int64, error) {
	t, ok := cp.tables[dimTable]
	if !ok {
		return 0, utils.NewStateError("assign dimension row", dimTable, ErrUnknownTable)
	}
	if t.IsFact {
		return 0, utils.NewStateError("assign dimension row", dimTable, ErrNotDimTable)
	}
	fk := cp.foreignKeyFor(dimTable)
	if fk == nil {
		return 0, utils.NewStateError("assign dimension row", dimTable, ErrNotReferenced)
	}
	pkIdx, err := t.Relation.ColumnIndex(fk.DimCol)
	if err != nil || pkIdx >= len(row.ColVals) {
		return 0, utils.NewConfigError("assign dimension row", dimTable, fmt.Errorf("row %d: %w", row.Num, table.ErrUnknownColumn))
	}

	key, err := row.Key(pkIdx)
	if err != nil {
		return 0, utils.NewConfigError("assign dimension row", dimTable, err)
	}
	l := cp.slots[fk.slot].keys.Get(key)
	if l.IsConcrete() {
		return cp.mapping.Translate(l.Partition), nil
	}
	part, err := cp.dimFallback.Partition(cp, key)
	if err != nil {
		return 0, utils.NewConfigError("assign dimension row", dimTable, fmt.Errorf("row %d: %w", row.Num, err))
	}
	return part, nil
}

func (cp *CoPartitioner) foreignKeyFor(dimTable string) *ForeignKey {
	for _, fk := range cp.fks {
		if fk.DimTable == dimTable {
			return fk
		}
	}
	return nil
}

// Assign dispatches on the table's role.
func (cp *CoPartitioner) Assign(tableName string, row table.Row) (int64, error) {
	t, ok := cp.tables[tableName]
	if !ok {
		return 0, utils.NewStateError("assign row", tableName, ErrUnknownTable)
	}
	if t.IsFact {
		return cp.AssignFact(tableName, row)
	}
	return cp.AssignDim(tableName, row)
}
