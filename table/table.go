package table

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
)

type (
	Column struct {
		Name string
		// SQL type as declared in the store, e.g. "int8" or "varchar(40)"
		Type string
	}

	Relation struct {
		Name    string
		Columns []Column
	}

	Row struct {
		// Num identifies the row uniquely across the whole relation
		Num int64

		// The list of column values, same order as Relation.Columns
		ColVals []any
	}

	// Assignment is the partition decision for one row
	Assignment struct {
		RowNum    int64 `json:"rowNum"`
		Partition int64 `json:"partition"`
		// Values of the row, set when the producer had them. Stores update by
		// RowNum, file sinks write Values.
		Values []any `json:"-"`
	}
)

var (
	ErrUnknownColumn   = errors.New("unknown column")
	ErrNotIntegerValue = errors.New("value is not an integer")
	ErrUnhashableKey   = errors.New("value cannot be used as a key")
)

func NewRelation(name string, colNames, colTypes []string) (*Relation, error) {
	if len(colNames) != len(colTypes) {
		return nil, fmt.Errorf("relation %s has %d column names but %d column types", name, len(colNames), len(colTypes))
	}
	r := &Relation{Name: name}
	for i := range colNames {
		r.Columns = append(r.Columns, Column{Name: colNames[i], Type: colTypes[i]})
	}
	return r, nil
}

func (r *Relation) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex returns the position of the named column or ErrUnknownColumn
func (r *Relation) ColumnIndex(name string) (int, error) {
	for i, c := range r.Columns {
		if c.Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("column %s in relation %s: %w", name, r.Name, ErrUnknownColumn)
}

// ColumnIndexes resolves several column names at once
func (r *Relation) ColumnIndexes(names []string) ([]int, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		var err error
		idx[i], err = r.ColumnIndex(n)
		if err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Key returns the normalised key value of the row at column idx. Values that
// cannot be map keys (slices, maps, arrays or structs holding them) are
// rejected with ErrUnhashableKey.
func (row Row) Key(idx int) (any, error) {
	v := KeyOf(row.ColVals[idx])
	if !Hashable(v) {
		return nil, fmt.Errorf("row %d column %d holds %T: %w", row.Num, idx, row.ColVals[idx], ErrUnhashableKey)
	}
	return v, nil
}

// Hashable reports whether v can be used as a map key without panicking.
func Hashable(v any) bool {
	return hashable(reflect.ValueOf(v))
}

func hashable(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Slice, reflect.Map, reflect.Func:
		return false
	case reflect.Interface:
		return v.IsNil() || hashable(v.Elem())
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if !hashable(v.Index(i)) {
				return false
			}
		}
		return true
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !hashable(v.Field(i)) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// KeyOf normalises a column value so it can be used as a map key. Byte slices
// become strings and every integer width becomes int64, so the same value read
// through different drivers compares equal. nil stays nil, NULL joins NULL.
func KeyOf(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case uint:
		return int64(t)
	case *string:
		if t == nil {
			return nil
		}
		return *t
	default:
		return v
	}
}

// AsInt64 interprets a key value as an integer.
func AsInt64(v any) (int64, error) {
	switch t := KeyOf(v).(type) {
	case int64:
		return t, nil
	case float64:
		if t != float64(int64(t)) {
			return 0, fmt.Errorf("%v: %w", v, ErrNotIntegerValue)
		}
		return int64(t), nil
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%q: %w", t, ErrNotIntegerValue)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("%v (%T): %w", v, v, ErrNotIntegerValue)
	}
}
