package table

import (
	"errors"
	"testing"
)

func TestKeyOf(t *testing.T) {
	if KeyOf([]byte("abc")) != "abc" {
		t.Fatal("byte slice was not normalised to a string")
	}
	if KeyOf(int32(7)) != KeyOf(int64(7)) {
		t.Fatal("int32 and int64 keys differ")
	}
	if KeyOf(uint16(7)) != int64(7) {
		t.Fatal("uint16 key was not normalised")
	}
	if KeyOf(nil) != nil {
		t.Fatal("nil key changed")
	}
	s := "x"
	if KeyOf(&s) != "x" {
		t.Fatal("string pointer was not dereferenced")
	}
}

func TestAsInt64(t *testing.T) {
	for _, v := range []any{int64(42), "42", []byte("42"), 42.0, int16(42)} {
		i, err := AsInt64(v)
		if err != nil {
			t.Fatal(err)
		}
		if i != 42 {
			t.Fatalf("got %d for %v", i, v)
		}
	}

	if _, err := AsInt64("abc"); !errors.Is(err, ErrNotIntegerValue) {
		t.Fatal("did not get ErrNotIntegerValue for a string")
	}
	if _, err := AsInt64(4.5); !errors.Is(err, ErrNotIntegerValue) {
		t.Fatal("did not get ErrNotIntegerValue for a fraction")
	}
}

func TestColumnIndexes(t *testing.T) {
	r, err := NewRelation("lineorder", []string{"orderkey", "custkey", "suppkey"}, []string{"int8", "int8", "int8"})
	if err != nil {
		t.Fatal(err)
	}

	idx, err := r.ColumnIndexes([]string{"suppkey", "custkey"})
	if err != nil {
		t.Fatal(err)
	}
	if idx[0] != 2 || idx[1] != 1 {
		t.Fatalf("got wrong indexes %v", idx)
	}

	_, err = r.ColumnIndex("partkey")
	if !errors.Is(err, ErrUnknownColumn) {
		t.Fatal("did not get ErrUnknownColumn")
	}

	if _, err := NewRelation("bad", []string{"a"}, nil); err == nil {
		t.Fatal("mismatched names and types were accepted")
	}
}

func TestKeyRejectsUnhashableValues(t *testing.T) {
	type arrayValue struct {
		Elements []any
		Valid    bool
	}
	row := Row{Num: 3, ColVals: []any{
		int32(1),
		[]any{1.0, 2.0},
		map[string]any{"a": 1},
		arrayValue{Elements: []any{1}},
		[2]any{1, []int{2}},
		struct{ A any }{A: "ok"},
	}}

	k, err := row.Key(0)
	if err != nil {
		t.Fatal(err)
	}
	if k != int64(1) {
		t.Fatalf("got %v", k)
	}
	for _, idx := range []int{1, 2, 3, 4} {
		if _, err := row.Key(idx); !errors.Is(err, ErrUnhashableKey) {
			t.Fatalf("column %d: did not get ErrUnhashableKey, got %v", idx, err)
		}
	}
	if _, err := row.Key(5); err != nil {
		t.Fatal(err)
	}
}
