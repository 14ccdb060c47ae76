package http_server

import (
	"errors"
	"fmt"

	"github.com/danthegoodman1/copartition/copart"
	"github.com/danthegoodman1/copartition/remap"
	"github.com/danthegoodman1/copartition/table"
	"github.com/danthegoodman1/copartition/utils"
)

type (
	// SchemaSpec describes a star schema to co-partition.
	SchemaSpec struct {
		Partitions  int             `validate:"required,gte=1"`
		FactTables  []FactTableSpec `validate:"required,min=1,dive"`
		DimTables   []DimTableSpec  `validate:"dive"`
		DimFallback string          `validate:"omitempty,oneof=raw random"`
	}

	FactTableSpec struct {
		Name       string `validate:"required"`
		PrimaryKey string
		// Columns partitioned on without a dimension table
		PartitionKeys []string
		ForeignKeys   []ForeignKeySpec `validate:"dive"`
	}

	ForeignKeySpec struct {
		Column    string `validate:"required"`
		DimTable  string `validate:"required"`
		DimColumn string `validate:"required"`
	}

	DimTableSpec struct {
		Name       string `validate:"required"`
		PrimaryKey string `validate:"required"`
	}
)

var ErrMissingRelation = errors.New("no columns known for table")

// TableNames lists fact tables then dimension tables.
func (s *SchemaSpec) TableNames() []string {
	var names []string
	for _, f := range s.FactTables {
		names = append(names, f.Name)
	}
	for _, d := range s.DimTables {
		names = append(names, d.Name)
	}
	return names
}

// KeyColumns returns the key columns of a fact table in registration order.
func (f FactTableSpec) KeyColumns() []string {
	var cols []string
	for _, fk := range f.ForeignKeys {
		cols = append(cols, fk.Column)
	}
	return append(cols, f.PartitionKeys...)
}

// Build registers the schema on a new CoPartitioner.
func (s *SchemaSpec) Build(mapping remap.Mapping, relations map[string]*table.Relation) (*copart.CoPartitioner, error) {
	fallback, ok := copart.ParseDimFallback(s.DimFallback)
	if !ok {
		return nil, utils.NewConfigError("build schema", "", fmt.Errorf("unknown dimension fallback %q", s.DimFallback))
	}
	cp, err := copart.New(mapping, copart.WithDimFallback(fallback), copart.WithTracing())
	if err != nil {
		return nil, err
	}

	rel := func(name string) (*table.Relation, error) {
		r, ok := relations[name]
		if !ok {
			return nil, utils.NewConfigError("build schema", name, ErrMissingRelation)
		}
		return r, nil
	}
	for _, f := range s.FactTables {
		r, err := rel(f.Name)
		if err != nil {
			return nil, err
		}
		if err := cp.NewFactTable(r, f.PrimaryKey); err != nil {
			return nil, err
		}
	}
	for _, d := range s.DimTables {
		r, err := rel(d.Name)
		if err != nil {
			return nil, err
		}
		if err := cp.NewDimTable(r, d.PrimaryKey); err != nil {
			return nil, err
		}
	}
	for _, f := range s.FactTables {
		for _, fk := range f.ForeignKeys {
			if err := cp.NewForeignKey(f.Name, fk.Column, fk.DimTable, fk.DimColumn); err != nil {
				return nil, err
			}
		}
		for _, col := range f.PartitionKeys {
			if err := cp.AddPartitionKey(f.Name, col); err != nil {
				return nil, err
			}
		}
	}
	return cp, nil
}
