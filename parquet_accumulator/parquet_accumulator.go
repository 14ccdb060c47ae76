package parquet_accumulator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danthegoodman1/copartition/table"
)

type (
	// ParquetSchemaAccumulator collects the columns of a partitioned file, either
	// declared from a relation or inferred from JSON rows.
	ParquetSchemaAccumulator struct {
		schema ParquetSchema
	}

	ParquetSchema struct {
		TagStructs SchemaTag        `json:"-,omitempty"`
		Fields     []*ParquetSchema `json:",omitempty"`
		// SQL type the column was declared or inferred as
		SQLType string `json:"-"`
	}

	ParquetJSONSchema struct {
		Tag    string               `json:",omitempty"`
		Fields []*ParquetJSONSchema `json:",omitempty"`
	}

	SchemaTag struct {
		Name           string         `json:"name,omitempty"`
		Type           string         `json:"type,omitempty"`
		ConvertedType  string         `json:"convertedtype,omitempty"`
		RepetitionType RepetitionType `json:"repetitiontype,omitempty"`
		Encoding       string         `json:"encoding,omitempty"`
	}

	RepetitionType string
)

var (
	Optional RepetitionType = "OPTIONAL"
	Required RepetitionType = "REQUIRED"
)

const DefaultPartitionColumn = "partition_id"

func NewParquetAccumulator() ParquetSchemaAccumulator {
	return ParquetSchemaAccumulator{
		schema: ParquetSchema{
			TagStructs: SchemaTag{
				Name:           "parquet_go_root",
				RepetitionType: Required,
			},
		},
	}
}

// ForRelation declares every column of rel followed by a required int64
// partition column.
func ForRelation(rel *table.Relation, partitionColumn string) ParquetSchemaAccumulator {
	pa := NewParquetAccumulator()
	for _, col := range rel.Columns {
		pa.AddColumn(col.Name, col.Type, Optional)
	}
	pa.AddColumn(partitionColumn, "int8", Required)
	return pa
}

// AddColumn declares a column from its SQL type. Declaring an existing column
// is a no-op.
func (pa *ParquetSchemaAccumulator) AddColumn(name, sqlType string, rep RepetitionType) {
	if pa.fieldExists(name) {
		return
	}
	schema := &ParquetSchema{
		TagStructs: SchemaTag{Name: name, RepetitionType: rep},
		SQLType:    sqlType,
	}
	setPhysicalType(&schema.TagStructs, sqlType)
	pa.schema.Fields = append(pa.schema.Fields, schema)
}

// WriteRow infers columns from a flattened JSON row. Columns keep the type of
// the first non null value they were seen with.
func (pa *ParquetSchemaAccumulator) WriteRow(row map[string]any) {
	for key, val := range row {
		if pa.fieldExists(key) {
			continue
		}
		if sqlType := inferSQLType(val); sqlType != "" {
			pa.AddColumn(key, sqlType, Optional)
		}
	}
}

func inferSQLType(item any) string {
	switch v := item.(type) {
	case string, *string:
		return "text"
	case bool:
		return "bool"
	case int, int32, int64:
		return "int8"
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return "int8"
		}
		return "float8"
	case float64:
		// JSON does not tell integers apart
		if v == float64(int64(v)) {
			return "int8"
		}
		return "float8"
	default:
		return ""
	}
}

func setPhysicalType(tag *SchemaTag, sqlType string) {
	t := strings.ToLower(sqlType)
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	switch strings.TrimSpace(t) {
	case "int", "int2", "int4", "int8", "integer", "bigint", "smallint", "serial", "bigserial":
		tag.Type = "INT64"
	case "float", "float4", "float8", "real", "double precision", "numeric", "decimal":
		tag.Type = "DOUBLE"
	case "bool", "boolean":
		tag.Type = "BOOLEAN"
	default:
		tag.Type = "BYTE_ARRAY"
		tag.ConvertedType = "UTF8"
		tag.Encoding = "PLAIN"
	}
}

func (pa *ParquetSchemaAccumulator) fieldExists(fieldName string) (exists bool) {
	for _, field := range pa.schema.Fields {
		if field.TagStructs.Name == fieldName {
			return true
		}
	}
	return
}

func (pa *ParquetSchemaAccumulator) GetColumnNames() []string {
	var cols []string
	for _, field := range pa.schema.Fields {
		cols = append(cols, field.TagStructs.Name)
	}
	return cols
}

// GetColumnTypes returns the SQL types of the columns in the same order
func (pa *ParquetSchemaAccumulator) GetColumnTypes() []string {
	var cols []string
	for _, field := range pa.schema.Fields {
		cols = append(cols, field.SQLType)
	}
	return cols
}

// GetPhysicalTypes returns the parquet types of the columns in the same order
func (pa *ParquetSchemaAccumulator) GetPhysicalTypes() []string {
	var cols []string
	for _, field := range pa.schema.Fields {
		cols = append(cols, field.TagStructs.Type)
	}
	return cols
}

// Relation turns the accumulated columns into a relation, without the
// partition column.
func (pa *ParquetSchemaAccumulator) Relation(name, partitionColumn string) (*table.Relation, error) {
	var names, types []string
	for _, field := range pa.schema.Fields {
		if field.TagStructs.Name == partitionColumn {
			continue
		}
		names = append(names, field.TagStructs.Name)
		types = append(types, field.SQLType)
	}
	return table.NewRelation(name, names, types)
}

// ToParquetJSONSchema recursively converts
func (ps *ParquetSchema) ToParquetJSONSchema() *ParquetJSONSchema {
	var tagArr []string
	if ps.TagStructs.Type != "" {
		tagArr = append(tagArr, "type="+ps.TagStructs.Type)
	}
	if ps.TagStructs.ConvertedType != "" {
		tagArr = append(tagArr, "convertedtype="+ps.TagStructs.ConvertedType)
	}
	if ps.TagStructs.Encoding != "" {
		tagArr = append(tagArr, "encoding="+ps.TagStructs.Encoding)
	}
	if ps.TagStructs.Name != "" {
		tagArr = append(tagArr, "name="+ps.TagStructs.Name)
	}
	if string(ps.TagStructs.RepetitionType) != "" {
		tagArr = append(tagArr, "repetitiontype="+string(ps.TagStructs.RepetitionType))
	}
	var fields []*ParquetJSONSchema
	for _, field := range ps.Fields {
		fields = append(fields, field.ToParquetJSONSchema())
	}
	return &ParquetJSONSchema{
		Tag:    strings.Join(tagArr, ", "),
		Fields: fields,
	}
}

// GetSchemaString returns the JSON formatted schema string
func (pa *ParquetSchemaAccumulator) GetSchemaString() (string, error) {
	var fields []*ParquetJSONSchema
	for _, field := range pa.schema.Fields {
		fields = append(fields, field.ToParquetJSONSchema())
	}
	pjs := ParquetJSONSchema{
		Tag:    "name=parquet_go_root, repetitiontype=REQUIRED",
		Fields: fields,
	}

	b, err := json.Marshal(pjs)
	if err != nil {
		return "", fmt.Errorf("error in json.Marshal: %w", err)
	}
	return string(b), nil
}
