package http_server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danthegoodman1/copartition/copart"
	"github.com/danthegoodman1/copartition/parquet_accumulator"
	"github.com/danthegoodman1/copartition/table"
	"github.com/danthegoodman1/copartition/utils"
	"github.com/danthegoodman1/gojsonutils"
)

type (
	AssignReqBody struct {
		SchemaSpec
		Data []TableRows `validate:"required,min=1,dive"`
	}

	TableRows struct {
		Table string `validate:"required"`
		// Line-delimited JSON (NDJSON)
		RowsString *string
		// Array of JSON
		Rows []*map[string]any
	}

	AssignResponse struct {
		Mapping     MappingResponse
		Assignments map[string][]table.Assignment
		Stats       copart.Stats
		TimeMS      int64
	}
)

var ErrNotFlatMap = errors.New("not a flat map")

func flatten(row map[string]any) (map[string]any, error) {
	flat, err := gojsonutils.Flatten(row, nil)
	if err != nil {
		return nil, fmt.Errorf("error flattening JSON map: %w", err)
	}
	flatMap, ok := flat.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("got %T: %w", flat, ErrNotFlatMap)
	}
	return flatMap, nil
}

// flatRows extracts the flattened rows of one table from either input format.
func (tr TableRows) flatRows() ([]map[string]any, error) {
	var out []map[string]any
	if tr.RowsString != nil {
		ndJSONScanner := bufio.NewScanner(strings.NewReader(*tr.RowsString))
		ndJSONScanner.Buffer(make([]byte, 0, 1<<16), 1<<24)
		for ndJSONScanner.Scan() {
			line := strings.TrimSpace(ndJSONScanner.Text())
			if line == "" {
				continue
			}
			var raw any
			if err := json.Unmarshal([]byte(line), &raw); err != nil {
				return nil, fmt.Errorf("error in json.Unmarshal: %w", err)
			}
			jsonMap, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("line was not a JSON object: %w", ErrNotFlatMap)
			}
			flatMap, err := flatten(jsonMap)
			if err != nil {
				return nil, err
			}
			out = append(out, flatMap)
		}
		if err := ndJSONScanner.Err(); err != nil {
			return nil, fmt.Errorf("error reading rows: %w", err)
		}
	}
	for _, row := range tr.Rows {
		if row == nil {
			continue
		}
		flatMap, err := flatten(*row)
		if err != nil {
			return nil, err
		}
		out = append(out, flatMap)
	}
	return out, nil
}

// inferRelation builds a relation from the columns seen in rows and aligns the
// rows to it. Missing columns are NULL.
func inferRelation(name string, flatRows []map[string]any) (*table.Relation, []table.Row, error) {
	acc := parquet_accumulator.NewParquetAccumulator()
	for _, r := range flatRows {
		acc.WriteRow(r)
	}
	rel, err := acc.Relation(name, parquet_accumulator.DefaultPartitionColumn)
	if err != nil {
		return nil, nil, err
	}
	rows := make([]table.Row, len(flatRows))
	for i, r := range flatRows {
		vals := make([]any, len(rel.Columns))
		for j, col := range rel.Columns {
			vals[j] = r[col.Name]
		}
		rows[i] = table.Row{Num: int64(i), ColVals: vals}
	}
	return rel, rows, nil
}

// AssignHandler co-partitions rows sent in the request without touching the
// store and returns the partition of every row.
func (s *HTTPServer) AssignHandler(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*60)
	defer cancel()
	start := time.Now()

	var reqBody AssignReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	defer c.Request().Body.Close()

	relations := make(map[string]*table.Relation)
	rows := make(map[string][]table.Row)
	for _, tr := range reqBody.Data {
		flatRows, err := tr.flatRows()
		if err != nil {
			return c.String(http.StatusBadRequest, fmt.Sprintf("table %s: %s", tr.Table, err))
		}
		rel, tableRows, err := inferRelation(tr.Table, flatRows)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		relations[tr.Table] = rel
		rows[tr.Table] = tableRows
	}

	mapping, err := s.Deps.Remapper.Mapping(ctx, reqBody.Partitions)
	if err != nil {
		return c.PartitionError(err, "error computing partition mapping")
	}
	cp, err := reqBody.Build(mapping, relations)
	if err != nil {
		return c.PartitionError(err, "error building schema")
	}

	res := AssignResponse{
		Mapping:     mappingResponse(mapping),
		Assignments: make(map[string][]table.Assignment),
	}
	for _, rel := range cp.Tables() {
		out := make([]table.Assignment, 0, len(rows[rel.Name]))
		for _, row := range rows[rel.Name] {
			if err := ctx.Err(); err != nil {
				return c.InternalError(err, "assignment timed out")
			}
			part, err := cp.Assign(rel.Name, row)
			if err != nil {
				return c.PartitionError(utils.WithRelation(err, rel.Name), "error assigning row")
			}
			out = append(out, table.Assignment{RowNum: row.Num, Partition: part})
		}
		res.Assignments[rel.Name] = out
	}
	if err := cp.Verify(); err != nil {
		return c.InternalError(err, "co-location check failed")
	}
	res.Stats = cp.Stats()
	res.TimeMS = time.Since(start).Milliseconds()

	return c.JSON(http.StatusOK, res)
}
