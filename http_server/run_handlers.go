package http_server

import (
	"net/http"
	"strings"

	"github.com/danthegoodman1/copartition/utils"
)

func (s *HTTPServer) GetRun(c *CustomContext) error {
	if !s.requireStore(c) {
		return nil
	}
	run, err := s.Deps.Store.GetRun(c.Request().Context(), c.Param("runID"))
	if err != nil {
		return c.InternalError(err, "error getting run")
	}
	if run == nil {
		return c.String(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, run)
}

// GetStats reports the balance and exception rates of a stored partitioning.
// Key columns come from the comma separated "keys" query param.
func (s *HTTPServer) GetStats(c *CustomContext) error {
	if !s.requireStore(c) {
		return nil
	}
	ctx := c.Request().Context()
	rel, err := s.Deps.Store.LoadRelation(ctx, c.Param("table"))
	if err != nil {
		return c.PartitionError(err, "error loading relation")
	}
	var keys []string
	for _, k := range strings.Split(c.QueryParam("keys"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			if !utils.ContainsString(rel.ColumnNames(), k) {
				return c.String(http.StatusBadRequest, "unknown column "+k)
			}
			keys = append(keys, k)
		}
	}
	st, err := s.Deps.Store.PartitionStats(ctx, rel, keys)
	if err != nil {
		return c.PartitionError(err, "error computing partition stats")
	}
	return c.JSON(http.StatusOK, st)
}
