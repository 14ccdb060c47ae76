package http_server

import (
	"net/http"
	"strconv"

	"github.com/danthegoodman1/copartition/remap"
)

type MappingResponse struct {
	Partitions int
	// Values[i] is the identifier stored for internal partition i
	Values []int64
}

func (s *HTTPServer) GetMapping(c *CustomContext) error {
	p, err := strconv.Atoi(c.Param("partitions"))
	if err != nil || p <= 0 {
		return c.String(http.StatusBadRequest, "partitions must be a positive integer")
	}
	m, err := s.Deps.Remapper.Mapping(c.Request().Context(), p)
	if err != nil {
		return c.PartitionError(err, "error computing partition mapping")
	}
	return c.JSON(http.StatusOK, mappingResponse(m))
}

func mappingResponse(m remap.Mapping) MappingResponse {
	return MappingResponse{Partitions: m.Partitions, Values: m.Values}
}
