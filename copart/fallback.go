package copart

import (
	"github.com/danthegoodman1/copartition/table"
)

type (
	// DimFallback decides the external partition id of a dimension row whose
	// primary key value has no concrete co-location.
	DimFallback interface {
		Partition(cp *CoPartitioner, key any) (int64, error)
	}

	// RawKeyFallback uses the primary key value itself as the partition id. The
	// value is handed to the store's hash partitioning unchanged and can lie
	// outside [0, P).
	RawKeyFallback struct{}

	// RandomFallback draws a uniformly random partition, like unconstrained
	// fact rows in the batch path.
	RandomFallback struct{}
)

func (RawKeyFallback) Partition(_ *CoPartitioner, key any) (int64, error) {
	return table.AsInt64(key)
}

func (RandomFallback) Partition(cp *CoPartitioner, _ any) (int64, error) {
	return cp.mapping.Translate(cp.rnd.Int63n(int64(cp.partitions))), nil
}

// ParseDimFallback maps "raw" and "random" to a policy.
func ParseDimFallback(name string) (DimFallback, bool) {
	switch name {
	case "", "raw":
		return RawKeyFallback{}, true
	case "random":
		return RandomFallback{}, true
	default:
		return nil, false
	}
}
