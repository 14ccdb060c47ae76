package remap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danthegoodman1/copartition/utils"
	"github.com/rs/zerolog"
)

var (
	ErrProbeLimit       = errors.New("probe limit reached before every bucket was covered")
	ErrBucketOutOfRange = errors.New("oracle returned a bucket outside [0, partitions)")
	ErrBadPartitions    = errors.New("partition count must be positive")
)

// DefaultMaxProbe keeps probe values below the magnitude used for exception partitions.
const DefaultMaxProbe int64 = 32768

type (
	// HashOracle is the store's partitioning hash function.
	HashOracle interface {
		// Bucket returns the bucket in [0, partitions) the store places probe in.
		Bucket(ctx context.Context, probe int64, partitions int) (int, error)
		// Name identifies the hash function, mappings are only valid for it.
		Name() string
	}

	// Cache persists mappings keyed by oracle name and partition count.
	Cache interface {
		Load(ctx context.Context, oracle string, partitions int) (m Mapping, found bool, err error)
		// Store keys m by m.Oracle and m.Partitions.
		Store(ctx context.Context, m Mapping) error
	}

	// Mapping translates internal partition ids to identifiers whose hash bucket is
	// the internal id: Oracle.Bucket(Values[i]) == i for every i.
	Mapping struct {
		Partitions int
		Values     []int64
		// Oracle is the name of the oracle the mapping was computed against
		Oracle string
	}

	Remapper struct {
		Oracle   HashOracle
		Cache    Cache
		MaxProbe int64
	}
)

func NewRemapper(oracle HashOracle, cache Cache) *Remapper {
	return &Remapper{
		Oracle:   oracle,
		Cache:    cache,
		MaxProbe: DefaultMaxProbe,
	}
}

// Identity maps every internal id to itself, for stores that partition on the raw value.
func Identity(partitions int) Mapping {
	m := Mapping{Partitions: partitions, Values: make([]int64, partitions)}
	for i := range m.Values {
		m.Values[i] = int64(i)
	}
	return m
}

// Translate returns the external identifier for an internal partition id. Ids outside
// [0, Partitions), such as exception partitions, pass through unchanged.
func (m Mapping) Translate(partition int64) int64 {
	if partition < 0 || partition >= int64(len(m.Values)) {
		return partition
	}
	return m.Values[partition]
}

// Internal is the inverse of Translate.
func (m Mapping) Internal(external int64) (int64, bool) {
	for i, v := range m.Values {
		if v == external {
			return int64(i), true
		}
	}
	return -1, false
}

// Validate checks the mapping against the oracle: every value must hash to its own
// index, which makes the mapping a bijection onto the buckets.
func (m Mapping) Validate(ctx context.Context, oracle HashOracle) error {
	if len(m.Values) != m.Partitions {
		return fmt.Errorf("mapping has %d values for %d partitions", len(m.Values), m.Partitions)
	}
	for i, v := range m.Values {
		b, err := oracle.Bucket(ctx, v, m.Partitions)
		if err != nil {
			return fmt.Errorf("error in oracle.Bucket: %w", err)
		}
		if b != i {
			return fmt.Errorf("value %d for partition %d hashes to bucket %d", v, i, b)
		}
	}
	return nil
}

// Mapping loads the mapping for partitions from the cache, computing and storing it
// on a miss.
func (r *Remapper) Mapping(ctx context.Context, partitions int) (Mapping, error) {
	logger := zerolog.Ctx(ctx)
	if r.Cache != nil {
		m, found, err := r.Cache.Load(ctx, r.Oracle.Name(), partitions)
		if err != nil {
			return Mapping{}, utils.NewStoreError("load partition identifier mapping", "", err)
		}
		if found {
			logger.Debug().Int("partitions", partitions).Msg("using cached partition identifier mapping")
			return m, nil
		}
	}

	maxProbe := r.MaxProbe
	if maxProbe == 0 {
		maxProbe = DefaultMaxProbe
	}
	s := time.Now()
	m, err := Compute(ctx, r.Oracle, partitions, maxProbe)
	if err != nil {
		return Mapping{}, err
	}
	logger.Debug().Int("partitions", partitions).Interface("values", m.Values).Str("durationHuman", time.Since(s).String()).Msg("computed partition identifier mapping")

	if r.Cache != nil {
		if err := r.Cache.Store(ctx, m); err != nil {
			return Mapping{}, utils.NewStoreError("store partition identifier mapping", "", err)
		}
	}
	return m, nil
}

// Compute probes the oracle with partitions+1, partitions+2, ... and keeps the first
// probe landing in each bucket until all buckets are covered.
func Compute(ctx context.Context, oracle HashOracle, partitions int, maxProbe int64) (Mapping, error) {
	if partitions <= 0 {
		return Mapping{}, utils.NewConfigError("compute partition identifier mapping", "", ErrBadPartitions)
	}
	m := Mapping{Partitions: partitions, Values: make([]int64, partitions), Oracle: oracle.Name()}
	filled := make([]bool, partitions)
	remaining := partitions

	for probe := int64(partitions) + 1; remaining > 0; probe++ {
		if probe >= maxProbe {
			return Mapping{}, utils.NewConfigError("compute partition identifier mapping", "", fmt.Errorf("%d buckets uncovered below %d: %w", remaining, maxProbe, ErrProbeLimit))
		}
		if err := ctx.Err(); err != nil {
			return Mapping{}, err
		}
		bucket, err := oracle.Bucket(ctx, probe, partitions)
		if err != nil {
			return Mapping{}, utils.NewStoreError("probe hash oracle", "", err)
		}
		if bucket < 0 || bucket >= partitions {
			return Mapping{}, utils.NewStoreError("probe hash oracle", "", fmt.Errorf("bucket %d for probe %d: %w", bucket, probe, ErrBucketOutOfRange))
		}
		if filled[bucket] {
			continue
		}
		filled[bucket] = true
		m.Values[bucket] = probe
		remaining--
	}
	return m, nil
}
