package remap

import (
	"context"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// XXHashOracle buckets probes by the xxhash of their little endian encoding,
// for stores that hash partition keys with xxhash.
type XXHashOracle struct{}

func (XXHashOracle) Name() string { return "xxhash" }

func (XXHashOracle) Bucket(_ context.Context, probe int64, partitions int) (int, error) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(probe))
	return int(xxhash.Sum64(buf[:]) % uint64(partitions)), nil
}

// ModuloOracle buckets probes by plain modulo, the behaviour of stores that
// partition on the raw integer.
type ModuloOracle struct{}

func (ModuloOracle) Name() string { return "modulo" }

func (ModuloOracle) Bucket(_ context.Context, probe int64, partitions int) (int, error) {
	b := probe % int64(partitions)
	if b < 0 {
		b += int64(partitions)
	}
	return int(b), nil
}
