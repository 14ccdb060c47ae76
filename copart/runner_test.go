package copart

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danthegoodman1/copartition/remap"
	"github.com/danthegoodman1/copartition/table"
	"github.com/danthegoodman1/copartition/utils"
	"github.com/stretchr/testify/require"
)

type sliceSource map[string][]table.Row

func (s sliceSource) ScanRows(ctx context.Context, rel *table.Relation, fn func(row table.Row) error) error {
	for _, row := range s[rel.Name] {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

type recordingApplier struct {
	mu       sync.Mutex
	batches  map[string][][]table.Assignment
	inFlight int32
	maxSeen  int32
	delay    time.Duration
	failOn   string
}

func (a *recordingApplier) ApplyAssignments(ctx context.Context, rel *table.Relation, batch []table.Assignment) error {
	n := atomic.AddInt32(&a.inFlight, 1)
	defer atomic.AddInt32(&a.inFlight, -1)
	a.mu.Lock()
	if n > a.maxSeen {
		a.maxSeen = n
	}
	a.mu.Unlock()
	time.Sleep(a.delay)
	if rel.Name == a.failOn {
		return utils.NewStoreError("apply assignments", "", errors.New("connection reset"))
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.batches == nil {
		a.batches = make(map[string][][]table.Assignment)
	}
	a.batches[rel.Name] = append(a.batches[rel.Name], batch)
	return nil
}

func genSchemaRows(nFacts int) sliceSource {
	src := sliceSource{}
	for i := 0; i < nFacts; i++ {
		src["lineorder"] = append(src["lineorder"], fact(int64(i), int64(i%13), int64(i%29)))
	}
	for i := 0; i < 13; i++ {
		src["customer"] = append(src["customer"], table.Row{Num: int64(i), ColVals: []any{int64(i), "c"}})
	}
	for i := 0; i < 40; i++ {
		src["part"] = append(src["part"], table.Row{Num: int64(i), ColVals: []any{int64(i)}})
	}
	return src
}

func TestRunnerBatches(t *testing.T) {
	cp := starSchema(t, remap.Identity(4))
	applier := &recordingApplier{delay: time.Millisecond}
	r := NewRunner(cp, genSchemaRows(25), applier)
	r.BatchSize = 10

	results, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "lineorder", results[0].Relation)
	require.Equal(t, int64(25), results[0].Rows)
	require.Equal(t, 3, results[0].Batches)

	batches := applier.batches["lineorder"]
	require.Len(t, batches, 3)
	require.Len(t, batches[0], 10)
	require.Len(t, batches[2], 5)
	// batches arrive in row order
	var next int64
	for _, b := range batches {
		for _, a := range b {
			require.Equal(t, next, a.RowNum)
			next++
		}
	}
	require.Equal(t, int32(1), applier.maxSeen)

	// every customer key is referenced, so its dimension rows follow the fact rows
	cust, err := cp.KeyMap("lineorder", "lo_custkey")
	require.NoError(t, err)
	for _, b := range applier.batches["customer"] {
		for _, a := range b {
			l := cust.Get(a.RowNum)
			if l.IsConcrete() {
				require.Equal(t, l.Partition, a.Partition)
			}
		}
	}

	// parts 29..39 are never referenced and keep their raw key
	var parts []table.Assignment
	for _, b := range applier.batches["part"] {
		parts = append(parts, b...)
	}
	require.Len(t, parts, 40)
	require.Equal(t, int64(39), parts[39].Partition)
}

func TestRunnerApplyFailure(t *testing.T) {
	cp := starSchema(t, remap.Identity(2))
	applier := &recordingApplier{failOn: "lineorder"}
	r := NewRunner(cp, genSchemaRows(30), applier)
	r.BatchSize = 4

	_, err := r.Run(context.Background())
	require.Error(t, err)
	var storeErr *utils.StoreError
	require.True(t, errors.As(err, &storeErr))
	require.Equal(t, "lineorder", storeErr.Relation)
	require.Empty(t, applier.batches["customer"])
}

func TestRunnerCancel(t *testing.T) {
	cp := starSchema(t, remap.Identity(2))
	ctx, cancel := context.WithCancel(context.Background())
	src := sliceSource{}
	for i := 0; i < 100; i++ {
		src["lineorder"] = append(src["lineorder"], fact(int64(i), int64(i), int64(i)))
	}
	applier := ApplierFunc(func(ctx context.Context, rel *table.Relation, batch []table.Assignment) error {
		return nil
	})
	r := NewRunner(cp, cancelAfter{src: src, n: 10, cancel: cancel}, applier)

	res, err := r.RunRelation(ctx, cp.Tables()[0])
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int64(10), res.Rows)

	var sum int64
	for _, c := range cp.Counts() {
		sum += c
	}
	require.Equal(t, int64(10), sum)
}

// cancelAfter cancels the run once n rows were handed out
type cancelAfter struct {
	src    sliceSource
	n      int
	cancel context.CancelFunc
}

func (c cancelAfter) ScanRows(ctx context.Context, rel *table.Relation, fn func(row table.Row) error) error {
	for i, row := range c.src[rel.Name] {
		if i == c.n {
			c.cancel()
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

func TestRunAll(t *testing.T) {
	var runners []*Runner
	appliers := []*recordingApplier{{}, {}}
	for i := range appliers {
		runners = append(runners, NewRunner(starSchema(t, remap.Identity(3)), genSchemaRows(50+i*10), appliers[i]))
	}
	results, err := RunAll(context.Background(), runners...)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, int64(50), results[0][0].Rows)
	require.Equal(t, int64(60), results[1][0].Rows)
}
