package bloom_test

import (
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/devrev/pairdb/indexcore/internal/errors"
	"github.com/devrev/pairdb/indexcore/internal/metrics"
	"github.com/devrev/pairdb/indexcore/internal/model"
	"github.com/devrev/pairdb/indexcore/internal/storage/bloom"
)

func TestFilter_PutAndMightContain(t *testing.T) {
	f := bloom.CreateInMemory(1000)

	assert.False(t, f.MightContain(model.RecordID(42), model.Text("name")))
	assert.True(t, f.Put(model.RecordID(42), model.Text("name")))
	assert.True(t, f.MightContain(model.RecordID(42), model.Text("name")))

	// Independently constructed, value-equal components address the same key.
	id := model.RecordID(42)
	column := model.Text("na" + "me")
	assert.True(t, f.MightContain(id, column))
	assert.False(t, f.Put(id, column), "second put of the same key changes no bits")
	assert.Equal(t, uint64(1), f.ApproximateCount())
}

func TestFilter_NeighbourKeyAbsent(t *testing.T) {
	f := bloom.CreateInMemory(1000)
	f.Put(model.RecordID(42), model.Text("name"))

	// Only k of ~7300 bits are set, so a false positive here is vanishingly unlikely.
	assert.False(t, f.MightContain(model.RecordID(43), model.Text("name")))
}

func TestFilter_ComponentOrderMatters(t *testing.T) {
	f := bloom.CreateInMemory(1000)
	f.Put(model.Text("a"), model.Text("b"))

	assert.True(t, f.MightContain(model.Text("a"), model.Text("b")))
	assert.False(t, f.MightContain(model.Text("b"), model.Text("a")))
}

func TestFilter_Sizing(t *testing.T) {
	bits, hashes := bloom.OptimalSize(1000, bloom.DefaultFalsePositiveRate)

	// ~7.3 bits per element and 5 hashes at 3%.
	assert.InDelta(t, 7298, float64(bits), 5)
	assert.Equal(t, uint32(5), hashes)

	f := bloom.CreateInMemory(0)
	assert.Equal(t, 1, f.ExpectedInsertions())
	assert.GreaterOrEqual(t, f.NumBits(), uint64(64))
}

func TestFilter_NoFalseNegatives(t *testing.T) {
	const n = 5000
	f := bloom.CreateInMemory(n)
	for i := 0; i < n; i++ {
		f.Put(model.RecordID(i), model.Text("col"))
	}
	for i := 0; i < n; i++ {
		require.True(t, f.MightContain(model.RecordID(i), model.Text("col")), "element %d", i)
	}
}

func TestFilter_FalsePositiveRate(t *testing.T) {
	const n = 10000
	rng := rand.New(rand.NewSource(7))
	f := bloom.CreateInMemory(n)

	inserted := make(map[int64]struct{}, n)
	for len(inserted) < n {
		id := rng.Int63()
		inserted[id] = struct{}{}
		f.Put(model.RecordID(id), model.Text("name"))
	}

	falsePositives, probes := 0, 0
	for probes < n {
		id := rng.Int63()
		if _, ok := inserted[id]; ok {
			continue
		}
		probes++
		if f.MightContain(model.RecordID(id), model.Text("name")) {
			falsePositives++
		}
	}

	rate := float64(falsePositives) / float64(probes)
	assert.LessOrEqual(t, rate, 3*bloom.DefaultFalsePositiveRate)
	assert.InDelta(t, bloom.DefaultFalsePositiveRate, f.EstimatedFalsePositiveRate(), 0.02)
}

func TestFilter_SyncAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filters", "primary.bloom")
	f := bloom.Create(path, 1000)

	for i := 0; i < 500; i++ {
		f.Put(model.RecordID(i), model.Text("name"), model.String("v"))
	}
	require.True(t, f.Dirty())
	require.NoError(t, f.Sync())
	assert.False(t, f.Dirty())

	reopened, err := bloom.Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, reopened.Path())
	assert.Equal(t, f.NumBits(), reopened.NumBits())
	assert.Equal(t, f.NumHashes(), reopened.NumHashes())
	assert.Equal(t, f.ExpectedInsertions(), reopened.ExpectedInsertions())
	assert.Equal(t, f.ApproximateCount(), reopened.ApproximateCount())

	for i := 0; i < 500; i++ {
		require.True(t, reopened.MightContain(model.RecordID(i), model.Text("name"), model.String("v")))
	}
	for i := 10000; i < 12000; i++ {
		assert.Equal(t,
			f.MightContain(model.RecordID(i), model.Text("name"), model.String("v")),
			reopened.MightContain(model.RecordID(i), model.Text("name"), model.String("v")))
	}

	// The reopened filter keeps working and can be synced again.
	reopened.Put(model.RecordID(-1), model.Text("other"))
	require.NoError(t, reopened.Sync())

	again, err := bloom.Open(path)
	require.NoError(t, err)
	assert.True(t, again.MightContain(model.RecordID(-1), model.Text("other")))
	assert.True(t, again.MightContain(model.RecordID(0), model.Text("name"), model.String("v")))
}

func TestFilter_SyncWithoutFile(t *testing.T) {
	f := bloom.CreateInMemory(10)

	err := f.Sync()
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFilterNotSyncable, errors.GetCode(err))
}

func TestFilter_SyncFailureIsReported(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	// The parent "directory" is a regular file.
	f := bloom.Create(filepath.Join(blocker, "filter.bloom"), 10)
	f.Put(model.Text("k"))

	err := f.Sync()
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFilterIO, errors.GetCode(err))
	assert.True(t, f.Dirty())
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := bloom.Open(filepath.Join(dir, "missing.bloom"))
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeFilterIO, errors.GetCode(err))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("corrupted file", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.bloom")
		f := bloom.Create(path, 100)
		f.Put(model.Text("k"))
		require.NoError(t, f.Sync())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		data[len(data)/2] ^= 0xFF
		require.NoError(t, os.WriteFile(path, data, 0644))

		_, err = bloom.Open(path)
		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeCorruptedData, errors.GetCode(err))
	})

	t.Run("garbage", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.bloom")
		require.NoError(t, os.WriteFile(path, []byte{1}, 0644))

		_, err := bloom.Open(path)
		assert.Equal(t, errors.ErrCodeCorruptedData, errors.GetCode(err))
	})
}

func TestFilter_ConcurrentAccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.bloom")
	f := bloom.Create(path, 10000)

	var g errgroup.Group
	for w := 0; w < 4; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < 1000; i++ {
				id := model.RecordID(w*1000 + i)
				f.Put(id, model.Text("c"))
				if !f.MightContain(id, model.Text("c")) {
					return assert.AnError
				}
			}
			return nil
		})
	}
	for s := 0; s < 2; s++ {
		g.Go(func() error {
			for i := 0; i < 5; i++ {
				if err := f.Sync(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.NoError(t, f.Sync())

	reopened, err := bloom.Open(path)
	require.NoError(t, err)
	for i := 0; i < 4000; i++ {
		require.True(t, reopened.MightContain(model.RecordID(i), model.Text("c")))
	}
}

func TestFilter_MightContainAfterPutCompletes(t *testing.T) {
	f := bloom.CreateInMemory(1000)
	var wg sync.WaitGroup
	done := make(chan model.RecordID, 100)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 0; i < 100; i++ {
			f.Put(model.RecordID(i), model.Text("x"))
			done <- model.RecordID(i)
		}
	}()

	for id := range done {
		assert.True(t, f.MightContain(id, model.Text("x")))
	}
	wg.Wait()
}

func TestFilter_Metrics(t *testing.T) {
	m := metrics.NewMetrics("test-node", nil)
	f := bloom.CreateInMemory(100, bloom.WithMetrics(m))

	f.Put(model.Text("a"))
	f.Put(model.Text("a"))
	f.MightContain(model.Text("a"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.FilterPutsTotal.WithLabelValues("true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FilterPutsTotal.WithLabelValues("false")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FilterQueriesTotal.WithLabelValues("maybe")))
}
