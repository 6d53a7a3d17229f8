package bloom

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/tevino/abool"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/indexcore/internal/errors"
	"github.com/devrev/pairdb/indexcore/internal/util"
)

const snapshotVersion = 1

// snapshot is the on-disk form of a Filter: msgpack, followed by a CRC32-C
// trailer. Only files written by the same snapshotVersion are readable.
type snapshot struct {
	Version            uint8   `msgpack:"v"`
	ExpectedInsertions int     `msgpack:"n"`
	FalsePositiveRate  float64 `msgpack:"p"`
	NumBits            uint64  `msgpack:"m"`
	NumHashes          uint32  `msgpack:"k"`
	Count              uint64  `msgpack:"c"`
	Bits               []byte  `msgpack:"b"`
}

// Sync writes the whole filter to its file, replacing prior contents. The bit
// array is captured under the read lock so no Put can tear it; the file write
// itself happens after the lock is released.
func (f *Filter) Sync() error {
	if f.path == "" {
		return errors.FilterNotSyncable()
	}

	f.syncMu.Lock()
	defer f.syncMu.Unlock()

	start := time.Now()
	data, err := f.capture()
	if err == nil {
		if werr := writeFileAtomic(f.path, util.Seal(data)); werr != nil {
			err = errors.FilterIO(f.path, werr)
		}
	}

	if f.metrics != nil {
		f.metrics.FilterSyncsTotal.Inc()
		f.metrics.FilterSyncDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		f.dirty.Set()
		if f.metrics != nil {
			f.metrics.FilterSyncErrorTotal.Inc()
		}
		f.logger.Error("Failed to sync bloom filter",
			zap.String("path", f.path),
			zap.Error(err))
		return err
	}

	f.logger.Debug("Synced bloom filter",
		zap.String("path", f.path),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// capture encodes the filter state and clears the dirty flag. Puts are
// excluded for the duration, so the flag cannot miss a concurrent change.
func (f *Filter) capture() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	bits, err := f.bits.MarshalBinary()
	if err != nil {
		return nil, errors.InternalError("failed to marshal bit array", err)
	}
	data, err := msgpack.Marshal(&snapshot{
		Version:            snapshotVersion,
		ExpectedInsertions: f.expectedInsertions,
		FalsePositiveRate:  f.falsePositiveRate,
		NumBits:            f.numBits,
		NumHashes:          f.numHashes,
		Count:              f.count,
		Bits:               bits,
	})
	if err != nil {
		return nil, errors.InternalError("failed to encode bloom filter snapshot", err)
	}
	f.dirty.UnSet()
	return data, nil
}

// Open loads a filter previously written by Sync. The returned filter is
// associated with path and supports Put, MightContain and Sync.
func Open(path string, opts ...Option) (*Filter, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.FilterIO(path, err)
	}

	data, expected, actual, ok := util.Unseal(sealed)
	if !ok {
		return nil, errors.CorruptedData(
			fmt.Sprintf("bloom filter %s failed checksum validation: expected %d, got %d", path, expected, actual), nil).
			WithDetail("path", path)
	}

	var s snapshot
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, errors.CorruptedData(fmt.Sprintf("bloom filter %s is not decodable", path), err)
	}
	if s.Version != snapshotVersion {
		return nil, errors.CorruptedData(fmt.Sprintf("bloom filter %s has unsupported version %d", path, s.Version), nil)
	}
	if s.NumBits == 0 || s.NumHashes == 0 || s.ExpectedInsertions <= 0 {
		return nil, errors.CorruptedData(fmt.Sprintf("bloom filter %s has invalid dimensions", path), nil)
	}

	bits := &bitset.BitSet{}
	if err := bits.UnmarshalBinary(s.Bits); err != nil {
		return nil, errors.CorruptedData(fmt.Sprintf("bloom filter %s has an unreadable bit array", path), err)
	}
	if uint64(bits.Len()) < s.NumBits {
		return nil, errors.CorruptedData(fmt.Sprintf("bloom filter %s bit array is truncated", path), nil)
	}

	f := &Filter{
		bits:               bits,
		numBits:            s.NumBits,
		numHashes:          s.NumHashes,
		expectedInsertions: s.ExpectedInsertions,
		falsePositiveRate:  s.FalsePositiveRate,
		count:              s.Count,
		path:               path,
	}
	for _, opt := range opts {
		opt(f)
	}
	// Persisted dimensions win over any option.
	f.falsePositiveRate = s.FalsePositiveRate
	f.dirty = abool.New()
	if f.logger == nil {
		f.logger = zap.NewNop()
	}

	f.logger.Info("Opened bloom filter",
		zap.String("path", path),
		zap.Int("expected_insertions", f.expectedInsertions),
		zap.Uint64("bits", f.numBits),
		zap.Uint32("hashes", f.numHashes))
	return f, nil
}

// writeFileAtomic writes data to a sibling temp file, fsyncs it and renames it
// over path so readers never observe a partial filter.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create filter directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write filter: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to fsync filter: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close filter: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace filter: %w", err)
	}
	return nil
}
