package service

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/tevino/abool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devrev/pairdb/indexcore/internal/codec"
	"github.com/devrev/pairdb/indexcore/internal/concurrent"
	"github.com/devrev/pairdb/indexcore/internal/config"
	"github.com/devrev/pairdb/indexcore/internal/errors"
	"github.com/devrev/pairdb/indexcore/internal/metrics"
	"github.com/devrev/pairdb/indexcore/internal/model"
	"github.com/devrev/pairdb/indexcore/internal/storage/bloom"
	"github.com/devrev/pairdb/indexcore/internal/storage/revlog"
	"github.com/devrev/pairdb/indexcore/internal/util/clock"
	"github.com/devrev/pairdb/indexcore/internal/validation"
)

// Latest reads the newest state of every association.
const Latest int64 = math.MaxInt64

// writeScope prefixes write-level lock keys. Triple locks start with a Kind
// byte, which a Text length prefix never matches.
const writeScope = model.Text("write")

// IndexService applies writes to the primary, secondary and search indexes
// and answers membership queries, consulting the existence filters first.
type IndexService struct {
	logs      map[model.Kind]*revlog.Log
	filters   map[model.Kind]*bloom.Filter
	locks     *concurrent.Registry
	clock     *clock.Clock
	validator *validation.Validator
	logger    *zap.Logger
	metrics   *metrics.Metrics
	closed    *abool.AtomicBool
}

// NewIndexService creates the indexes described by cfg. Persistent filters
// are reopened from cfg.Storage.FilterDir when their files exist. A nil clk
// uses the wall clock.
func NewIndexService(cfg *config.Config, clk *clock.Clock, logger *zap.Logger, m *metrics.Metrics) (*IndexService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}

	locks := concurrent.NewRegistry(&concurrent.Config{
		Shards:         cfg.Locks.Shards,
		AcquireTimeout: cfg.Locks.AcquireTimeout,
		Logger:         logger,
		Metrics:        m,
	})

	s := &IndexService{
		logs:      make(map[model.Kind]*revlog.Log, len(model.Kinds)),
		filters:   make(map[model.Kind]*bloom.Filter, len(model.Kinds)),
		locks:     locks,
		clock:     clk,
		validator: validation.NewValidatorWithLimits(cfg.Validation.MaxKeySize, cfg.Validation.MaxValueSize),
		logger:    logger,
		metrics:   m,
		closed:    abool.New(),
	}

	for _, kind := range model.Kinds {
		s.logs[kind] = revlog.New(kind, locks, logger, m)

		filter, err := openFilter(cfg, kind, logger, m)
		if err != nil {
			return nil, err
		}
		s.filters[kind] = filter
	}

	logger.Info("Index service started",
		zap.String("node_id", cfg.Node.ID),
		zap.Bool("persistent_filters", cfg.Filter.IsPersistent()),
		zap.String("filter_dir", cfg.Storage.FilterDir))

	return s, nil
}

func openFilter(cfg *config.Config, kind model.Kind, logger *zap.Logger, m *metrics.Metrics) (*bloom.Filter, error) {
	opts := []bloom.Option{
		bloom.WithLogger(logger),
		bloom.WithMetrics(m),
		bloom.WithFalsePositiveRate(cfg.Filter.FalsePositiveRate),
	}
	if !cfg.Filter.IsPersistent() {
		return bloom.CreateInMemory(cfg.Filter.ExpectedInsertions, opts...), nil
	}

	path := FilterPath(cfg.Storage.FilterDir, kind)
	if _, err := os.Stat(path); err == nil {
		return bloom.Open(path, opts...)
	} else if !os.IsNotExist(err) {
		return nil, errors.FilterIO(path, err)
	}
	return bloom.Create(path, cfg.Filter.ExpectedInsertions, opts...), nil
}

// FilterPath is the file holding the filter of one index kind.
func FilterPath(dir string, kind model.Kind) string {
	return filepath.Join(dir, kind.String()+".bloom")
}

// Apply validates w, stamps it with a fresh timestamp and records it in all
// three indexes, or in none of them. It returns the commit timestamp.
//
// Applies of the same (record, key, value) are serialized. Every revision is
// checked and its triple locked before any is appended, so a rejection or a
// lock timeout leaves the indexes untouched.
func (s *IndexService) Apply(ctx context.Context, w model.Write) (int64, error) {
	if s.closed.IsSet() {
		return 0, errors.Closed("index service")
	}
	startTime := time.Now()
	ctx = concurrent.WithOwner(ctx)

	classified, err := s.validator.Classify(w)
	if err != nil {
		if s.metrics != nil {
			s.metrics.WritesNotStorableTotal.Inc()
		}
		s.logger.Debug("Write is not storable",
			zap.Stringer("write", w),
			zap.Error(err))
		return 0, err
	}

	release, err := s.locks.Lock(ctx, writeScope, classified.Record, classified.Key, classified.Value)
	if err != nil {
		s.logger.Warn("Failed to lock write",
			zap.Stringer("write", classified),
			zap.Error(err))
		return 0, err
	}
	defer release()

	ts := s.clock.Next()
	pending, err := s.prepare(ctx, map[model.Kind][]model.Revision{
		model.KindPrimary:   {classified.ToPrimary(ts)},
		model.KindSecondary: {classified.ToSecondary(ts)},
		model.KindSearch:    classified.ToSearch(ts),
	})
	if err != nil {
		s.logger.Warn("Failed to apply write",
			zap.Stringer("write", classified),
			zap.Int64("timestamp", ts),
			zap.Error(err))
		return 0, err
	}

	// Filter first: a concurrent Verify must never miss a committed ADD.
	for _, p := range pending {
		if rev := p.Revision(); rev.Action() == model.ActionAdd {
			s.filters[rev.Kind()].Put(filterKey(rev)...)
		}
	}
	for _, p := range pending {
		p.Commit()
	}

	if s.metrics != nil {
		s.metrics.WritesAppliedTotal.WithLabelValues(classified.Type.String()).Inc()
		s.metrics.WriteApplyDuration.Observe(time.Since(startTime).Seconds())
	}
	s.logger.Debug("Write applied",
		zap.Stringer("write", classified),
		zap.Int64("timestamp", ts),
		zap.Duration("latency", time.Since(startTime)))

	return ts, nil
}

// prepare validates and locks every revision, one goroutine per index. On
// failure everything already prepared is aborted.
func (s *IndexService) prepare(ctx context.Context, revisions map[model.Kind][]model.Revision) ([]*revlog.Pending, error) {
	prepared := make([][]*revlog.Pending, len(model.Kinds))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range model.Kinds {
		i := i
		log := s.logs[kind]
		revs := revisions[kind]
		g.Go(func() error {
			for _, rev := range revs {
				p, err := log.Prepare(gctx, rev)
				if err != nil {
					return err
				}
				prepared[i] = append(prepared[i], p)
			}
			return nil
		})
	}
	err := g.Wait()

	var all []*revlog.Pending
	for _, ps := range prepared {
		all = append(all, ps...)
	}
	if err != nil {
		for _, p := range all {
			p.Abort()
		}
		return nil, err
	}
	return all, nil
}

// Verify reports whether value is currently stored for key in record.
func (s *IndexService) Verify(ctx context.Context, key string, value model.Value, record model.RecordID) (bool, error) {
	return s.VerifyAt(ctx, key, value, record, Latest)
}

// VerifyAt reports whether value was stored for key in record as of ts. A
// negative filter answer is final and skips the log.
func (s *IndexService) VerifyAt(ctx context.Context, key string, value model.Value, record model.RecordID, ts int64) (bool, error) {
	if s.closed.IsSet() {
		return false, errors.Closed("index service")
	}
	column := model.Text(key)
	if !s.filters[model.KindPrimary].MightContain(record, column, value) {
		return false, nil
	}
	return s.logs[model.KindPrimary].StateAt(concurrent.WithOwner(ctx), record, column, value, ts)
}

// Select returns the values stored for key in record as of ts.
func (s *IndexService) Select(ctx context.Context, key string, record model.RecordID, ts int64) ([]model.Value, error) {
	if s.closed.IsSet() {
		return nil, errors.Closed("index service")
	}
	found, err := s.logs[model.KindPrimary].Select(concurrent.WithOwner(ctx), record, model.Text(key), ts)
	if err != nil {
		return nil, err
	}
	values := make([]model.Value, 0, len(found))
	for _, v := range found {
		values = append(values, v.(model.Value))
	}
	return values, nil
}

// Find returns the records that store value for key as of ts, in ascending
// order.
func (s *IndexService) Find(ctx context.Context, key string, value model.Value, ts int64) ([]model.RecordID, error) {
	if s.closed.IsSet() {
		return nil, errors.Closed("index service")
	}
	column := model.Text(key)
	if !s.filters[model.KindSecondary].MightContain(column, value) {
		return nil, nil
	}
	found, err := s.logs[model.KindSecondary].Select(concurrent.WithOwner(ctx), column, value, ts)
	if err != nil {
		return nil, err
	}
	records := make([]model.RecordID, 0, len(found))
	for _, r := range found {
		records = append(records, r.(model.RecordID))
	}
	sortRecords(records)
	return records, nil
}

// Search returns the records whose string value for key contains every term
// of query as of ts, in ascending order.
func (s *IndexService) Search(ctx context.Context, key string, query string, ts int64) ([]model.RecordID, error) {
	if s.closed.IsSet() {
		return nil, errors.Closed("index service")
	}
	terms := model.Terms(model.String(query))
	if len(terms) == 0 {
		return nil, nil
	}
	ctx = concurrent.WithOwner(ctx)
	column := model.Text(key)

	var matches map[model.RecordID]struct{}
	for _, term := range terms {
		if !s.filters[model.KindSearch].MightContain(column, term) {
			return nil, nil
		}
		positions, err := s.logs[model.KindSearch].Select(ctx, column, term, ts)
		if err != nil {
			return nil, err
		}

		hits := make(map[model.RecordID]struct{}, len(positions))
		for _, p := range positions {
			record := p.(model.Position).Record
			if matches == nil {
				hits[record] = struct{}{}
			} else if _, ok := matches[record]; ok {
				hits[record] = struct{}{}
			}
		}
		matches = hits
		if len(matches) == 0 {
			return nil, nil
		}
	}

	records := make([]model.RecordID, 0, len(matches))
	for r := range matches {
		records = append(records, r)
	}
	sortRecords(records)
	return records, nil
}

// History returns the revisions recorded for value under key in record.
func (s *IndexService) History(ctx context.Context, key string, value model.Value, record model.RecordID) ([]model.Revision, error) {
	return s.logs[model.KindPrimary].History(concurrent.WithOwner(ctx), record, model.Text(key), value)
}

// Stats summarizes the indexes.
type Stats struct {
	Revisions map[model.Kind]int
	Filters   map[model.Kind]FilterStats
	LiveLocks int
}

// FilterStats describes one existence filter.
type FilterStats struct {
	Path                       string
	ApproximateCount           uint64
	EstimatedFalsePositiveRate float64
	Dirty                      bool
}

// Stats returns a snapshot of index sizes and filter state.
func (s *IndexService) Stats() Stats {
	stats := Stats{
		Revisions: make(map[model.Kind]int, len(s.logs)),
		Filters:   make(map[model.Kind]FilterStats, len(s.filters)),
		LiveLocks: s.locks.Len(),
	}
	for kind, log := range s.logs {
		stats.Revisions[kind] = log.Len()
	}
	for kind, f := range s.filters {
		stats.Filters[kind] = FilterStats{
			Path:                       f.Path(),
			ApproximateCount:           f.ApproximateCount(),
			EstimatedFalsePositiveRate: f.EstimatedFalsePositiveRate(),
			Dirty:                      f.Dirty(),
		}
	}
	return stats
}

// Sync persists every file-backed filter with unsynced changes. Memory-only
// filters are skipped.
func (s *IndexService) Sync() error {
	var result *multierror.Error
	for _, kind := range model.Kinds {
		f := s.filters[kind]
		if f.Path() == "" || !f.Dirty() {
			continue
		}
		if err := f.Sync(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s filter: %w", kind, err))
		}
	}
	return result.ErrorOrNil()
}

// Close syncs the filters and rejects further calls. Closing twice is a no-op.
func (s *IndexService) Close() error {
	if !s.closed.SetToIf(false, true) {
		return nil
	}
	err := s.Sync()
	if err != nil {
		s.logger.Error("Failed to sync filters on close", zap.Error(err))
	} else {
		s.logger.Info("Index service closed")
	}
	return err
}

// filterKey is what each kind's filter records for an ADD: the full triple
// for primary revisions and the locator for the others, matching the
// lookups Verify, Find and Search perform.
func filterKey(rev model.Revision) []codec.Byteable {
	if rev.Kind() == model.KindPrimary {
		return []codec.Byteable{rev.Key(), rev.Secondary(), rev.Value()}
	}
	return []codec.Byteable{rev.Key(), rev.Secondary()}
}

func sortRecords(records []model.RecordID) {
	sort.Slice(records, func(i, j int) bool { return records[i] < records[j] })
}
