// Package revlog holds the in-memory revision history of one index kind.
//
// A Log accepts revisions of a single kind, keeps them in SortKey order and
// tracks the ADD/REMOVE history of every (key, secondary, value) triple so
// that presence can be answered at any timestamp.
package revlog

import (
	"bytes"
	"context"

	"github.com/zhangyunhao116/skipmap"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/indexcore/internal/codec"
	"github.com/devrev/pairdb/indexcore/internal/concurrent"
	"github.com/devrev/pairdb/indexcore/internal/errors"
	"github.com/devrev/pairdb/indexcore/internal/metrics"
	"github.com/devrev/pairdb/indexcore/internal/model"
)

type orderedRevisions = skipmap.FuncMap[[]byte, model.Revision]

// tripleHistory is the alternating history of one triple, oldest first. It is
// only touched while the registry lock for the triple is held.
type tripleHistory struct {
	value     codec.Byteable
	revisions []model.Revision
}

// locatorIndex groups the triples that share (key, secondary).
type locatorIndex = skipmap.FuncMap[string, *tripleHistory]

// Log is the revision history of one index kind.
type Log struct {
	kind      model.Kind
	revisions *orderedRevisions
	locators  *skipmap.FuncMap[string, *locatorIndex]
	locks     *concurrent.Registry
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// New creates an empty log for kind. Appends and reads serialize per triple
// through locks.
func New(kind model.Kind, locks *concurrent.Registry, logger *zap.Logger, m *metrics.Metrics) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		kind: kind,
		revisions: skipmap.NewFunc[[]byte, model.Revision](func(a, b []byte) bool {
			return bytes.Compare(a, b) < 0
		}),
		locators: skipmap.NewFunc[string, *locatorIndex](func(a, b string) bool {
			return a < b
		}),
		locks:   locks,
		logger:  logger.With(zap.Stringer("kind", kind)),
		metrics: m,
	}
}

// Kind returns the index kind the log accepts.
func (l *Log) Kind() model.Kind {
	return l.kind
}

// Append records rev after checking it continues its triple's history: the
// first revision must ADD, later ones must alternate and carry a strictly
// greater timestamp. Appending a revision of another kind panics.
func (l *Log) Append(ctx context.Context, rev model.Revision) error {
	p, err := l.Prepare(ctx, rev)
	if err != nil {
		return err
	}
	p.Commit()
	return nil
}

// Pending is a validated revision whose triple stays write locked until it is
// committed or aborted. Exactly one of Commit or Abort must be called.
type Pending struct {
	log      *Log
	rev      model.Revision
	locator  *locatorIndex
	valueKey string
	history  *tripleHistory
	release  func()
}

// Prepare locks rev's triple and checks that rev may be appended, without
// changing the log. Callers that must append several revisions all or nothing
// prepare each of them before committing any.
func (l *Log) Prepare(ctx context.Context, rev model.Revision) (*Pending, error) {
	if rev.Kind() != l.kind {
		panic("revlog: " + rev.Kind().String() + " revision appended to " + l.kind.String() + " log")
	}

	release, err := l.locks.Lock(ctx, l.kind, rev.Key(), rev.Secondary(), rev.Value())
	if err != nil {
		return nil, err
	}

	locator, valueKey, history := l.history(rev)
	if err := check(rev, history.revisions); err != nil {
		release()
		l.reject(rev, err)
		return nil, err
	}
	return &Pending{
		log:      l,
		rev:      rev,
		locator:  locator,
		valueKey: valueKey,
		history:  history,
		release:  release,
	}, nil
}

// Revision returns the revision awaiting commit.
func (p *Pending) Revision() model.Revision {
	return p.rev
}

// Commit appends the prepared revision and unlocks its triple.
func (p *Pending) Commit() {
	defer p.release()

	l := p.log
	p.history.revisions = append(p.history.revisions, p.rev)
	if len(p.history.revisions) == 1 {
		p.locator.Store(p.valueKey, p.history)
	}
	l.revisions.Store(p.rev.SortKey(), p.rev)

	if l.metrics != nil {
		l.metrics.RevisionsAppendedTotal.WithLabelValues(l.kind.String()).Inc()
	}
}

// Abort unlocks the triple without appending.
func (p *Pending) Abort() {
	p.release()
}

// StateAt reports whether value is associated with (key, secondary) as of ts.
func (l *Log) StateAt(ctx context.Context, key, secondary, value codec.Byteable, ts int64) (bool, error) {
	release, err := l.locks.RLock(ctx, l.kind, key, secondary, value)
	if err != nil {
		return false, err
	}
	defer release()

	locator, ok := l.locators.Load(codec.NewComposite(key, secondary).Key())
	if !ok {
		return false, nil
	}
	history, ok := locator.Load(codec.NewComposite(value).Key())
	if !ok {
		return false, nil
	}
	return model.Replay(history.revisions, ts), nil
}

// Select returns the values associated with (key, secondary) as of ts, in
// encoded byte order.
func (l *Log) Select(ctx context.Context, key, secondary codec.Byteable, ts int64) ([]codec.Byteable, error) {
	locator, ok := l.locators.Load(codec.NewComposite(key, secondary).Key())
	if !ok {
		return nil, nil
	}

	var (
		values []codec.Byteable
		err    error
	)
	locator.Range(func(_ string, history *tripleHistory) bool {
		var release func()
		release, err = l.locks.RLock(ctx, l.kind, key, secondary, history.value)
		if err != nil {
			return false
		}
		if model.Replay(history.revisions, ts) {
			values = append(values, history.value)
		}
		release()
		return true
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// History returns a copy of the revisions of one triple, oldest first.
func (l *Log) History(ctx context.Context, key, secondary, value codec.Byteable) ([]model.Revision, error) {
	release, err := l.locks.RLock(ctx, l.kind, key, secondary, value)
	if err != nil {
		return nil, err
	}
	defer release()

	locator, ok := l.locators.Load(codec.NewComposite(key, secondary).Key())
	if !ok {
		return nil, nil
	}
	history, ok := locator.Load(codec.NewComposite(value).Key())
	if !ok {
		return nil, nil
	}
	out := make([]model.Revision, len(history.revisions))
	copy(out, history.revisions)
	return out, nil
}

// Revisions returns every revision in SortKey order.
func (l *Log) Revisions() []model.Revision {
	out := make([]model.Revision, 0, l.revisions.Len())
	l.revisions.Range(func(_ []byte, rev model.Revision) bool {
		out = append(out, rev)
		return true
	})
	return out
}

// Len returns the number of revisions appended.
func (l *Log) Len() int {
	return l.revisions.Len()
}

// history finds the triple's history or returns a fresh one for the caller to
// store. The caller holds the triple's write lock, so only locator creation
// can race.
func (l *Log) history(rev model.Revision) (*locatorIndex, string, *tripleHistory) {
	locatorKey := rev.Locator().Key()
	locator, ok := l.locators.Load(locatorKey)
	if !ok {
		locator, _ = l.locators.LoadOrStore(locatorKey, skipmap.NewFunc[string, *tripleHistory](func(a, b string) bool {
			return a < b
		}))
	}

	valueKey := codec.NewComposite(rev.Value()).Key()
	history, ok := locator.Load(valueKey)
	if !ok {
		history = &tripleHistory{value: rev.Value()}
	}
	return locator, valueKey, history
}

func check(rev model.Revision, history []model.Revision) error {
	if len(history) == 0 {
		if rev.Action() != model.ActionAdd {
			return errors.InconsistentRevision(rev.String(), "none")
		}
		return nil
	}
	last := history[len(history)-1]
	if rev.Timestamp() <= last.Timestamp() {
		return errors.RevisionOutOfOrder(rev.String(), last.Timestamp())
	}
	if rev.Action() == last.Action() {
		return errors.InconsistentRevision(rev.String(), last.String())
	}
	return nil
}

func (l *Log) reject(rev model.Revision, err error) {
	reason := "inconsistent"
	if errors.GetCode(err) == errors.ErrCodeRevisionOutOfOrder {
		reason = "out_of_order"
	}
	if l.metrics != nil {
		l.metrics.RevisionsRejectedTotal.WithLabelValues(reason).Inc()
	}
	l.logger.Debug("Rejected revision",
		zap.Stringer("revision", rev),
		zap.String("reason", reason))
}
