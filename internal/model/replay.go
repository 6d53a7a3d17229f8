package model

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// Replay folds the revisions of a single triple in timestamp order up to and
// including ts and reports whether the association is present.
func Replay(revisions []Revision, ts int64) bool {
	sorted := make([]Revision, len(revisions))
	copy(sorted, revisions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].timestamp < sorted[j].timestamp
	})

	present := false
	for _, r := range sorted {
		if r.timestamp > ts {
			break
		}
		present = r.action == ActionAdd
	}
	return present
}

// ValidateSequence checks that revisions sharing a triple have strictly
// increasing timestamps and alternate ADD/REMOVE starting with ADD. Every
// violation is reported.
func ValidateSequence(revisions []Revision) error {
	type state struct {
		last   Action
		lastTS int64
	}
	histories := make(map[string]*state)

	sorted := make([]Revision, len(revisions))
	copy(sorted, revisions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].timestamp < sorted[j].timestamp
	})

	var result *multierror.Error
	for _, r := range sorted {
		triple := fmt.Sprintf("%d:%s", r.kind, r.Triple().Key())
		s, ok := histories[triple]
		if !ok {
			if r.action != ActionAdd {
				result = multierror.Append(result, fmt.Errorf("%s: history must start with ADD", r))
			}
			histories[triple] = &state{last: r.action, lastTS: r.timestamp}
			continue
		}
		if r.timestamp <= s.lastTS {
			result = multierror.Append(result, fmt.Errorf("%s: timestamp not after %d", r, s.lastTS))
		}
		if r.action == s.last {
			result = multierror.Append(result, fmt.Errorf("%s: repeats previous %s", r, s.last))
		}
		s.last = r.action
		s.lastTS = r.timestamp
	}
	return result.ErrorOrNil()
}
