package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
)

type novelty string

const (
	noveltyNew   novelty = "new"
	noveltySeen  novelty = "seen"
	noveltyRetry novelty = "retry"
)

// Partitioned splits candidates by whether the record store already knows them.
// New and Seen are disjoint and together cover every candidate; Retry is the
// subset of Seen that the retry policy allows to be downloaded again.
type Partitioned struct {
	New   []gazette.Candidate `json:"new"`
	Seen  []gazette.Candidate `json:"seen"`
	Retry []gazette.Candidate `json:"retry"`
}

func (p *Partitioned) add(c gazette.Candidate, n novelty) {
	switch n {
	case noveltyNew:
		p.New = append(p.New, c)
	case noveltyRetry:
		p.Seen = append(p.Seen, c)
		p.Retry = append(p.Retry, c)
	default:
		p.Seen = append(p.Seen, c)
	}
}

func newPartitioned() Partitioned {
	return Partitioned{New: []gazette.Candidate{}, Seen: []gazette.Candidate{}, Retry: []gazette.Candidate{}}
}

// Partition looks each candidate up by filename without writing to the store.
// A filename repeated within candidates is new at most once.
func Partition(
	ctx context.Context,
	store gazette.RecordStore,
	candidates []gazette.Candidate,
	policy RetryPolicy,
	now time.Time,
) (Partitioned, error) {
	out := newPartitioned()
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.Filename]; dup {
			out.add(c, noveltySeen)
			continue
		}
		seen[c.Filename] = struct{}{}

		n, err := lookup(ctx, store, c, policy, now)
		if err != nil {
			return Partitioned{}, err
		}
		out.add(c, n)
	}
	return out, nil
}

// lookup classifies c with a single point query.
func lookup(
	ctx context.Context,
	store gazette.RecordStore,
	c gazette.Candidate,
	policy RetryPolicy,
	now time.Time,
) (novelty, error) {
	rec, err := store.FindByFilename(ctx, c.Filename)
	if errors.Is(err, gazette.ErrNotFound) {
		return noveltyNew, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", c.Filename, err)
	}
	if policy.Eligible(rec, now) {
		return noveltyRetry, nil
	}
	return noveltySeen, nil
}
