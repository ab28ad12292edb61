package evidence

import (
	"context"

	"github.com/supplement-advisor-server/internal/domain"
)

// Iterator yields at most limit evidence items for a query, fetching pages of
// growing size on demand. It stops early when the store runs out of results.
//
//	it := agg.Iterate("omega-3 bleeding", "interactions", 5, 20)
//	for it.Next(ctx) {
//		use(it.Evidence())
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	agg        *Aggregator
	query      string
	collection string
	pageSize   int
	limit      int

	buf       []domain.Evidence
	pos       int
	exhausted bool
	current   domain.Evidence
	err       error
}

// Next advances to the next item. It returns false when the sequence is done or
// an error occurred.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.err != nil || it.pos >= it.limit {
		return false
	}

	if it.pos >= len(it.buf) {
		if it.exhausted {
			return false
		}
		k := len(it.buf) + it.pageSize
		if k > it.limit {
			k = it.limit
		}

		res, err := it.agg.Search(ctx, it.query, it.collection, k)
		if err != nil {
			it.err = err
			return false
		}
		if len(res.Evidence) < k {
			it.exhausted = true
		}
		if len(res.Evidence) <= len(it.buf) {
			it.exhausted = true
			return false
		}
		it.buf = res.Evidence
	}

	it.current = it.buf[it.pos]
	it.pos++
	return true
}

// Evidence returns the current item.
func (it *Iterator) Evidence() domain.Evidence {
	return it.current
}

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}
