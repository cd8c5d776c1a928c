// Package pagination iterates cursor-paginated Admin API collections by
// following the continuation token embedded in the Link response header.
package pagination

import "context"

// Lister fetches one page of customer ids. pageInfo is the opaque cursor
// from the previous page ("" for the first); the returned cursor is "" when
// the collection is exhausted.
type Lister interface {
	CustomerIDPage(ctx context.Context, pageInfo string) (ids []int64, next string, err error)
}

// Iterator is a lazy, single-pass sequence of customer ids. Pages are
// fetched on demand as the sequence is consumed; the cursor is held only
// between consecutive calls and never persisted. Not safe for concurrent
// use, and not restartable once exhausted.
type Iterator struct {
	lister Lister
	cursor string
	buf    []int64
	pos    int
	final  bool // the current buffer came from the last page
	err    error
}

// NewIterator creates an iterator over all customers exposed by the lister.
func NewIterator(lister Lister) *Iterator {
	return &Iterator{lister: lister, pos: -1}
}

// Next advances to the next customer id, fetching further pages as needed.
// It returns false when the sequence terminates, either because the last
// page carried no next cursor or because a page fetch failed; Err
// distinguishes the two.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}

	it.pos++
	for it.pos >= len(it.buf) {
		if it.final {
			return false
		}

		ids, next, err := it.lister.CustomerIDPage(ctx, it.cursor)
		if err != nil {
			it.err = err
			return false
		}

		it.buf = ids
		it.pos = 0
		it.cursor = next
		it.final = next == ""
	}

	return true
}

// ID returns the customer id at the current position. Only valid after a
// call to Next that returned true.
func (it *Iterator) ID() int64 { return it.buf[it.pos] }

// Err returns the error that aborted iteration, if any.
func (it *Iterator) Err() error { return it.err }
