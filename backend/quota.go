package backend

import "sync"

// itemSize is the quota charge for one stored item.
func itemSize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}

// quota tracks accounted bytes against an optional limit.
// A limit of zero disables enforcement. Stores call fits and then commit
// while holding their own write lock, so the two steps are not racy.
type quota struct {
	mu    sync.Mutex
	limit int64
	used  int64
	items int
}

// fits reports whether replacing an item of oldSize (0 if absent) with one
// of newSize stays within the limit. Writes that do not grow usage are
// always admitted.
func (q *quota) fits(oldSize, newSize int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.limit <= 0 || newSize <= oldSize {
		return true
	}
	return q.used-oldSize+newSize <= q.limit
}

// commit records a successful write.
func (q *quota) commit(oldSize, newSize int64, existed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.used += newSize - oldSize
	if !existed {
		q.items++
	}
}

// release records a successful removal of an item of size.
func (q *quota) release(size int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.used -= size
	if q.used < 0 {
		q.used = 0
	}
	if q.items > 0 {
		q.items--
	}
}

// reset replaces the counters after recomputing them from persisted state.
func (q *quota) reset(used int64, items int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.used = used
	q.items = items
}

func (q *quota) usage() Usage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Usage{UsedBytes: q.used, QuotaBytes: q.limit, Items: q.items}
}
