package hold

import (
	"container/heap"
	"time"

	"github.com/iliyamo/train-seat-reservation/internal/model"
)

type expiryItem struct {
	holdID    string
	expiresAt time.Time
	attempts  int
	// resolveAs is set when the seats were already freed and only the
	// terminal record is still to be written.
	resolveAs model.HoldStatus
}

// expiryQueue is a min-heap of hold expirations. Entries of holds that
// were resolved early stay in the heap and are dropped when popped.
type expiryQueue []expiryItem

func (q expiryQueue) Len() int { return len(q) }
func (q expiryQueue) Less(i, j int) bool {
	return q[i].expiresAt.Before(q[j].expiresAt)
}
func (q expiryQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *expiryQueue) Push(x any)  { *q = append(*q, x.(expiryItem)) }
func (q *expiryQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

// popDue removes up to limit items whose expiry is at or before now.
func (q *expiryQueue) popDue(now time.Time, limit int) []expiryItem {
	var due []expiryItem
	for q.Len() > 0 && !(*q)[0].expiresAt.After(now) {
		if limit > 0 && len(due) >= limit {
			break
		}
		due = append(due, heap.Pop(q).(expiryItem))
	}
	return due
}
