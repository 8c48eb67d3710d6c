// ABOUTME: Task counters derived from agent status transitions.
// ABOUTME: Fixed four-bucket map with saturating decrement and frozen normalization table.

package registry

import "sync"

// Counter buckets.
const (
	BucketPending    = "pending"
	BucketInProgress = "inProgress"
	BucketCompleted  = "completed"
	BucketFailed     = "failed"
)

// bucketFor maps raw status strings from any discovery source to a counter
// bucket. The table is a frozen contract; unknown statuses map to nothing.
var bucketFor = map[string]string{
	"pending":     BucketPending,
	"working":     BucketInProgress,
	"in_progress": BucketInProgress,
	"inProgress":  BucketInProgress,
	"completed":   BucketCompleted,
	"failed":      BucketFailed,
}

// TaskCounters tracks the pending/inProgress/completed/failed aggregate.
// Buckets never go negative: decrement on an empty bucket is a no-op, and
// unknown bucket names are silently ignored.
type TaskCounters struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewTaskCounters returns zeroed counters.
func NewTaskCounters() *TaskCounters {
	return &TaskCounters{counts: emptyCounts()}
}

func emptyCounts() map[string]int {
	return map[string]int{
		BucketPending:    0,
		BucketInProgress: 0,
		BucketCompleted:  0,
		BucketFailed:     0,
	}
}

// Increment bumps the bucket the status maps to, if any.
func (tc *TaskCounters) Increment(status string) {
	key, ok := bucketFor[status]
	if !ok {
		return
	}
	tc.mu.Lock()
	tc.counts[key]++
	tc.mu.Unlock()
}

// Decrement lowers the bucket the status maps to, saturating at zero.
func (tc *TaskCounters) Decrement(status string) {
	key, ok := bucketFor[status]
	if !ok {
		return
	}
	tc.mu.Lock()
	if tc.counts[key] > 0 {
		tc.counts[key]--
	}
	tc.mu.Unlock()
}

// Transition applies a decrement for the old status and an increment for the
// new one in a single locked step.
func (tc *TaskCounters) Transition(oldStatus, newStatus string) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if key, ok := bucketFor[oldStatus]; ok && tc.counts[key] > 0 {
		tc.counts[key]--
	}
	if key, ok := bucketFor[newStatus]; ok {
		tc.counts[key]++
	}
}

// Reset zeroes all four buckets.
func (tc *TaskCounters) Reset() {
	tc.mu.Lock()
	tc.counts = emptyCounts()
	tc.mu.Unlock()
}

// Get returns the count for one bucket name.
func (tc *TaskCounters) Get(bucket string) int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.counts[bucket]
}

// Snapshot returns a copy of all four buckets keyed by bucket name.
func (tc *TaskCounters) Snapshot() map[string]int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make(map[string]int, len(tc.counts))
	for k, v := range tc.counts {
		out[k] = v
	}
	return out
}
