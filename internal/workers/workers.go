package workers

import "context"

// The workers are stateless batch jobs meant for idempotent periodic
// invocation by an external scheduler. All progress lives in the store's
// status columns; nothing is carried between runs in process.

// Summary is what one run reports back to the scheduler. A run with
// nothing due returns all zeros.
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// DefaultBatchSize bounds per-run cost so a backlog never monopolizes
// the store in a single invocation.
const DefaultBatchSize = 50

// RunLocker guards against overlapping runs of the same worker class.
// TryAcquire returns acquired=false, without error, when another run
// already holds the lock.
type RunLocker interface {
	TryAcquire(ctx context.Context) (release func(), acquired bool, err error)
}
