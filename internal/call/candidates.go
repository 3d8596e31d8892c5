package call

import (
	"encoding/json"
	"sync"
)

// CandidateBuffer queues connectivity candidates until the negotiation state
// allows them to move on. Arrival order is preserved and nothing is dropped
// before a drain; a candidate that fails to apply is reported and skipped
// during the drain itself.
type CandidateBuffer struct {
	mu    sync.Mutex
	queue []json.RawMessage
}

// Enqueue appends a candidate.
func (b *CandidateBuffer) Enqueue(candidate json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, candidate)
}

// Len returns the number of buffered candidates.
func (b *CandidateBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// DrainAndApply hands every buffered candidate to apply in arrival order and
// empties the buffer, so each candidate is applied at most once. It returns the
// errors reported by apply, one per failed candidate.
func (b *CandidateBuffer) DrainAndApply(apply func(json.RawMessage) error) []error {
	b.mu.Lock()
	pending := b.queue
	b.queue = nil
	b.mu.Unlock()

	var errs []error
	for _, c := range pending {
		if err := apply(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Reset discards all buffered candidates. Used on teardown only.
func (b *CandidateBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = nil
}
