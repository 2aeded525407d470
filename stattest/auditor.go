package stattest

import "sync"

// DefaultHistory is the number of results an Auditor retains.
const DefaultHistory = 100

// Auditor runs Audit and keeps the most recent results.
type Auditor struct {
	mu      sync.Mutex
	limit   int
	history []Result
}

// NewAuditor returns an Auditor retaining up to limit results; limit <= 0
// selects DefaultHistory.
func NewAuditor(limit int) *Auditor {
	if limit <= 0 {
		limit = DefaultHistory
	}
	return &Auditor{limit: limit}
}

// Audit audits data and records the result. Degenerate samples are not
// recorded.
func (a *Auditor) Audit(data []byte) (Result, error) {
	r, err := Audit(data)
	if err != nil {
		return r, err
	}
	a.mu.Lock()
	a.history = append(a.history, r)
	if over := len(a.history) - a.limit; over > 0 {
		a.history = append(a.history[:0], a.history[over:]...)
	}
	a.mu.Unlock()
	return r, nil
}

// History returns a copy of the retained results, oldest first.
func (a *Auditor) History() []Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Result, len(a.history))
	copy(out, a.history)
	return out
}

// Trend returns the mean score over the retained history and the number of
// results it covers.
func (a *Auditor) Trend() (mean float64, count int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.history) == 0 {
		return 0, 0
	}
	var sum float64
	for _, r := range a.history {
		sum += r.Score
	}
	return sum / float64(len(a.history)), len(a.history)
}
