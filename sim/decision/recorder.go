package decision

import (
	"sync"
	"time"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Exchange captures one request-response cycle with the decision service.
type Exchange struct {
	SentAt     time.Time
	Latency    time.Duration
	HTTPStatus int
	Status     string // "ok" or "error"
	Error      string
	Request    []PositionData
	Response   []ActionRecord
}

// Recorder keeps the most recent exchanges (goroutine-safe). A zero Recorder keeps
// everything.
type Recorder struct {
	mu        sync.Mutex
	limit     int
	exchanges []Exchange
	failures  int
}

// NewRecorder keeps at most limit exchanges; limit <= 0 means unbounded.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Record appends ex, evicting the oldest exchange when full.
func (r *Recorder) Record(ex Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ex.Status == StatusError {
		r.failures++
	}
	r.exchanges = append(r.exchanges, ex)
	if r.limit > 0 && len(r.exchanges) > r.limit {
		r.exchanges = append(r.exchanges[:0], r.exchanges[len(r.exchanges)-r.limit:]...)
	}
}

// Exchanges returns the retained exchanges, oldest first.
func (r *Recorder) Exchanges() []Exchange {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Exchange, len(r.exchanges))
	copy(out, r.exchanges)
	return out
}

// Failures counts every failed exchange ever recorded, evicted ones included.
func (r *Recorder) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}
