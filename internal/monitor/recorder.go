package monitor

import (
	"sync"

	"github.com/medigate/backend/internal/models"
)

const (
	// DefaultHistoryLimit bounds the per-client rolling history.
	DefaultHistoryLimit = 100
	// DefaultGlobalLimit bounds the operator-facing recent-request log.
	DefaultGlobalLimit = 1000
)

// Evaluator is notified synchronously after each recorded request with a
// snapshot of the client's rolling history.
type Evaluator interface {
	Evaluate(clientAddr string, history []models.RequestRecord)
}

// Recorder keeps a bounded rolling history of recent requests per client
// address plus a bounded global log. It is safe for concurrent use; per-client
// append order is preserved.
type Recorder struct {
	mu           sync.RWMutex
	histories    map[string][]models.RequestRecord
	recent       []models.RequestRecord
	historyLimit int
	globalLimit  int
	evaluator    Evaluator
}

// NewRecorder creates a Recorder. evaluator may be nil (no detection).
func NewRecorder(historyLimit, globalLimit int, evaluator Evaluator) *Recorder {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if globalLimit <= 0 {
		globalLimit = DefaultGlobalLimit
	}
	return &Recorder{
		histories:    make(map[string][]models.RequestRecord),
		historyLimit: historyLimit,
		globalLimit:  globalLimit,
		evaluator:    evaluator,
	}
}

// Record appends rec to the client's history and the global log, evicting the
// oldest entries FIFO when either bound is exceeded, then runs the evaluator
// on the fresh history snapshot. The record that triggers evaluation is never
// dropped: it is appended before the evaluator runs.
func (r *Recorder) Record(rec models.RequestRecord) {
	r.mu.Lock()
	history := append(r.histories[rec.ClientAddr], rec)
	if len(history) > r.historyLimit {
		history = history[len(history)-r.historyLimit:]
	}
	r.histories[rec.ClientAddr] = history

	r.recent = append(r.recent, rec)
	if len(r.recent) > r.globalLimit {
		r.recent = r.recent[len(r.recent)-r.globalLimit:]
	}

	snapshot := make([]models.RequestRecord, len(history))
	copy(snapshot, history)
	r.mu.Unlock()

	// Detection runs on the request-completion path, outside the lock.
	if r.evaluator != nil {
		r.evaluator.Evaluate(rec.ClientAddr, snapshot)
	}
}

// ClientHistory returns a snapshot of the rolling history for a client.
func (r *Recorder) ClientHistory(clientAddr string) []models.RequestRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.histories[clientAddr]
	snapshot := make([]models.RequestRecord, len(history))
	copy(snapshot, history)
	return snapshot
}

// RecentRequests returns a snapshot of the global recent-request log,
// most recent last.
func (r *Recorder) RecentRequests() []models.RequestRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make([]models.RequestRecord, len(r.recent))
	copy(snapshot, r.recent)
	return snapshot
}
