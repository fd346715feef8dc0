package errs

import (
	"sync"
	"time"
)

// ErrorStats tracks error counts by kind and by server across an
// operation's lifetime, for the "health" CLI surface.
// Grounded on pkg/content/errors.go's ErrorStats/RecordError, generalized
// from a fixed per-content-error-code counter set to the full spec.md
// §7 Kind taxonomy and made safe for concurrent recording since health
// probes and repair fan out across servers concurrently.
type ErrorStats struct {
	mu            sync.Mutex
	ByKind        map[Kind]uint64
	ByServer      map[string]uint64
	LastError     *Error
	LastErrorTime time.Time
}

// NewErrorStats returns an empty, ready-to-use tracker.
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ByKind:   make(map[Kind]uint64),
		ByServer: make(map[string]uint64),
	}
}

// Record files err under its Kind and, if it carries one, its Server.
// Non-*Error values are counted under Unknown.
func (es *ErrorStats) Record(err error) {
	if err == nil {
		return
	}
	e, ok := err.(*Error)
	if !ok {
		e = New(Unknown, err.Error(), err)
	}

	es.mu.Lock()
	defer es.mu.Unlock()
	es.ByKind[e.Kind]++
	if e.Server != "" {
		es.ByServer[e.Server]++
	}
	es.LastError = e
	es.LastErrorTime = time.Now()
}

// Total returns the number of errors recorded across all kinds.
func (es *ErrorStats) Total() uint64 {
	es.mu.Lock()
	defer es.mu.Unlock()
	var total uint64
	for _, n := range es.ByKind {
		total += n
	}
	return total
}

// MostProblematicServer returns the server_id with the most recorded
// errors, and its count. Returns ("", 0) if nothing has been recorded.
func (es *ErrorStats) MostProblematicServer() (string, uint64) {
	es.mu.Lock()
	defer es.mu.Unlock()
	var worst string
	var worstCount uint64
	for id, n := range es.ByServer {
		if n > worstCount {
			worst, worstCount = id, n
		}
	}
	return worst, worstCount
}
