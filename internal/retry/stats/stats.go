// Package stats defines what the retry filter reports and ships sinks for it.
package stats

import "sync"

// Recorder receives the retry filter's statistics, all under the "retries"
// namespace.
type Recorder interface {
	// Retry counts one issued retry attempt ("total").
	Retry()
	// RetriesPerRequest records the final retry count of a logical call
	// ("per_request"), once per call.
	RetriesPerRequest(n int)
	// RequestStreamTooLong counts a call whose request outgrew its buffer.
	RequestStreamTooLong()
	// ResponseStreamTooLong counts a call whose response outgrew its buffer.
	ResponseStreamTooLong()
	// ClassificationTimeout counts a call whose classification timed out.
	ClassificationTimeout()
}

// Nop discards everything.
type Nop struct{}

func (Nop) Retry()                 {}
func (Nop) RetriesPerRequest(int)  {}
func (Nop) RequestStreamTooLong()  {}
func (Nop) ResponseStreamTooLong() {}
func (Nop) ClassificationTimeout() {}

// Memory keeps statistics in process. It is safe for concurrent use.
type Memory struct {
	mu                    sync.Mutex
	total                 int
	perRequest            []int
	requestStreamTooLong  int
	responseStreamTooLong int
	classificationTimeout int
}

// Snapshot is a point-in-time copy of Memory.
type Snapshot struct {
	Total                 int
	PerRequest            []int
	RequestStreamTooLong  int
	ResponseStreamTooLong int
	ClassificationTimeout int
}

func (m *Memory) Retry() {
	m.mu.Lock()
	m.total++
	m.mu.Unlock()
}

func (m *Memory) RetriesPerRequest(n int) {
	m.mu.Lock()
	m.perRequest = append(m.perRequest, n)
	m.mu.Unlock()
}

func (m *Memory) RequestStreamTooLong() {
	m.mu.Lock()
	m.requestStreamTooLong++
	m.mu.Unlock()
}

func (m *Memory) ResponseStreamTooLong() {
	m.mu.Lock()
	m.responseStreamTooLong++
	m.mu.Unlock()
}

func (m *Memory) ClassificationTimeout() {
	m.mu.Lock()
	m.classificationTimeout++
	m.mu.Unlock()
}

// Snapshot returns the current values.
func (m *Memory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Total:                 m.total,
		PerRequest:            append([]int(nil), m.perRequest...),
		RequestStreamTooLong:  m.requestStreamTooLong,
		ResponseStreamTooLong: m.responseStreamTooLong,
		ClassificationTimeout: m.classificationTimeout,
	}
}
