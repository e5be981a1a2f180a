package corering

import "sync/atomic"

// metrics is a set of atomic counters describing scheduler activity. Only
// incremented when config.metrics is enabled, so the common path is a
// single branch rather than an unconditional atomic add.
type metrics struct {
	enabled      bool
	submissions  atomic.Uint64
	completions  atomic.Uint64
	cancellations atomic.Uint64
	bufferWaits  atomic.Uint64
	shortRetries atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of the scheduler's counters.
// No code path increments the buffer-wait counter, so BufferWaits is
// always zero.
type MetricsSnapshot struct {
	Submissions   uint64
	Completions   uint64
	Cancellations uint64
	BufferWaits   uint64
	ShortRetries  uint64
}

func (m *metrics) incSubmit() {
	if m.enabled {
		m.submissions.Add(1)
	}
}

func (m *metrics) incComplete() {
	if m.enabled {
		m.completions.Add(1)
	}
}

func (m *metrics) incCancel() {
	if m.enabled {
		m.cancellations.Add(1)
	}
}

func (m *metrics) incBufferWait() {
	if m.enabled {
		m.bufferWaits.Add(1)
	}
}

func (m *metrics) incShortRetry() {
	if m.enabled {
		m.shortRetries.Add(1)
	}
}

// Snapshot returns the current counter values.
func (m *metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Submissions:   m.submissions.Load(),
		Completions:   m.completions.Load(),
		Cancellations: m.cancellations.Load(),
		BufferWaits:   m.bufferWaits.Load(),
		ShortRetries:  m.shortRetries.Load(),
	}
}
