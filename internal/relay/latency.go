package relay

import (
	"sync"

	"github.com/dyluth/rally/pkg/ledger"
)

// LatencyStats summarises observed one-way latency for one signal kind.
// Latencies are in milliseconds of receiver clock minus sender clock.
type LatencyStats struct {
	Count     int     `json:"count"`
	MeanMs    float64 `json:"mean_ms"`
	LastMs    int64   `json:"last_ms"`
	MaxMs     int64   `json:"max_ms"`
	Anomalies int     `json:"anomalies"`
}

// Tracker accumulates latency per signal kind. Clock skew between peers can
// make a delta negative; such samples are counted as anomalies and do not
// move the mean.
type Tracker struct {
	mu    sync.Mutex
	stats map[Kind]*LatencyStats
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{stats: make(map[Kind]*LatencyStats)}
}

// Observe records one sample and returns its latency in milliseconds and
// whether it was an anomaly.
func (t *Tracker) Observe(kind Kind, sentAt, receivedAt ledger.Timestamp) (int64, bool) {
	latency := receivedAt.Millis() - sentAt.Millis()

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[kind]
	if !ok {
		s = &LatencyStats{}
		t.stats[kind] = s
	}
	s.LastMs = latency
	if latency < 0 {
		s.Anomalies++
		return latency, true
	}
	s.Count++
	s.MeanMs += (float64(latency) - s.MeanMs) / float64(s.Count)
	if latency > s.MaxMs {
		s.MaxMs = latency
	}
	return latency, false
}

// Stats returns a copy of the summary for kind.
func (t *Tracker) Stats(kind Kind) LatencyStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.stats[kind]; ok {
		return *s
	}
	return LatencyStats{}
}

// Snapshot returns a copy of every summary.
func (t *Tracker) Snapshot() map[Kind]LatencyStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Kind]LatencyStats, len(t.stats))
	for k, s := range t.stats {
		out[k] = *s
	}
	return out
}

// MeanMillis returns the sample-weighted mean latency across all kinds,
// rounded to whole milliseconds. Zero when nothing has been observed.
func (t *Tracker) MeanMillis() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total float64
	var count int
	for _, s := range t.stats {
		total += s.MeanMs * float64(s.Count)
		count += s.Count
	}
	if count == 0 {
		return 0
	}
	return uint32(total/float64(count) + 0.5)
}
