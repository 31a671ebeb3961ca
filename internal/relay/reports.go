package relay

import (
	"sync"
	"time"

	"github.com/vitalmesh/meshlink/internal/protocol/message"
)

// Direction says which way a report crossed the link.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

const DefaultReportCapacity = 256

// ReportEntry is one relayed health report with the relay's own
// bookkeeping attached.
type ReportEntry struct {
	Seq        uint64               `json:"seq"`
	Direction  Direction            `json:"direction"`
	ReceivedAt time.Time            `json:"received_at"`
	Report     message.HealthReport `json:"report"`
}

// ReportLog is a bounded in-memory ring of relayed reports. Once the
// capacity is reached the oldest entry is overwritten; nothing is
// persisted.
type ReportLog struct {
	mu   sync.RWMutex
	cap  int
	seq  uint64
	buf  []ReportEntry
	next int
}

func NewReportLog(capacity int) *ReportLog {
	if capacity <= 0 {
		capacity = DefaultReportCapacity
	}
	return &ReportLog{
		cap: capacity,
		buf: make([]ReportEntry, 0, capacity),
	}
}

// Add records one report and returns the stored entry.
func (l *ReportLog) Add(direction Direction, report message.HealthReport) ReportEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	entry := ReportEntry{
		Seq:        l.seq,
		Direction:  direction,
		ReceivedAt: time.Now(),
		Report:     report,
	}
	if len(l.buf) < l.cap {
		l.buf = append(l.buf, entry)
	} else {
		l.buf[l.next] = entry
		l.next = (l.next + 1) % l.cap
	}
	return entry
}

// Recent returns up to limit entries, newest first. A non-positive
// limit returns everything retained.
func (l *ReportLog) Recent(limit int) []ReportEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.buf)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ReportEntry, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, l.buf[(l.next+n-1-i)%n])
	}
	return out
}

// Len reports how many entries are currently retained.
func (l *ReportLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buf)
}

// Total reports how many entries were ever added.
func (l *ReportLog) Total() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}
