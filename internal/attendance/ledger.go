package attendance

import (
	"context"
	"sort"
	"sync"
)

// DateLayout is the calendar-day key of the ledger.
const DateLayout = "2006-01-02"

// Day is one calendar day's attendee set.
type Day struct {
	Date       string
	StudentIDs []string
}

// Ledger is the per-day set of students marked present. Mark is an
// idempotent add-to-set: concurrent marks for the same day commute and a
// repeated mark is a no-op.
type Ledger interface {
	Mark(ctx context.Context, date, studentID string) (added bool, err error)
	IsMarked(ctx context.Context, date, studentID string) (bool, error)
	Attendees(ctx context.Context, date string) ([]string, error)
	History(ctx context.Context) ([]Day, error)
}

// MemoryLedger keeps the ledger in process memory.
type MemoryLedger struct {
	mu   sync.RWMutex
	days map[string]*memoryDay
}

type memoryDay struct {
	order []string
	seen  map[string]struct{}
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{days: make(map[string]*memoryDay)}
}

func (l *MemoryLedger) Mark(_ context.Context, date, studentID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.days[date]
	if !ok {
		d = &memoryDay{seen: make(map[string]struct{})}
		l.days[date] = d
	}
	if _, dup := d.seen[studentID]; dup {
		return false, nil
	}
	d.seen[studentID] = struct{}{}
	d.order = append(d.order, studentID)
	return true, nil
}

func (l *MemoryLedger) IsMarked(_ context.Context, date, studentID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.days[date]
	if !ok {
		return false, nil
	}
	_, marked := d.seen[studentID]
	return marked, nil
}

func (l *MemoryLedger) Attendees(_ context.Context, date string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.days[date]
	if !ok {
		return []string{}, nil
	}
	return append([]string{}, d.order...), nil
}

func (l *MemoryLedger) History(_ context.Context) ([]Day, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Day, 0, len(l.days))
	for date, d := range l.days {
		out = append(out, Day{Date: date, StudentIDs: append([]string{}, d.order...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}
