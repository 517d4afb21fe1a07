// Package dedup tracks article identities across scan cycles so the pipeline
// never processes the same canonical URL twice within the lookback window.
package dedup

import (
	"sync"
	"time"
)

// Ledger is a concurrency-safe seen-set over canonical URLs. Admission is an
// atomic check-and-insert under a single mutex; entries expire after the
// lookback window so updated articles get re-covered without unbounded
// memory growth.
type Ledger struct {
	mu     sync.Mutex
	seen   map[string]time.Time // canonical URL -> admitted at
	window time.Duration
	now    func() time.Time
}

// NewLedger creates a ledger with the given lookback window.
func NewLedger(window time.Duration) *Ledger {
	return &Ledger{
		seen:   make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

// NewLedgerWithClock allows injecting a clock for tests.
func NewLedgerWithClock(window time.Duration, now func() time.Time) *Ledger {
	l := NewLedger(window)
	l.now = now
	return l
}

// Admit returns true exactly once per canonical URL per lookback window.
// Safe for concurrent callers; the check and the insert happen under one
// lock so two racing fetchers can never both admit the same URL.
func (l *Ledger) Admit(canonicalURL string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if admitted, ok := l.seen[canonicalURL]; ok && now.Sub(admitted) < l.window {
		return false
	}

	l.seen[canonicalURL] = now
	return true
}

// Seen reports whether the URL is currently within the lookback window,
// without admitting it.
func (l *Ledger) Seen(canonicalURL string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	admitted, ok := l.seen[canonicalURL]
	return ok && now.Sub(admitted) < l.window
}

// Sweep drops expired entries. The pipeline calls this once per scan cycle.
func (l *Ledger) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for url, admitted := range l.seen {
		if now.Sub(admitted) >= l.window {
			delete(l.seen, url)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked entries, expired or not.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}
