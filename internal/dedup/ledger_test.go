package dedup

import (
	"sync"
	"testing"
	"time"
)

func TestAdmitOncePerWindow(t *testing.T) {
	l := NewLedger(time.Hour)

	if !l.Admit("https://x.com/a") {
		t.Fatal("first admission should succeed")
	}
	if l.Admit("https://x.com/a") {
		t.Fatal("second admission within window should be rejected")
	}
	if !l.Admit("https://x.com/b") {
		t.Fatal("different URL should be admitted")
	}
}

func TestAdmitAfterWindowExpires(t *testing.T) {
	current := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	l := NewLedgerWithClock(time.Hour, func() time.Time { return current })

	if !l.Admit("https://x.com/a") {
		t.Fatal("first admission should succeed")
	}

	current = current.Add(59 * time.Minute)
	if l.Admit("https://x.com/a") {
		t.Fatal("should still be rejected just before the window elapses")
	}

	current = current.Add(2 * time.Minute)
	if !l.Admit("https://x.com/a") {
		t.Fatal("should be admitted again after the window elapses")
	}
}

func TestAdmitConcurrent(t *testing.T) {
	l := NewLedger(time.Hour)

	const goroutines = 50
	var wg sync.WaitGroup
	admitted := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted <- l.Admit("https://x.com/contested")
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for ok := range admitted {
		if ok {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("exactly one goroutine should win admission, got %d", count)
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	current := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	l := NewLedgerWithClock(time.Hour, func() time.Time { return current })

	l.Admit("https://x.com/old")
	current = current.Add(30 * time.Minute)
	l.Admit("https://x.com/new")

	current = current.Add(45 * time.Minute) // old is 75m, new is 45m

	if removed := l.Sweep(); removed != 1 {
		t.Fatalf("expected 1 entry swept, got %d", removed)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 entry remaining, got %d", l.Len())
	}
	if l.Seen("https://x.com/old") {
		t.Error("old entry should no longer be seen")
	}
	if !l.Seen("https://x.com/new") {
		t.Error("new entry should still be seen")
	}
}
