package lock

import (
	"testing"
	"time"

	"github.com/MrEthical07/goSession/clock"
)

func TestLockExcludesUntilReleased(t *testing.T) {
	clk := clock.Fake(time.Unix(1000, 0))
	l := New(5*time.Second, clk)

	id, ok := l.TryAcquire()
	if !ok || id == "" {
		t.Fatal("first acquire failed")
	}
	if _, ok := l.TryAcquire(); ok {
		t.Fatal("second acquire succeeded while lock held")
	}
	if !l.Held() {
		t.Fatal("Held() = false while locked")
	}

	if !l.Release(id) {
		t.Fatal("Release by owner failed")
	}
	if l.Held() {
		t.Fatal("Held() = true after release")
	}

	next, ok := l.TryAcquire()
	if !ok || next == id {
		t.Fatalf("expected fresh lock id, got %q ok=%v", next, ok)
	}
}

func TestLockStaleIsReclaimable(t *testing.T) {
	clk := clock.Fake(time.Unix(1000, 0))
	l := New(5*time.Second, clk)

	first, _ := l.TryAcquire()

	clk.Advance(5 * time.Second)
	if _, ok := l.TryAcquire(); ok {
		t.Fatal("lock reclaimed at exactly the timeout")
	}

	clk.Advance(time.Millisecond)
	if !l.Snapshot().Stale {
		t.Fatal("expected lock to report stale")
	}
	second, ok := l.TryAcquire()
	if !ok {
		t.Fatal("stale lock not reclaimable")
	}
	if l.Reclaims() != 1 {
		t.Fatalf("Reclaims() = %d, want 1", l.Reclaims())
	}

	if l.Release(first) {
		t.Fatal("previous owner released a reclaimed lock")
	}
	if st := l.Snapshot(); !st.Locked || st.ID != second {
		t.Fatalf("new owner lost the lock: %+v", st)
	}
}
