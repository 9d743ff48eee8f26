package core

import (
	"strings"
	"testing"
	"time"
)

func TestNewPurgeDriverRejectsNonPositiveInterval(t *testing.T) {
	if _, err := NewPurgeDriver(nil, nil, 0, nil); CodeOf(err) != CodeNotFound {
		t.Fatalf("expected ErrBadInterval for a zero interval, got %v", err)
	}
	if _, err := NewPurgeDriver(nil, nil, -5, nil); err == nil {
		t.Fatalf("expected rejection of a negative interval")
	}
}

// countingTarget signals each invocation over a channel so tests can
// synchronize with the driver's background goroutine without sleeping.
type countingTarget struct {
	calls chan uint64
}

func (c *countingTarget) PurgeExpired(now uint64) (int, error) {
	c.calls <- now
	return 0, nil
}

func TestPurgeDriverFiresPeriodically(t *testing.T) {
	mc := newMockClock()
	target := &countingTarget{calls: make(chan uint64, 8)}
	d, err := NewPurgeDriver(target, mc, 1, testLogger())
	if err != nil {
		t.Fatalf("NewPurgeDriver: %v", err)
	}
	d.Start()
	time.Sleep(10 * time.Millisecond) // let the loop goroutine reach its ticker select

	for i := 0; i < 3; i++ {
		mc.Add(time.Second)
		select {
		case <-target.calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("purge driver did not fire tick %d in time", i)
		}
	}

	d.Shutdown()
	if err := d.Join(); err != nil {
		t.Fatalf("Join: %v", err)
	}
}

func TestPurgeDriverJoinIsIdempotent(t *testing.T) {
	mc := newMockClock()
	target := &countingTarget{calls: make(chan uint64, 1)}
	d, err := NewPurgeDriver(target, mc, 1, testLogger())
	if err != nil {
		t.Fatalf("NewPurgeDriver: %v", err)
	}
	d.Start()
	d.Shutdown()
	first := d.Join()
	second := d.Join()
	if first != second {
		t.Fatalf("Join is not idempotent: first=%v second=%v", first, second)
	}
}

type panickingTarget struct{}

func (panickingTarget) PurgeExpired(now uint64) (int, error) {
	panic("boom")
}

func TestPurgeDriverSurfacesPanicAsJoinError(t *testing.T) {
	mc := newMockClock()
	d, err := NewPurgeDriver(panickingTarget{}, mc, 1, testLogger())
	if err != nil {
		t.Fatalf("NewPurgeDriver: %v", err)
	}
	d.Start()
	time.Sleep(10 * time.Millisecond)
	mc.Add(time.Second)

	joinErr := d.Join()
	if joinErr == nil || !strings.Contains(joinErr.Error(), "boom") {
		t.Fatalf("expected Join to surface the panic, got %v", joinErr)
	}
}
