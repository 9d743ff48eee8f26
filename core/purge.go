package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PurgeTarget is the minimal surface a purge driver needs: the ability to
// invoke purge_expired with the current tick value.
type PurgeTarget interface {
	PurgeExpired(nowTicks uint64) (dropped int, err error)
}

// PurgeDriver is a single long-running task that periodically invokes
// purge_expired, with cooperative cancellation and panic-safe joining via
// an explicit Join error channel rather than a fire-and-forget goroutine.
type PurgeDriver struct {
	target       PurgeTarget
	clock        Clock
	intervalSecs int
	log          *logrus.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	joinErr  error
	joinOnce sync.Once
}

// NewPurgeDriver validates interval (must be a positive number of
// seconds — zero, negative, or absent is rejected at construction) and
// returns a driver bound to target.
func NewPurgeDriver(target PurgeTarget, clk Clock, intervalSecs int, log *logrus.Logger) (*PurgeDriver, error) {
	if intervalSecs <= 0 {
		return nil, ErrBadInterval
	}
	if clk == nil {
		clk = NewRealClock()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PurgeDriver{target: target, clock: clk, intervalSecs: intervalSecs, log: log}, nil
}

// Start launches the single long-running purge task. Calling Start twice
// without an intervening Join is a programming error and panics, matching
// the "single long-running task" scheduling guarantee (no overlap is ever
// possible if callers respect this).
func (d *PurgeDriver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		panic("core: PurgeDriver.Start called while already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true
	d.joinErr = nil
	d.joinOnce = sync.Once{}

	go d.loop(ctx)
}

func (d *PurgeDriver) loop(ctx context.Context) {
	defer close(d.done)
	defer func() {
		if r := recover(); r != nil {
			d.mu.Lock()
			d.joinErr = fmt.Errorf("core: purge driver panicked: %v", r)
			d.mu.Unlock()
		}
	}()

	ticker := d.clock.Ticker(time.Duration(d.intervalSecs) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := uint64(d.clock.Now().UnixNano())
			if _, err := d.target.PurgeExpired(now); err != nil {
				d.log.WithError(err).Warn("purge driver: purge_expired failed")
			}
		}
	}
}

// Shutdown requests cancellation; the driver stops at its next wake, and
// any in-flight purge runs to completion first.
func (d *PurgeDriver) Shutdown() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Join blocks until the driver's loop goroutine has exited, returning any
// panic it surfaced. Join is idempotent — calling it repeatedly after the
// first call returns the same result immediately.
func (d *PurgeDriver) Join() error {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
	return d.joinErr
}
