package lifecycle

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Monitor periodically probes live sandboxes and releases the unhealthy
// and the idle. It never mutates handle state itself: every transition
// flows through Manager.Release, so monitor-triggered and
// client-triggered teardown can't race each other.
type Monitor struct {
	mgr      *Manager
	interval time.Duration

	sweeping atomic.Bool
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor creates a health monitor with a fixed sweep interval.
func NewMonitor(mgr *Manager, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		mgr:      mgr,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins sweeping in the background.
func (mo *Monitor) Start() {
	go mo.run()
}

// Stop halts the sweep loop and waits for it to exit. An in-flight
// sweep finishes on its own; every probe it issues is bounded.
func (mo *Monitor) Stop() {
	close(mo.stop)
	<-mo.done
}

func (mo *Monitor) run() {
	defer close(mo.done)

	ticker := time.NewTicker(mo.interval)
	defer ticker.Stop()

	for {
		select {
		case <-mo.stop:
			return
		case <-ticker.C:
			// Single-flight: a tick that fires while the previous
			// sweep is still running is skipped.
			if !mo.sweeping.CompareAndSwap(false, true) {
				continue
			}
			go func() {
				defer mo.sweeping.Store(false)
				mo.Sweep(context.Background())
			}()
		}
	}
}

// Sweep probes a snapshot of all live sandboxes once. A failed or
// timed-out probe is treated the same as an explicit unhealthy signal:
// the sandbox is torn down rather than retried, since a hung sandbox
// holds a capacity slot.
func (mo *Monitor) Sweep(ctx context.Context) {
	now := time.Now()

	for _, info := range mo.mgr.Handles() {
		if info.Status != StatusRunning {
			continue
		}

		healthy, err := mo.mgr.Probe(ctx, info.SandboxID)
		if err != nil || !healthy {
			if err != nil {
				log.Printf("sandbox %s (instance %s): health probe failed: %v",
					info.SandboxID, info.InstanceID, err)
			}
			mo.mgr.Release(ctx, info.SandboxID, ReasonHealthCheckFailed)
			continue
		}

		if idle := now.Sub(info.LastActivityAt); idle >= mo.mgr.opts.IdleTimeout {
			mo.mgr.Release(ctx, info.SandboxID, ReasonIdleTimeout)
		}
	}
}
