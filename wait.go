package flint

import (
	"time"

	"github.com/outofforest/flint/flash"
)

// waitIdle blocks until the controller reports no operation in progress,
// feeding the watchdog on every iteration.
func (d *Device) waitIdle() flash.Status {
	deadline := d.deadline()
	for d.ctrl.IsBusy() {
		if timedOut(deadline) {
			return flash.StatusTimeout
		}
		d.feed()
	}
	return flash.StatusSuccess
}

// waitResult blocks until the completion sink delivers the outcome of the
// operation in flight, then resets the slot to the sentinel and releases
// the in-flight guard for the next caller. On timeout the guard stays set,
// the operation is still outstanding and its event may arrive later.
func (d *Device) waitResult() flash.Status {
	deadline := d.deadline()
	for {
		if r := d.result.Load(); r != resultPending {
			d.result.Store(resultPending)
			d.inFlight.Store(false)
			return flash.Status(r)
		}
		if timedOut(deadline) {
			return flash.StatusTimeout
		}
		d.feed()
	}
}

// onEvent is the completion sink registered with the controller. It may run
// on any goroutine, concurrently with a wait loop. The result is stored
// unconditionally, with one operation in flight there is nothing to filter.
func (d *Device) onEvent(ev flash.Event) {
	d.result.Store(int32(ev.Result))
}

func (d *Device) feed() {
	if d.keepAlive != nil {
		d.keepAlive()
	}
}

func (d *Device) deadline() time.Time {
	if d.waitTimeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d.waitTimeout)
}

func timedOut(deadline time.Time) bool {
	return !deadline.IsZero() && time.Now().After(deadline)
}
