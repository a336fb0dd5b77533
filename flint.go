package flint

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/outofforest/flint/blockdev"
	"github.com/outofforest/flint/flash"
)

// resultPending marks the pending-result slot as empty. Controller statuses
// are non-negative, so the sentinel can never collide with a real outcome.
const resultPending int32 = -1

// KeepAlive resets a watchdog timer. It is invoked on every iteration of the
// bridge's wait loops so long program and erase latencies don't trip a
// system reset.
type KeepAlive func()

// Device bridges the synchronous block device contract of the filesystem
// library onto an asynchronous flash controller. One filesystem operation
// may be in flight at a time, matching the controller's single-operation
// contract.
type Device struct {
	ctrl        flash.Controller
	cfg         *blockdev.Config
	window      flash.Window
	keepAlive   KeepAlive
	waitTimeout time.Duration

	// result is a single-slot cell, written only by the completion sink and
	// consumed only by the result wait. inFlight guards the slot against a
	// second program/erase started before the previous outcome is consumed.
	result   atomic.Int32
	inFlight atomic.Bool
}

// Option configures the device during Attach.
type Option func(*Device)

// WithWindow overrides the default storage window.
func WithWindow(window flash.Window) Option {
	return func(d *Device) {
		d.window = window
	}
}

// WithKeepAlive sets the watchdog keep-alive invoked inside the wait loops.
func WithKeepAlive(feed KeepAlive) Option {
	return func(d *Device) {
		d.keepAlive = feed
	}
}

// WithWaitTimeout bounds the wait loops. By default they block until the
// controller completes, relying on the hardware watchdog as the safety net.
// After a timeout the outcome of the abandoned operation is undefined and
// the device refuses further program and erase calls.
func WithWaitTimeout(timeout time.Duration) Option {
	return func(d *Device) {
		d.waitTimeout = timeout
	}
}

// Attach initializes the flash controller over the storage window and fills
// the four function slots of the block device config. The config geometry
// must fit inside the window. The device stays attached for the life of the
// process, there is no teardown path.
func Attach(ctrl flash.Controller, cfg *blockdev.Config, opts ...Option) (*Device, error) {
	if cfg == nil {
		return nil, errors.New("block device config is required")
	}

	d := &Device{
		ctrl:   ctrl,
		cfg:    cfg,
		window: flash.DefaultWindow(),
	}
	d.result.Store(resultPending)

	for _, opt := range opts {
		opt(d)
	}

	if cfg.BlockSize == 0 {
		return nil, errors.New("block size must be set")
	}
	if size := uint64(cfg.BlockSize) * uint64(cfg.BlockCount); size > uint64(d.window.Size()) {
		return nil, errors.Errorf("geometry exceeds storage window: %d bytes configured, %d available", size, d.window.Size())
	}

	if st := ctrl.Init(d.window, d.onEvent); st != flash.StatusSuccess {
		return nil, errors.Errorf("flash controller init failed: %s", st)
	}

	cfg.Read = d.Read
	cfg.Prog = d.Prog
	cfg.Erase = d.Erase
	cfg.Sync = d.Sync

	return d, nil
}

// Window returns the storage window the device operates on.
func (d *Device) Window() flash.Window {
	return d.window
}
