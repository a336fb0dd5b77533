package flint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/flint/blockdev"
	"github.com/outofforest/flint/flash"
)

type fakeOp struct {
	addr   uint32
	length uint32
	pages  uint32
}

// fakeController records every interaction with the driver and lets tests
// script issuance statuses, busy polls and completion events.
type fakeController struct {
	window  flash.Window
	handler flash.EventHandler

	initStatus  flash.Status
	readStatus  flash.Status
	writeStatus flash.Status
	eraseStatus flash.Status

	// busyFor makes IsBusy report busy that many polls, forever if negative.
	busyFor     int
	busyQueried int
	initCalled  bool

	reads  []fakeOp
	writes []fakeOp
	erases []fakeOp

	// completeWith, when set, delivers the completion event synchronously
	// during issuance. The sink tolerates any execution context, including
	// one firing before the wait loops start.
	completeWith *flash.Status
}

func (f *fakeController) Init(window flash.Window, handler flash.EventHandler) flash.Status {
	f.initCalled = true
	f.window = window
	f.handler = handler
	return f.initStatus
}

func (f *fakeController) Read(addr uint32, p []byte) flash.Status {
	f.reads = append(f.reads, fakeOp{addr: addr, length: uint32(len(p))})
	return f.readStatus
}

func (f *fakeController) Write(addr uint32, p []byte) flash.Status {
	f.writes = append(f.writes, fakeOp{addr: addr, length: uint32(len(p))})
	if f.writeStatus == flash.StatusSuccess {
		f.deliver()
	}
	return f.writeStatus
}

func (f *fakeController) Erase(addr uint32, pageCount uint32) flash.Status {
	f.erases = append(f.erases, fakeOp{addr: addr, pages: pageCount})
	if f.eraseStatus == flash.StatusSuccess {
		f.deliver()
	}
	return f.eraseStatus
}

func (f *fakeController) IsBusy() bool {
	f.busyQueried++
	if f.busyFor != 0 {
		if f.busyFor > 0 {
			f.busyFor--
		}
		return true
	}
	return false
}

func (f *fakeController) deliver() {
	if f.completeWith != nil {
		f.handler(flash.Event{Result: *f.completeWith})
	}
}

func status(st flash.Status) *flash.Status {
	return &st
}

func newDevice(t *testing.T, fake *fakeController, opts ...Option) (*Device, *blockdev.Config) {
	cfg := &blockdev.Config{BlockSize: 4096, BlockCount: 2}
	d, err := Attach(fake, cfg, opts...)
	require.NoError(t, err)
	return d, cfg
}

func TestAttachFillsConfig(t *testing.T) {
	requireT := require.New(t)
	assertT := assert.New(t)

	fake := &fakeController{}
	cfg := &blockdev.Config{BlockSize: 4096, BlockCount: 2}

	d, err := Attach(fake, cfg)
	requireT.NoError(err)

	assertT.True(fake.initCalled)
	assertT.Equal(flash.DefaultWindow(), fake.window)
	assertT.Equal(flash.DefaultWindow(), d.Window())
	assertT.NotNil(cfg.Read)
	assertT.NotNil(cfg.Prog)
	assertT.NotNil(cfg.Erase)
	assertT.NotNil(cfg.Sync)
}

func TestAttachCustomWindow(t *testing.T) {
	requireT := require.New(t)

	fake := &fakeController{}
	cfg := &blockdev.Config{BlockSize: 4096, BlockCount: 4}
	window := flash.Window{Start: 0x10000, End: 0x13fff}

	d, err := Attach(fake, cfg, WithWindow(window))
	requireT.NoError(err)
	requireT.Equal(window, fake.window)
	requireT.Equal(window, d.Window())
}

func TestAttachNilConfig(t *testing.T) {
	requireT := require.New(t)

	fake := &fakeController{}
	_, err := Attach(fake, nil)
	requireT.Error(err)
	requireT.False(fake.initCalled)
}

func TestAttachZeroBlockSize(t *testing.T) {
	requireT := require.New(t)

	fake := &fakeController{}
	_, err := Attach(fake, &blockdev.Config{BlockCount: 2})
	requireT.Error(err)
	requireT.False(fake.initCalled)
}

func TestAttachGeometryExceedsWindow(t *testing.T) {
	requireT := require.New(t)

	// The default window holds exactly two 4 KiB blocks.
	fake := &fakeController{}
	_, err := Attach(fake, &blockdev.Config{BlockSize: 4096, BlockCount: 3})
	requireT.Error(err)
	requireT.False(fake.initCalled)
}

func TestAttachControllerInitFailure(t *testing.T) {
	requireT := require.New(t)

	fake := &fakeController{initStatus: flash.StatusInternal}
	cfg := &blockdev.Config{BlockSize: 4096, BlockCount: 2}

	_, err := Attach(fake, cfg)
	requireT.Error(err)
	requireT.Nil(cfg.Read)
	requireT.Nil(cfg.Prog)
	requireT.Nil(cfg.Erase)
	requireT.Nil(cfg.Sync)
}
