package memflash

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/outofforest/flint/flash"
)

var _ flash.Controller = &MemFlash{}

// DefaultPageSize is the erase unit used unless overridden.
const DefaultPageSize uint32 = 4096

// Option configures the controller.
type Option func(*MemFlash)

// WithPageSize sets the erase unit size.
func WithPageSize(pageSize uint32) Option {
	return func(m *MemFlash) {
		if pageSize > 0 {
			m.pageSize = pageSize
		}
	}
}

// WithLatency delays completion of asynchronous operations, keeping the
// bridge inside its wait loops for a while.
func WithLatency(latency time.Duration) Option {
	return func(m *MemFlash) {
		m.latency = latency
	}
}

// MemFlash simulates an asynchronous NOR flash controller in memory.
// Program only clears bits, erase restores whole pages to 0xff. Write and
// erase complete on a separate goroutine which reports through the event
// handler after the busy flag has been dropped, reproducing the ordering of
// the real controller.
type MemFlash struct {
	pageSize uint32
	latency  time.Duration

	mu       sync.Mutex
	window   flash.Window
	handler  flash.EventHandler
	data     []byte
	failNext flash.Status

	busy atomic.Bool
}

// New returns new memflash.
func New(opts ...Option) *MemFlash {
	m := &MemFlash{
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init allocates the storage region for the window and registers the
// completion handler. The fresh region is fully erased.
func (m *MemFlash) Init(window flash.Window, handler flash.EventHandler) flash.Status {
	if window.End <= window.Start || window.Size()%m.pageSize != 0 {
		return flash.StatusInvalidAddr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.window = window
	m.handler = handler
	m.data = make([]byte, window.Size())
	for i := range m.data {
		m.data[i] = 0xff
	}
	return flash.StatusSuccess
}

// Read copies len(p) bytes starting at addr into p. It completes before
// returning.
func (m *MemFlash) Read(addr uint32, p []byte) flash.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return flash.StatusInternal
	}
	if !m.window.Contains(addr, uint32(len(p))) {
		return flash.StatusInvalidAddr
	}
	copy(p, m.data[addr-m.window.Start:])
	return flash.StatusSuccess
}

// Write starts an asynchronous program of len(p) bytes at addr.
func (m *MemFlash) Write(addr uint32, p []byte) flash.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return flash.StatusInternal
	}
	if len(p) == 0 {
		return flash.StatusInvalidLength
	}
	if !m.window.Contains(addr, uint32(len(p))) {
		return flash.StatusInvalidAddr
	}
	if !m.busy.CompareAndSwap(false, true) {
		return flash.StatusBusy
	}

	buf := append([]byte{}, p...)
	go m.complete(flash.OpWrite, addr, uint32(len(buf)), func(off uint32) {
		for i, b := range buf {
			m.data[off+uint32(i)] &= b
		}
	})
	return flash.StatusSuccess
}

// Erase starts an asynchronous erase of pageCount pages beginning at addr,
// which must be page-aligned.
func (m *MemFlash) Erase(addr uint32, pageCount uint32) flash.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return flash.StatusInternal
	}
	if pageCount == 0 {
		return flash.StatusInvalidLength
	}
	length := pageCount * m.pageSize
	if (addr-m.window.Start)%m.pageSize != 0 || !m.window.Contains(addr, length) {
		return flash.StatusInvalidAddr
	}
	if !m.busy.CompareAndSwap(false, true) {
		return flash.StatusBusy
	}

	go m.complete(flash.OpErase, addr, length, func(off uint32) {
		for i := uint32(0); i < length; i++ {
			m.data[off+i] = 0xff
		}
	})
	return flash.StatusSuccess
}

// IsBusy reports whether an asynchronous operation is in progress.
func (m *MemFlash) IsBusy() bool {
	return m.busy.Load()
}

// FailNext makes the next asynchronous operation complete with the given
// status without touching the storage region.
func (m *MemFlash) FailNext(st flash.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = st
}

// PageSize returns the erase unit size.
func (m *MemFlash) PageSize() uint32 {
	return m.pageSize
}

// Bytes returns a copy of the addressed region, for test assertions.
func (m *MemFlash) Bytes(addr, length uint32) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := make([]byte, length)
	copy(p, m.data[addr-m.window.Start:])
	return p
}

func (m *MemFlash) complete(op flash.Operation, addr, length uint32, apply func(off uint32)) {
	if m.latency > 0 {
		time.Sleep(m.latency)
	}

	m.mu.Lock()
	result := m.failNext
	m.failNext = flash.StatusSuccess
	if result == flash.StatusSuccess {
		apply(addr - m.window.Start)
	}
	handler := m.handler
	m.mu.Unlock()

	// The real controller drops the busy flag before the completion event
	// fires. The bridge depends on waiting for both in order.
	m.busy.Store(false)

	if handler != nil {
		handler(flash.Event{Op: op, Addr: addr, Length: length, Result: result})
	}
}
