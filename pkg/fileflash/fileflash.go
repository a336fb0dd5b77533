package fileflash

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/outofforest/photon"
	"github.com/pkg/errors"

	"github.com/outofforest/flint/blockdev"
	"github.com/outofforest/flint/flash"
)

var _ flash.Controller = &FileFlash{}

const (
	// imageMagic identifies a flint flash image file.
	imageMagic uint64 = 0x666c696e74696d67

	// imageVersion is the current header schema version.
	imageVersion uint32 = 1

	crcSeed uint32 = 0xffffffff
)

// ErrNotAnImage is returned when the opened file does not carry the image
// header.
var ErrNotAnImage = errors.New("file is not a flint flash image")

// header describes the flash image stored in the file. It precedes the data
// region.
type header struct {
	Magic    uint64
	Version  uint32
	PageSize uint32
	Start    uint32
	End      uint32
	Checksum uint32
}

func (h *header) computeChecksum() uint32 {
	hc := *h
	hc.Checksum = 0
	return blockdev.CRC(crcSeed, photon.NewFromValue(&hc).B)
}

func headerSize() int64 {
	return int64(len(photon.NewFromValue(&header{}).B))
}

// FileFlash is an asynchronous flash controller backed by an image file.
// Program and erase complete on a separate goroutine which reports through
// the event handler after the busy flag has been dropped.
type FileFlash struct {
	file     *os.File
	window   flash.Window
	pageSize uint32

	mu      sync.Mutex
	handler flash.EventHandler
	ready   bool

	busy atomic.Bool
}

// Create creates a fully erased flash image for the window.
func Create(path string, window flash.Window, pageSize uint32) (*FileFlash, error) {
	if pageSize == 0 || window.End <= window.Start || window.Size()%pageSize != 0 {
		return nil, errors.Errorf("invalid image geometry: window %#x-%#x, page size %d", window.Start, window.End, pageSize)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	h := photon.NewFromValue(&header{
		Magic:    imageMagic,
		Version:  imageVersion,
		PageSize: pageSize,
		Start:    window.Start,
		End:      window.End,
	})
	h.V.Checksum = h.V.computeChecksum()

	if _, err := file.Write(h.B); err != nil {
		return nil, errors.WithStack(err)
	}

	erased := make([]byte, pageSize)
	for i := range erased {
		erased[i] = 0xff
	}
	for written := uint32(0); written < window.Size(); written += pageSize {
		if _, err := file.Write(erased); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	if err := file.Sync(); err != nil {
		return nil, errors.WithStack(err)
	}

	return &FileFlash{
		file:     file,
		window:   window,
		pageSize: pageSize,
	}, nil
}

// Open opens an existing flash image and validates its header.
func Open(path string) (*FileFlash, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	h := photon.NewFromBytes[header](make([]byte, headerSize()))
	if _, err := file.ReadAt(h.B, 0); err != nil {
		return nil, errors.WithStack(ErrNotAnImage)
	}
	if h.V.Magic != imageMagic {
		return nil, errors.WithStack(ErrNotAnImage)
	}
	if h.V.Version != imageVersion {
		return nil, errors.Errorf("unsupported image version: %d", h.V.Version)
	}
	if h.V.Checksum != h.V.computeChecksum() {
		return nil, errors.New("image header checksum mismatch")
	}

	window := flash.Window{Start: h.V.Start, End: h.V.End}
	if h.V.PageSize == 0 || window.End <= window.Start || window.Size()%h.V.PageSize != 0 {
		return nil, errors.Errorf("corrupted image geometry: window %#x-%#x, page size %d", window.Start, window.End, h.V.PageSize)
	}

	info, err := file.Stat()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if info.Size() != headerSize()+int64(window.Size()) {
		return nil, errors.Errorf("truncated image: %d bytes, expected %d", info.Size(), headerSize()+int64(window.Size()))
	}

	return &FileFlash{
		file:     file,
		window:   window,
		pageSize: h.V.PageSize,
	}, nil
}

// Close closes the underlying file.
func (f *FileFlash) Close() error {
	return errors.WithStack(f.file.Close())
}

// Window returns the storage window recorded in the image header.
func (f *FileFlash) Window() flash.Window {
	return f.window
}

// PageSize returns the erase unit size recorded in the image header.
func (f *FileFlash) PageSize() uint32 {
	return f.pageSize
}

// Init registers the completion handler. The requested window must match
// the one recorded in the image header.
func (f *FileFlash) Init(window flash.Window, handler flash.EventHandler) flash.Status {
	if window != f.window {
		return flash.StatusInvalidAddr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.handler = handler
	f.ready = true
	return flash.StatusSuccess
}

// Read copies len(p) bytes starting at addr into p. It completes before
// returning.
func (f *FileFlash) Read(addr uint32, p []byte) flash.Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.ready {
		return flash.StatusInternal
	}
	if !f.window.Contains(addr, uint32(len(p))) {
		return flash.StatusInvalidAddr
	}
	if _, err := f.file.ReadAt(p, f.offset(addr)); err != nil {
		return flash.StatusInternal
	}
	return flash.StatusSuccess
}

// Write starts an asynchronous program of len(p) bytes at addr. Programming
// only clears bits, like the NOR flash the image stands in for.
func (f *FileFlash) Write(addr uint32, p []byte) flash.Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.ready {
		return flash.StatusInternal
	}
	if len(p) == 0 {
		return flash.StatusInvalidLength
	}
	if !f.window.Contains(addr, uint32(len(p))) {
		return flash.StatusInvalidAddr
	}
	if !f.busy.CompareAndSwap(false, true) {
		return flash.StatusBusy
	}

	buf := append([]byte{}, p...)
	go f.complete(flash.OpWrite, addr, uint32(len(buf)), func() error {
		current := make([]byte, len(buf))
		if _, err := f.file.ReadAt(current, f.offset(addr)); err != nil {
			return err
		}
		for i, b := range buf {
			current[i] &= b
		}
		_, err := f.file.WriteAt(current, f.offset(addr))
		return err
	})
	return flash.StatusSuccess
}

// Erase starts an asynchronous erase of pageCount pages beginning at addr,
// which must be page-aligned.
func (f *FileFlash) Erase(addr uint32, pageCount uint32) flash.Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.ready {
		return flash.StatusInternal
	}
	if pageCount == 0 {
		return flash.StatusInvalidLength
	}
	length := pageCount * f.pageSize
	if (addr-f.window.Start)%f.pageSize != 0 || !f.window.Contains(addr, length) {
		return flash.StatusInvalidAddr
	}
	if !f.busy.CompareAndSwap(false, true) {
		return flash.StatusBusy
	}

	go f.complete(flash.OpErase, addr, length, func() error {
		erased := make([]byte, length)
		for i := range erased {
			erased[i] = 0xff
		}
		_, err := f.file.WriteAt(erased, f.offset(addr))
		return err
	})
	return flash.StatusSuccess
}

// IsBusy reports whether an asynchronous operation is in progress.
func (f *FileFlash) IsBusy() bool {
	return f.busy.Load()
}

func (f *FileFlash) offset(addr uint32) int64 {
	return headerSize() + int64(addr-f.window.Start)
}

func (f *FileFlash) complete(op flash.Operation, addr, length uint32, apply func() error) {
	// Completion latency of the underlying medium is the file I/O itself.
	// A failed apply is reported through the event, not swallowed.
	result := flash.StatusSuccess

	f.mu.Lock()
	if err := apply(); err != nil {
		result = flash.StatusInternal
	} else if err := f.file.Sync(); err != nil {
		result = flash.StatusInternal
	}
	handler := f.handler
	f.mu.Unlock()

	f.busy.Store(false)

	if handler != nil {
		handler(flash.Event{Op: op, Addr: addr, Length: length, Result: result})
	}
}
