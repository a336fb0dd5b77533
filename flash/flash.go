package flash

// Status is the result code space of the flash controller. The success code
// is zero, failures are positive. Negative values never leave a controller;
// they are reserved for internal sentinels of layers above.
type Status int32

// Controller status codes.
const (
	StatusSuccess Status = iota
	StatusInternal
	StatusBusy
	StatusInvalidAddr
	StatusInvalidLength
	StatusNoMem
	StatusTimeout
)

var statusNames = map[Status]string{
	StatusSuccess:       "success",
	StatusInternal:      "internal error",
	StatusBusy:          "busy",
	StatusInvalidAddr:   "invalid address",
	StatusInvalidLength: "invalid length",
	StatusNoMem:         "out of memory",
	StatusTimeout:       "timeout",
}

func (s Status) String() string {
	if name, exists := statusNames[s]; exists {
		return name
	}
	return "unknown status"
}

// Operation identifies the kind of flash operation an event reports on.
type Operation byte

// Operations reported by controllers.
const (
	OpWrite Operation = iota
	OpErase
)

// Event is delivered by the controller once an asynchronous operation
// completes. It may be delivered from any goroutine, including one different
// from the one which issued the operation.
type Event struct {
	Op     Operation
	Addr   uint32
	Length uint32
	Result Status
}

// EventHandler receives completion events. Exactly one event is delivered
// per asynchronous operation.
type EventHandler func(Event)

// Controller is the interface required from the asynchronous flash driver.
// Write and Erase either reject the request with a non-success status or
// start an operation whose outcome arrives through the registered handler.
// Read completes before returning, IsBusy is the completion guard for it.
type Controller interface {
	Init(window Window, handler EventHandler) Status
	Read(addr uint32, p []byte) Status
	Write(addr uint32, p []byte) Status
	Erase(addr uint32, pageCount uint32) Status
	IsBusy() bool
}

// Default storage window, matching the region reserved at the top of a
// 256 KiB flash bank.
const (
	DefaultStartAddr uint32 = 0x3e000
	DefaultEndAddr   uint32 = 0x3ffff
)

// Window is the contiguous flash address range reserved for the filesystem.
// Both bounds are inclusive. Configured once, never mutated.
type Window struct {
	Start uint32
	End   uint32
}

// DefaultWindow returns the default storage window.
func DefaultWindow() Window {
	return Window{Start: DefaultStartAddr, End: DefaultEndAddr}
}

// Size returns the byte size of the window.
func (w Window) Size() uint32 {
	return w.End - w.Start + 1
}

// Contains reports whether the range [addr, addr+length) lies inside the
// window.
func (w Window) Contains(addr, length uint32) bool {
	if addr < w.Start || addr > w.End {
		return false
	}
	return uint64(addr)+uint64(length) <= uint64(w.End)+1
}
