package flint

import (
	"github.com/outofforest/flint/blockdev"
	"github.com/outofforest/flint/flash"
)

// erasePageCount is the number of erase units removed per erase call. The
// filesystem erases one block at a time and the block size is configured to
// match the erase unit.
const erasePageCount = 1

// addrOf translates a block index and intra-block offset into an absolute
// flash address. Out-of-range indices are the filesystem's responsibility
// to avoid.
func (d *Device) addrOf(block, off uint32) uint32 {
	return d.window.Start + block*d.cfg.BlockSize + off
}

// errCode maps a controller status into the signed error space of the block
// device contract: success becomes ErrOK, anything else its negation.
func errCode(st flash.Status) int {
	if st != flash.StatusSuccess {
		return -int(st)
	}
	return blockdev.ErrOK
}

// Read reads len(p) bytes from the given block and offset. Reads complete
// before the controller returns, the busy poll is only a completion guard.
func (d *Device) Read(block, off uint32, p []byte) int {
	if st := d.ctrl.Read(d.addrOf(block, off), p); st != flash.StatusSuccess {
		return errCode(st)
	}
	return errCode(d.waitIdle())
}

// Prog programs previously erased flash at the given block and offset. The
// controller may report idle before the completion event carrying the real
// outcome fires, so the busy poll is followed by a wait on the result slot.
func (d *Device) Prog(block, off uint32, p []byte) int {
	if !d.inFlight.CompareAndSwap(false, true) {
		return errCode(flash.StatusBusy)
	}
	if st := d.ctrl.Write(d.addrOf(block, off), p); st != flash.StatusSuccess {
		d.inFlight.Store(false)
		return errCode(st)
	}
	if st := d.waitIdle(); st != flash.StatusSuccess {
		return errCode(st)
	}
	return errCode(d.waitResult())
}

// Erase erases one whole block, always exactly one erase unit.
func (d *Device) Erase(block uint32) int {
	if !d.inFlight.CompareAndSwap(false, true) {
		return errCode(flash.StatusBusy)
	}
	if st := d.ctrl.Erase(d.addrOf(block, 0), erasePageCount); st != flash.StatusSuccess {
		d.inFlight.Store(false)
		return errCode(st)
	}
	if st := d.waitIdle(); st != flash.StatusSuccess {
		return errCode(st)
	}
	return errCode(d.waitResult())
}

// Sync reports success without touching the controller. Writes are durable
// once their completion event has fired, there is nothing left to flush.
func (d *Device) Sync() int {
	return blockdev.ErrOK
}
