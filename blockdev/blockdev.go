package blockdev

// Error codes of the block device contract. Success is zero, failures are
// negative, following the convention of the consuming filesystem library.
const (
	ErrOK      = 0
	ErrIO      = -5
	ErrCorrupt = -84
	ErrInval   = -22
)

// Function slots of the block device contract. Each returns ErrOK or a
// negative error code.
type (
	// ReadFunc reads size bytes into p from the given block and intra-block
	// offset.
	ReadFunc func(block, off uint32, p []byte) int

	// ProgFunc programs previously erased flash at the given block and
	// intra-block offset.
	ProgFunc func(block, off uint32, p []byte) int

	// EraseFunc erases one whole block.
	EraseFunc func(block uint32) int

	// SyncFunc flushes any buffered state of the underlying device.
	SyncFunc func() int
)

// Config is the block device configuration of the filesystem library. The
// geometry is owned by the library, the four function slots are populated by
// the adapter during initialization.
type Config struct {
	// BlockSize is the size of one logical block in bytes.
	BlockSize uint32

	// BlockCount is the number of blocks within the storage window. Zero
	// means the library discovers the count on its own.
	BlockCount uint32

	Read  ReadFunc
	Prog  ProgFunc
	Erase EraseFunc
	Sync  SyncFunc
}
