// Package blockio defines the abstract block transport the FAT32 engine
// consumes, and a reference in-memory implementation used by tests.
//
// The engine itself never knows whether the transport is a file, a memory
// buffer, or a real block device; it only ever calls through this interface,
// bracketing every transfer with Acquire/Release so that concurrent callers
// serialize on the same underlying resource (spec §5).
package blockio

// Transport is the storage collaborator the FAT32 engine is built on top of.
// All addressing is in bytes; the engine only ever asks for transfers whose
// length is a multiple of the sector size.
//
// Acquire must be held across SetPosition+Read or SetPosition+Write so that
// two goroutines sharing a Transport can't interleave their seeks.
type Transport interface {
	// Acquire serializes access to the transport. It must be called before
	// SetPosition/Read/Write/Status and released with Release once the
	// logical transfer is complete.
	Acquire()
	// Release ends a critical section started by Acquire.
	Release()

	// SetPosition moves the transport's cursor to a byte offset from the
	// start of the device.
	SetPosition(offset int64) error
	// Read fills buf from the current position and advances the cursor by
	// len(buf) bytes.
	Read(buf []byte) (int, error)
	// Write writes buf at the current position and advances the cursor by
	// len(buf) bytes.
	Write(buf []byte) (int, error)
	// Status reports the health of the transport, for post-read error
	// detection when a short read doesn't itself return an error.
	Status() error
}
