// Package errs defines the semantic error taxonomy the FAT32 engine reports
// to its callers. Each sentinel wraps the nearest POSIX errno so the engine's
// errors slot into the same DriverError shape users of block-device file
// system drivers already expect.
package errs

import (
	"fmt"
	"syscall"
)

// DriverError is a wrapper around a system errno code with a customizable
// error message.
type DriverError struct {
	ErrnoCode syscall.Errno
	message   string
}

// Error implements the error interface.
func (e DriverError) Error() string {
	if e.message != "" {
		return e.message
	}
	return e.ErrnoCode.Error()
}

// Errno returns the underlying POSIX error code.
func (e DriverError) Errno() syscall.Errno {
	return e.ErrnoCode
}

// Is reports whether target is a DriverError with the same errno, so callers
// can use errors.Is(err, errs.New(errs.VolumeFull)) instead of comparing structs.
func (e DriverError) Is(target error) bool {
	other, ok := target.(DriverError)
	if !ok {
		return false
	}
	return e.ErrnoCode == other.ErrnoCode
}

// New creates a DriverError with a default message derived from the errno.
func New(code syscall.Errno) DriverError {
	return DriverError{ErrnoCode: code, message: code.Error()}
}

// Newf creates a DriverError from an errno with a custom formatted message.
func Newf(code syscall.Errno, format string, args ...any) DriverError {
	return DriverError{ErrnoCode: code, message: fmt.Sprintf(format, args...)}
}

// Wrap annotates an existing error with an errno, keeping the original text.
func Wrap(code syscall.Errno, err error) DriverError {
	return DriverError{ErrnoCode: code, message: fmt.Sprintf("%s: %s", code.Error(), err.Error())}
}

// WrapIfError wraps err as a TransportError if non-nil, or returns nil.
// Convenience for the many transport calls that report failure out-of-band
// via Status() rather than a direct return value.
func WrapIfError(err error) error {
	if err == nil {
		return nil
	}
	return Wrap(TransportError, err)
}

// The semantic kinds named in spec §7. END_OF_CHAIN and END_OF_DIRECTORY have
// no kind of their own: they are package-private DriverErrors in fat32
// (errEndOfChain, errEndOfDirectory, built with Invalid) used as internal
// control-flow signals and compared by identity (see directory.go and
// table.go).
const (
	// DeviceError: boot/FSInfo signatures invalid, sector size unsupported.
	DeviceError = syscall.ENODEV
	// TransportError: the transport reported failure on read, write,
	// position, or status.
	TransportError = syscall.EIO
	// EntryMissing: followed a path/name that does not exist.
	EntryMissing = syscall.ENOENT
	// EntryExists: attempted to create a name that collides.
	EntryExists = syscall.EEXIST
	// DirectoryNotEmpty: remove of a non-empty directory.
	DirectoryNotEmpty = syscall.ENOTEMPTY
	// AccessDenied: write to a read-only node or read-only parent.
	AccessDenied = syscall.EACCES
	// BadValue: malformed arguments.
	BadValue = syscall.EINVAL
	// VolumeFull: table scan wrapped without finding a free cluster.
	VolumeFull = syscall.ENOSPC
	// AllocFailed: pool exhausted.
	AllocFailed = syscall.ENOMEM
	// Invalid: operation not applicable in this context. Distinct errno from
	// BadValue so errors.Is can tell the two taxonomy kinds apart.
	Invalid = syscall.ENOTSUP
)

var (
	ErrDeviceError       = New(DeviceError)
	ErrTransportError    = New(TransportError)
	ErrEntryMissing      = New(EntryMissing)
	ErrEntryExists       = New(EntryExists)
	ErrDirectoryNotEmpty = New(DirectoryNotEmpty)
	ErrAccessDenied      = New(AccessDenied)
	ErrBadValue          = New(BadValue)
	ErrVolumeFull        = New(VolumeFull)
	ErrAllocFailed       = New(AllocFailed)
	ErrInvalid           = New(Invalid)
)
