package pcienpu

import "fmt"

// ErrorCodes are the failure classes reported by the register protocol
type ErrorCodes int

// error code values returned by the Session and Loop.  Construction failures
// (ErrDeviceUnavailable, ErrMappingFailed, ErrByteOrder) are terminal, the
// others are reported per operation and can be recovered from by moving on to
// the next frame
const (
	ErrDeviceUnavailable ErrorCodes = iota + 1
	ErrMappingFailed
	ErrTransferFailed
	ErrCaptureFailed
	ErrBufferTooLarge
	ErrSessionClosed
	ErrByteOrder
)

// String returns a readable description of the error code
func (e ErrorCodes) String() string {
	switch e {
	case ErrDeviceUnavailable:
		return "device is unavailable"
	case ErrMappingFailed:
		return "mapping of device register window failed"
	case ErrTransferFailed:
		return "register transfer failed"
	case ErrCaptureFailed:
		return "frame capture failed"
	case ErrBufferTooLarge:
		return "buffer exceeds register window capacity"
	case ErrSessionClosed:
		return "session is closed"
	case ErrByteOrder:
		return "host byte order is not little endian"
	default:
		return fmt.Sprintf("unknown error code %d", int(e))
	}
}

// Error lets an ErrorCodes value be returned and matched with errors.Is
func (e ErrorCodes) Error() string {
	return e.String()
}
