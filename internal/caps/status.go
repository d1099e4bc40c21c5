package caps

import "fmt"

// Status is the integer result code shared by the capability object, the
// remote service and the acquisition protocol. Negative values are errors.
type Status int32

const (
	// StatusOK is success.
	StatusOK Status = 0
	// StatusNotReady is returned when the service connection is absent or
	// owned by another process. It shares the value 0 with StatusOK; callers
	// treat it as "retry later".
	StatusNotReady Status = 0
	// StatusInvalidArgument is returned for a nil capability object.
	StatusInvalidArgument Status = -0x67
	// StatusNotSupported is the remote "not supported / unavailable"
	// sentinel. It is always propagated verbatim.
	StatusNotSupported Status = -0x6e
	// StatusFailed is the single generic failure code for allocation and
	// remote protocol failures.
	StatusFailed Status = -0x6f

	// Platform codes surfaced by capability objects and the transport.
	StatusNoMemory   Status = -12
	StatusBadValue   Status = -22
	StatusDeadObject Status = -32
)

// Failed reports whether s is an error status.
func (s Status) Failed() bool {
	return s < 0
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidArgument:
		return "INVALID_ARGUMENT"
	case StatusNotSupported:
		return "NOT_SUPPORTED"
	case StatusFailed:
		return "FAILED"
	case StatusNoMemory:
		return "NO_MEMORY"
	case StatusBadValue:
		return "BAD_VALUE"
	case StatusDeadObject:
		return "DEAD_OBJECT"
	default:
		return fmt.Sprintf("STATUS(%d)", int32(s))
	}
}
