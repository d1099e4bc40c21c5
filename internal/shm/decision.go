package shm

import "fmt"

// Tag names the caller of the allocator. It selects policy (only TagGetCaps
// gets the minimum clamp) and is recorded in every diagnostic line.
type Tag string

const (
	// TagGetCaps is the capability acquisition path.
	TagGetCaps Tag = "capsvc.getCaps"
	// TagClient allocates client-side regions for memory handed back by the
	// remote service.
	TagClient Tag = "capsvc.client.allocMemory"
	// TagService is the service-side entry point, which receives 32-bit sizes.
	TagService Tag = "capsvc.service.allocMemory"
)

const (
	// CapsMinSize is the transfer descriptor size; capability-path requests
	// below it are raised to it.
	CapsMinSize uint64 = 0x198
	// MaxSize is the hard ceiling for any region.
	MaxSize uint64 = 64 << 20
	// ReservedFloor starts the range of sizes that can only come from
	// negative 32-bit values.
	ReservedFloor uint64 = 0xE0000000

	signExtendedMask uint64 = 0xFFFFFFFF00000000
)

// Outcome is the final result of a sizing decision.
type Outcome string

const (
	OutcomeAllocated Outcome = "allocated"
	OutcomeEmpty     Outcome = "empty"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// Decision records how a raw size was turned into an allocation size.
type Decision struct {
	Tag            Tag
	Raw            uint64
	Fixed          uint64 // after sign-extension repair
	Size           uint64 // after the capability-path clamp
	SignRepaired   bool
	CapsPath       bool
	Clamped        bool
	RejectMax      bool
	RejectReserved bool
	Outcome        Outcome
}

// Plan sanitizes raw for tag. It is pure: the same inputs always give the
// same decision. Outcome is OutcomeAllocated when an allocation should be
// attempted; the allocator downgrades it to OutcomeFailed if the backend fails.
func Plan(raw uint64, tag Tag) Decision {
	d := Decision{Tag: tag, Raw: raw, Fixed: raw}

	if raw&signExtendedMask == signExtendedMask {
		d.Fixed = uint64(uint32(raw))
		d.SignRepaired = true
	}

	d.Size = d.Fixed
	d.CapsPath = tag == TagGetCaps
	if d.CapsPath && d.Size < CapsMinSize {
		d.Size = CapsMinSize
		d.Clamped = true
	}

	d.RejectMax = d.Size > MaxSize
	d.RejectReserved = d.Size >= ReservedFloor

	switch {
	case d.RejectMax || d.RejectReserved:
		d.Outcome = OutcomeRejected
	case d.Size == 0:
		d.Outcome = OutcomeEmpty
	default:
		d.Outcome = OutcomeAllocated
	}
	return d
}

// Rejected reports whether the size policy refused the request.
func (d Decision) Rejected() bool {
	return d.RejectMax || d.RejectReserved
}

// Branches lists every branch that fired, in evaluation order, ending with
// the outcome. These are the labels used for metrics.
func (d Decision) Branches() []string {
	branches := make([]string, 0, 5)
	if d.SignRepaired {
		branches = append(branches, "sign_repair")
	}
	if d.Clamped {
		branches = append(branches, "clamp_min")
	}
	if d.RejectMax {
		branches = append(branches, "reject_max")
	}
	if d.RejectReserved {
		branches = append(branches, "reject_reserved")
	}
	return append(branches, string(d.Outcome))
}

func (d Decision) String() string {
	return fmt.Sprintf("%s raw=0x%x fixed=0x%x size=%d outcome=%s",
		d.Tag, d.Raw, d.Fixed, d.Size, d.Outcome)
}
