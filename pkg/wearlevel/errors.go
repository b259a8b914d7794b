package wearlevel

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBlockID is returned for ids outside the table. It is always
	// a caller bug and is never retried.
	ErrInvalidBlockID = errors.New("invalid block id")

	// ErrInvalidStateTransition is returned when a block is not in the state
	// an operation requires, or when a stale handle is used.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrAllocationExhausted means no eligible Free block exists. Callers
	// can run maintenance and retry.
	ErrAllocationExhausted = errors.New("allocation exhausted")

	// ErrNoTargetAvailable means a relocation found no destination block.
	// Both blocks are left unchanged and the move is retried next cycle.
	ErrNoTargetAvailable = errors.New("no relocation target available")

	// ErrRelocationNotNeeded means the source block does not meet the
	// relocation preconditions.
	ErrRelocationNotNeeded = errors.New("relocation not needed")

	// ErrDeviceDegraded is the warning surfaced through Stats when the bad
	// block ratio exceeds the policy maximum.
	ErrDeviceDegraded = errors.New("device degraded")

	// ErrSizeTooLarge is returned by Allocate when the requested size does
	// not fit in one erase block.
	ErrSizeTooLarge = errors.New("requested size exceeds block size")

	// ErrInvalidSize is returned by Allocate for a negative size.
	ErrInvalidSize = errors.New("requested size is negative")

	// ErrMaintenanceRunning is returned when Maintain is called while
	// another maintenance pass is in progress.
	ErrMaintenanceRunning = errors.New("maintenance already running")

	// ErrCounterRegression is returned when an update would decrease a wear
	// counter.
	ErrCounterRegression = errors.New("wear counters cannot decrease")

	// ErrInvalidSnapshot is returned by Restore for inconsistent snapshots.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)

// DeviceError wraps a failure reported by the Device.
type DeviceError struct {
	Op    string // erase, program, read, verify
	Block uint32
	Err   error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s on block %d: %v", e.Op, e.Block, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Reason maps the failed operation to the retirement reason recorded for
// the block.
func (e *DeviceError) Reason() string {
	switch e.Op {
	case "erase":
		return ReasonEraseFailed
	case "program":
		return ReasonProgramFailed
	case "read":
		return ReasonReadFailed
	default:
		return ReasonVerifyFailed
	}
}

// IsDeviceError reports whether err wraps a *DeviceError.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}

func invalidID(id uint32, size int) error {
	return fmt.Errorf("%w: %d (table has %d blocks)", ErrInvalidBlockID, id, size)
}

func badTransition(id uint32, have, want State) error {
	return fmt.Errorf("%w: block %d is %s, expected %s", ErrInvalidStateTransition, id, have, want)
}
