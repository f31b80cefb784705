package calib

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/bragglab/braggcal/mathx"
)

var (
	// ErrInvalidArgument is generated for sweep parameters that can never work,
	// e.g. fewer than two steps or a negative settling time
	ErrInvalidArgument = errors.New("invalid sweep argument")

	// ErrInvalidRange is generated when the sweep start is not below its end
	ErrInvalidRange = errors.New("invalid sweep range")

	// ErrInsufficientData is generated when the sweep has too few points for the
	// requested polynomial order
	ErrInsufficientData = mathx.ErrInsufficientData

	// ErrDeviceFault is matched by every *DeviceFault via errors.Is
	ErrDeviceFault = errors.New("device fault during sweep")

	// ErrMissingSample is the cause of a strict-mode DeviceFault when the
	// frequency reader returns no valid reading
	ErrMissingSample = errors.New("no valid frequency reading")
)

// DeviceFault is returned when a sweep is aborted part way through.  It keeps
// the points recorded before the failing step so the caller can inspect or
// salvage them.
type DeviceFault struct {
	// Step is the zero-based index of the step that failed
	Step int

	// Voltage is the setpoint of the failing step
	Voltage float64

	// Partial holds the points recorded before Step, in sweep order
	Partial []Point

	// Err is the underlying cause
	Err error
}

// Error satisfies the error interface
func (e *DeviceFault) Error() string {
	return fmt.Sprintf("sweep aborted at step %d (%.4f V) with %d points recorded: %v", e.Step, e.Voltage, len(e.Partial), e.Err)
}

// Unwrap exposes the cause to errors.Is and errors.As
func (e *DeviceFault) Unwrap() error {
	return e.Err
}

// Is makes every DeviceFault match ErrDeviceFault
func (e *DeviceFault) Is(target error) bool {
	return target == ErrDeviceFault
}
