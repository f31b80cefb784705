/*Package calib sweeps a control voltage across a range, measures the laser
frequency at each step and fits a polynomial frequency = f(voltage) through
the result, producing a lut.LookupTable.

The sweep is open loop: set the voltage, wait a fixed settling time, read the
frequency once.  A step where the frequency reader has no valid reading is
recorded as 0 by default and the sweep continues; set Sweep.Strict to abort
instead.  Any communication fault aborts the sweep with a *DeviceFault that
carries the points recorded so far.
*/
package calib

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bragglab/braggcal/bench"
	"github.com/bragglab/braggcal/lut"
	"github.com/bragglab/braggcal/mathx"
)

// Point is one step of a sweep
type Point struct {
	Voltage   float64 `json:"voltage"`
	Frequency float64 `json:"frequency"`

	// Valid is false when the reader returned no reading and Frequency
	// holds the substituted zero
	Valid bool `json:"valid"`
}

// Sweep holds the parameters of a calibration sweep
type Sweep struct {
	// VoltageMin is the first setpoint, in volts
	VoltageMin float64 `koanf:"VoltageMin" yaml:"VoltageMin"`

	// VoltageMax is the last setpoint, in volts
	VoltageMax float64 `koanf:"VoltageMax" yaml:"VoltageMax"`

	// NumSteps is the number of setpoints, inclusive of both ends
	NumSteps int `koanf:"NumSteps" yaml:"NumSteps"`

	// WaitTime is how long to let the laser settle after each voltage change
	WaitTime time.Duration `koanf:"WaitTime" yaml:"WaitTime"`

	// PolyOrder is the degree of the fitted polynomial
	PolyOrder int `koanf:"PolyOrder" yaml:"PolyOrder"`

	// Channel is the frequency reader channel to measure on
	Channel int `koanf:"Channel" yaml:"Channel"`

	// Strict aborts the sweep on a missing reading instead of recording 0
	Strict bool `koanf:"Strict" yaml:"Strict"`
}

// DefaultSweep is the sweep used on the bench: -5 to 2.5 V in 0.25 V steps
// with a cubic fit
func DefaultSweep() Sweep {
	return Sweep{
		VoltageMin: -5,
		VoltageMax: 2.5,
		NumSteps:   31,
		WaitTime:   time.Second,
		PolyOrder:  3,
	}
}

// Validate checks the sweep parameters without touching hardware
func (s Sweep) Validate() error {
	if s.NumSteps < 2 {
		return errors.Wrapf(ErrInvalidArgument, "NumSteps must be >= 2, got %d", s.NumSteps)
	}
	if math.IsNaN(s.VoltageMin) || math.IsInf(s.VoltageMin, 0) || math.IsNaN(s.VoltageMax) || math.IsInf(s.VoltageMax, 0) {
		return errors.Wrapf(ErrInvalidRange, "voltage range [%g, %g] must be finite", s.VoltageMin, s.VoltageMax)
	}
	if !(s.VoltageMin < s.VoltageMax) {
		return errors.Wrapf(ErrInvalidRange, "VoltageMin %g must be below VoltageMax %g", s.VoltageMin, s.VoltageMax)
	}
	if s.WaitTime < 0 {
		return errors.Wrapf(ErrInvalidArgument, "WaitTime must be >= 0, got %v", s.WaitTime)
	}
	if s.PolyOrder < 0 {
		return errors.Wrapf(ErrInvalidArgument, "PolyOrder must be >= 0, got %d", s.PolyOrder)
	}
	if s.PolyOrder >= s.NumSteps {
		return errors.Wrapf(ErrInsufficientData, "order %d fit needs more than %d steps", s.PolyOrder, s.NumSteps)
	}
	if s.Channel < 0 {
		return errors.Wrapf(ErrInvalidArgument, "Channel must be >= 0, got %d", s.Channel)
	}
	return nil
}

// Setpoints returns the voltages the sweep will visit, in order
func (s Sweep) Setpoints() []float64 {
	return mathx.Linspace(s.VoltageMin, s.VoltageMax, s.NumSteps)
}

// Calibrator runs sweeps against an actuator and a frequency reader
type Calibrator struct {
	Actuator bench.Actuator
	Reader   bench.FrequencyReader

	// Observer, if not nil, is called after every recorded point
	Observer func(step int, p Point)
}

// New returns a Calibrator driving act and reading from rdr
func New(act bench.Actuator, rdr bench.FrequencyReader) *Calibrator {
	return &Calibrator{Actuator: act, Reader: rdr}
}

// Run performs the sweep and fits the result.  The context is checked between
// steps and during each settling wait; cancellation aborts with a *DeviceFault
// like any other fault.
func (c *Calibrator) Run(ctx context.Context, s Sweep) (lut.LookupTable, error) {
	if err := s.Validate(); err != nil {
		return lut.LookupTable{}, err
	}
	points, err := c.Collect(ctx, s)
	if err != nil {
		return lut.LookupTable{}, err
	}
	return Fit(points, s.PolyOrder)
}

// Collect performs the sweep without fitting
func (c *Calibrator) Collect(ctx context.Context, s Sweep) ([]Point, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	voltages := s.Setpoints()
	points := make([]Point, 0, len(voltages))
	fault := func(step int, v float64, err error) error {
		return &DeviceFault{Step: step, Voltage: v, Partial: points, Err: err}
	}

	for i, v := range voltages {
		if err := ctx.Err(); err != nil {
			return points, fault(i, v, err)
		}
		if err := c.Actuator.SetVoltage(v); err != nil {
			return points, fault(i, v, errors.Wrap(err, "setting voltage"))
		}
		if err := settle(ctx, s.WaitTime); err != nil {
			return points, fault(i, v, err)
		}
		f, ok, err := c.Reader.ReadFrequency(s.Channel)
		if err != nil {
			return points, fault(i, v, errors.Wrap(err, "reading frequency"))
		}
		if !ok {
			if s.Strict {
				return points, fault(i, v, ErrMissingSample)
			}
			logrus.WithFields(logrus.Fields{"step": i, "voltage": v}).Warn("no valid frequency reading, recording 0")
			f = 0
		}
		p := Point{Voltage: v, Frequency: f, Valid: ok}
		points = append(points, p)
		logrus.WithFields(logrus.Fields{"step": i, "voltage": v, "frequency": f}).Debug("calibration point")
		if c.Observer != nil {
			c.Observer(i, p)
		}
	}
	return points, nil
}

// Fit builds a lookup table from sweep points with a least-squares polynomial
// of the given order
func Fit(points []Point, order int) (lut.LookupTable, error) {
	v := make([]float64, len(points))
	f := make([]float64, len(points))
	for i, p := range points {
		v[i] = p.Voltage
		f[i] = p.Frequency
	}
	coeffs, err := mathx.Polyfit(v, f, order)
	if err != nil {
		return lut.LookupTable{}, err
	}
	t, err := lut.New(v, f, coeffs)
	if err != nil {
		return lut.LookupTable{}, err
	}
	logrus.WithFields(logrus.Fields{"points": len(points), "order": order, "coeffs": coeffs}).Info("calibration fit complete")
	return t, nil
}

// RunSweep is shorthand for New(act, rdr).Run(ctx, s)
func RunSweep(ctx context.Context, act bench.Actuator, rdr bench.FrequencyReader, s Sweep) (lut.LookupTable, error) {
	return New(act, rdr).Run(ctx, s)
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
