/*Package detune sets the laser to a requested detuning from an absolute
reference frequency by inverting the calibration fit held in a lookup table.

A linear fit is inverted analytically.  Higher orders are inverted by finding
every root of fit(v) - target; of the real roots, the one with the smallest
magnitude inside the actuator range [MinVoltage, MaxVoltage] wins, and if none
is in range the smallest-magnitude real root overall is used.  Preferring the
root nearest 0 V keeps the actuation as gentle as possible.
*/
package detune

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

const (
	// MinVoltage is the low end of the physically valid actuation range
	MinVoltage = -5.

	// MaxVoltage is the high end of the physically valid actuation range
	MaxVoltage = 5.

	// DefaultReference is the absolute reference frequency in GHz used on the bench
	DefaultReference = 384229.0
)

var (
	// ErrDegenerateFit is generated when the fit has no dependence on voltage
	ErrDegenerateFit = errors.New("degenerate calibration fit")

	// ErrNoRealSolution is generated when no real voltage reaches the target frequency
	ErrNoRealSolution = errors.New("no real voltage solution for target frequency")

	// ErrNoReading is generated by Verify when the frequency reader has no valid reading
	ErrNoReading = errors.New("no valid frequency reading")

	// ErrNonFinite is generated when a target or fit coefficient is NaN or infinite
	ErrNonFinite = errors.New("non-finite value")
)

// IsFinite is true when f is neither NaN nor infinite
func IsFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Request is a detuning (GHz, signed) from an absolute reference frequency (GHz)
type Request struct {
	Detuning           float64 `json:"detuning"`
	ReferenceFrequency float64 `json:"reference_frequency"`
}

// Target is the absolute frequency the request asks for
func (r Request) Target() float64 {
	return r.ReferenceFrequency + r.Detuning
}

// SolveVoltage returns the control voltage at which the table's fit reaches
// target.  It does not touch hardware.
//
// An order 0 fit has no roots at all and fails with ErrNoRealSolution; only a
// linear fit with zero slope is ErrDegenerateFit.
func SolveVoltage(t lut.LookupTable, target float64) (float64, error) {
	if !IsFinite(target) {
		return 0, errors.Wrapf(ErrNonFinite, "target frequency %g", target)
	}
	coeffs := t.PolyCoeffs()
	for i, c := range coeffs {
		if !IsFinite(c) {
			return 0, errors.Wrapf(ErrNonFinite, "fit coefficient %d is %g", i, c)
		}
	}
	switch len(coeffs) {
	case 0:
		return 0, errors.Wrap(ErrDegenerateFit, "lookup table has no coefficients")
	case 1:
		return 0, errors.Wrapf(ErrNoRealSolution, "order 0 fit (constant %g GHz) never reaches %g GHz", coeffs[0], target)
	case 2:
		a, b := coeffs[0], coeffs[1]
		if a == 0 {
			return 0, errors.Wrapf(ErrDegenerateFit, "linear fit has zero slope (intercept %g)", b)
		}
		return (target - b) / a, nil
	}

	coeffs[len(coeffs)-1] -= target
	roots, err := mathx.Roots(coeffs)
	if err != nil {
		return 0, errors.Wrapf(err, "finding roots for target %g", target)
	}
	reals := mathx.RealRoots(roots)
	if len(reals) == 0 {
		return 0, errors.Wrapf(ErrNoRealSolution, "target %g GHz", target)
	}
	v, ok := pickRoot(reals)
	logrus.WithFields(logrus.Fields{"target": target, "roots": roots, "voltage": v, "inRange": ok}).Debug("inverted calibration fit")
	return v, nil
}

// pickRoot chooses the smallest-magnitude root in [MinVoltage, MaxVoltage],
// falling back to the smallest-magnitude root overall.  ok reports whether the
// choice was in range.  roots must not be empty.
func pickRoot(roots []float64) (v float64, ok bool) {
	best, bestIn := math.Inf(1), math.Inf(1)
	var vAll, vIn float64
	for _, r := range roots {
		a := math.Abs(r)
		if a < best {
			best, vAll = a, r
		}
		if r >= MinVoltage && r <= MaxVoltage && a < bestIn {
			bestIn, vIn = a, r
			ok = true
		}
	}
	if ok {
		return vIn, true
	}
	return vAll, false
}

// ApplyDetuning solves for the voltage that reaches req.Target() and applies
// it.  It returns the voltage and the target frequency.  It does not verify
// the result; see Verify.
func ApplyDetuning(act bench.Actuator, req Request, t lut.LookupTable) (voltage, target float64, err error) {
	target = req.Target()
	voltage, err = SolveVoltage(t, target)
	if err != nil {
		return 0, target, err
	}
	logrus.WithFields(logrus.Fields{
		"detuning": req.Detuning,
		"target":   target,
		"voltage":  voltage,
	}).Info("setting target frequency")
	if err = act.SetVoltage(voltage); err != nil {
		return voltage, target, errors.Wrapf(err, "applying %.4f V", voltage)
	}
	return voltage, target, nil
}

// Verification compares a fresh measurement against the target
type Verification struct {
	Target   float64 `json:"target"`
	Measured float64 `json:"measured"`

	// ErrorMHz is (Target - Measured) in MHz
	ErrorMHz float64 `json:"error_mhz"`
}

// Verify reads the frequency once and reports the signed error from target
func Verify(rdr bench.FrequencyReader, channel int, target float64) (Verification, error) {
	f, ok, err := rdr.ReadFrequency(channel)
	if err != nil {
		return Verification{Target: target}, errors.Wrap(err, "verifying frequency")
	}
	if !ok {
		return Verification{Target: target}, errors.Wrapf(ErrNoReading, "channel %d", channel)
	}
	return Verification{Target: target, Measured: f, ErrorMHz: (target - f) * 1000}, nil
}

// Result is the outcome of Tune
type Result struct {
	Detuning float64 `json:"detuning"`
	Voltage  float64 `json:"voltage"`
	Verification
}

// Tune applies req, lets the laser settle for settle, and verifies the
// frequency on channel.  If the voltage was applied but verification failed,
// the returned Result still carries the voltage and target.
func Tune(ctx context.Context, act bench.Actuator, rdr bench.FrequencyReader, req Request, t lut.LookupTable, channel int, settle time.Duration) (Result, error) {
	res := Result{Detuning: req.Detuning}
	v, target, err := ApplyDetuning(act, req, t)
	res.Voltage, res.Target = v, target
	if err != nil {
		return res, err
	}
	timer := time.NewTimer(settle)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return res, ctx.Err()
	case <-timer.C:
	}
	ver, err := Verify(rdr, channel, target)
	if err != nil {
		return res, err
	}
	res.Verification = ver
	logrus.WithFields(logrus.Fields{
		"target":   ver.Target,
		"measured": ver.Measured,
		"errorMHz": ver.ErrorMHz,
	}).Info("verified frequency")
	return res, nil
}
