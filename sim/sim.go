// Package sim provides a simulated calibration bench: a voltage-tuned laser
// whose frequency follows a polynomial of the applied voltage, read back by an
// ideal or noisy wavemeter.  It implements bench.Actuator and
// bench.FrequencyReader and is used for tests and for running the tools with
// Mock enabled.
package sim

import (
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/bragglab/braggcal/mathx"
)

const (
	// OutputLimit is the magnitude the simulated output clamps to, matching the
	// amplified Red Pitaya output
	OutputLimit = 5.
)

// ErrInjected is the fault returned by SetVoltage after FailSetAfter is exhausted
var ErrInjected = errors.New("sim: injected device fault")

// Bench is a simulated laser + signal generator + wavemeter
type Bench struct {
	sync.Mutex
	model      []float64
	noise      float64
	resolution float64
	rng        *rand.Rand
	voltage    float64
	enabled    bool
	history    []float64
	reads      int
	failAfter  int
	readErr    error
	absent     func(v float64) bool
}

// NewBench returns a bench whose frequency is Polyval(coeffs, voltage)
func NewBench(coeffs ...float64) *Bench {
	return &Bench{
		model:     append([]float64(nil), coeffs...),
		rng:       rand.New(rand.NewSource(1)),
		failAfter: -1,
	}
}

// NewMockBench returns a bench modeled on the D2 line laser this software was
// written for: ~384229 GHz at 0 V, roughly 0.2 GHz/V with mild curvature
func NewMockBench() *Bench {
	b := NewBench(-0.0008, 0.0021, 0.2, 384229.05)
	b.SetNoise(0.0005, 1)
	b.SetResolution(1e-4)
	return b
}

// SetNoise adds zero-mean Gaussian noise of standard deviation sigma (GHz) to
// every reading, seeded for reproducibility
func (b *Bench) SetNoise(sigma float64, seed int64) {
	b.Lock()
	defer b.Unlock()
	b.noise = sigma
	b.rng = rand.New(rand.NewSource(seed))
}

// SetResolution quantizes readings to the given step (GHz).  0 disables.
func (b *Bench) SetResolution(res float64) {
	b.Lock()
	defer b.Unlock()
	b.resolution = res
}

// FailSetAfter makes SetVoltage return ErrInjected once n calls have
// succeeded.  A negative n disables the fault.
func (b *Bench) FailSetAfter(n int) {
	b.Lock()
	defer b.Unlock()
	b.failAfter = n
}

// FailReads makes every ReadFrequency call return err.  nil clears the fault.
func (b *Bench) FailReads(err error) {
	b.Lock()
	defer b.Unlock()
	b.readErr = err
}

// AbsentWhen makes ReadFrequency report no reading whenever fn returns true
// for the applied voltage
func (b *Bench) AbsentWhen(fn func(v float64) bool) {
	b.Lock()
	defer b.Unlock()
	b.absent = fn
}

// SetVoltage clamps v to ±OutputLimit and applies it
func (b *Bench) SetVoltage(v float64) error {
	b.Lock()
	defer b.Unlock()
	if b.failAfter >= 0 && len(b.history) >= b.failAfter {
		return ErrInjected
	}
	if v > OutputLimit {
		v = OutputLimit
	} else if v < -OutputLimit {
		v = -OutputLimit
	}
	b.voltage = v
	b.enabled = true
	b.history = append(b.history, v)
	return nil
}

// DisableOutputs returns the output to 0 V
func (b *Bench) DisableOutputs() error {
	b.Lock()
	defer b.Unlock()
	b.enabled = false
	b.voltage = 0
	return nil
}

// ReadFrequency returns the modeled frequency at the applied voltage.
// The channel is ignored.
func (b *Bench) ReadFrequency(channel int) (float64, bool, error) {
	b.Lock()
	defer b.Unlock()
	b.reads++
	if b.readErr != nil {
		return 0, false, b.readErr
	}
	if b.absent != nil && b.absent(b.voltage) {
		return 0, false, nil
	}
	f := mathx.Polyval(b.model, b.voltage)
	if b.noise > 0 {
		f += b.rng.NormFloat64() * b.noise
	}
	if b.resolution > 0 {
		f = mathx.Round(f, b.resolution)
	}
	return f, true, nil
}

// Voltage returns the currently applied voltage
func (b *Bench) Voltage() float64 {
	b.Lock()
	defer b.Unlock()
	return b.voltage
}

// Enabled is true once a voltage has been applied and until DisableOutputs
func (b *Bench) Enabled() bool {
	b.Lock()
	defer b.Unlock()
	return b.enabled
}

// History returns every voltage applied, after clamping, in order
func (b *Bench) History() []float64 {
	b.Lock()
	defer b.Unlock()
	return append([]float64(nil), b.history...)
}

// Reads returns how many times ReadFrequency has been called
func (b *Bench) Reads() int {
	b.Lock()
	defer b.Unlock()
	return b.reads
}
