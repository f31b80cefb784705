// Package redpitaya drives a Red Pitaya STEMlab used as a two channel signal
// generator through its SCPI server.
//
// Output 2 carries the DC level that steers the laser; it sits behind a x5
// amplifier, so the DAC's [-1, 1] V range maps to [-5, 5] V at the laser.
// Output 1 can carry a PWM trigger pulse.
package redpitaya

import (
	"math"
	"strconv"
	"time"

	"github.com/bragglab/braggcal/comm"
	"github.com/bragglab/braggcal/scpi"
)

const (
	// DefaultPort is the port of the Red Pitaya SCPI server
	DefaultPort = "5000"

	// MaxVoltage is the largest magnitude SetVoltage will produce, after the amplifier
	MaxVoltage = 5.

	// Gain is the gain of the amplifier on output 2
	Gain = 5.
)

// SignalGenerator is a Red Pitaya signal generator
type SignalGenerator struct {
	scpi.SCPI
}

// NewSignalGenerator creates a new SignalGenerator talking to addr, which is
// host:port.  Nothing is dialed until the first command.
func NewSignalGenerator(addr string) *SignalGenerator {
	maker := comm.TCPMaker(addr, 3*time.Second)
	pool := comm.NewPool(1, time.Minute, maker)
	return &SignalGenerator{scpi.SCPI{
		Pool:        pool,
		Terminators: comm.Terminators{Tx: "\r\n", Rx: '\n'},
	}}
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Clamp limits v to [-MaxVoltage, MaxVoltage]
func Clamp(v float64) float64 {
	return math.Max(-MaxVoltage, math.Min(MaxVoltage, v))
}

// SetVoltage sets output 2 to a DC level of v volts after the amplifier.
// v is clamped to [-5, 5].  The generator only takes a non-negative amplitude,
// negative levels use the DC_NEG function.
func (s *SignalGenerator) SetVoltage(v float64) error {
	scaled := Clamp(v) / Gain
	fcn := "DC"
	if scaled < 0 {
		fcn = "DC_NEG"
	}
	cmds := []string{
		"SOUR2:FUNC " + fcn,
		"SOUR2:VOLT " + ftoa(math.Abs(scaled)),
		"OUTPUT2:STATE ON",
		"SOUR2:TRig:INT",
	}
	for _, cmd := range cmds {
		if err := s.Write(cmd); err != nil {
			return err
		}
	}
	return nil
}

// SetTriggerPulse configures output 1 as a PWM pulse train swinging between
// low and high volts, with the given period and duty cycle in percent, and
// triggers it
func (s *SignalGenerator) SetTriggerPulse(high, low float64, period time.Duration, dutyCycle float64) error {
	freq := 1 / period.Seconds()
	cmds := []string{
		"SOUR1:FUNC PWM",
		"SOUR1:FREQ:FIX " + ftoa(freq),
		"SOUR1:VOLT " + ftoa(high-low),
		"SOUR1:VOLT:OFFS " + ftoa(low),
		"SOUR1:DCYC " + ftoa(dutyCycle/100),
		"OUTPUT1:STATE ON",
		"SOUR1:TRig:INT",
	}
	for _, cmd := range cmds {
		if err := s.Write(cmd); err != nil {
			return err
		}
	}
	return nil
}

// DisableOutputs turns off both outputs
func (s *SignalGenerator) DisableOutputs() error {
	if err := s.Write("OUTPUT1:STATE OFF"); err != nil {
		return err
	}
	return s.Write("OUTPUT2:STATE OFF")
}

// Close drops the connection to the device
func (s *SignalGenerator) Close() error {
	s.Pool.Close()
	return nil
}
