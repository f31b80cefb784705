// Package tektronix drives Tektronix AFG3000 series arbitrary function generators
package tektronix

import (
	"math"
	"strconv"
	"time"

	"github.com/tarm/serial"

	"github.com/bragglab/braggcal/comm"
	"github.com/bragglab/braggcal/scpi"
)

// MaxVoltage is the largest DC offset the AFG will produce into a high-Z load
const MaxVoltage = 5.

// AFG is an arbitrary function generator.  Channel selects which output
// SetVoltage drives; the zero value means channel 1.
type AFG struct {
	scpi.SCPI

	Channel int
}

// NewAFG creates a new AFG.  If isSerial is true, addr is the name of a serial
// port (e.g. a GPIB-USB bridge) rather than host:port.
func NewAFG(addr string, isSerial bool) *AFG {
	maker := comm.Maker(addr, isSerial, makeSerConf(addr), 3*time.Second)
	pool := comm.NewPool(1, time.Minute, maker)
	return &AFG{SCPI: scpi.SCPI{Pool: pool, Handshaking: true}}
}

func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 2 * time.Second,
	}
}

func (a *AFG) ch() string {
	if a.Channel == 0 {
		return "1"
	}
	return strconv.Itoa(a.Channel)
}

// SetVoltage makes the output a DC level of v volts, clamped to [-5, 5]
func (a *AFG) SetVoltage(v float64) error {
	v = math.Max(-MaxVoltage, math.Min(MaxVoltage, v))
	ch := a.ch()
	if err := a.Write("SOURce"+ch+":FUNCtion:SHAPe", "DC"); err != nil {
		return err
	}
	if err := a.Write("SOURce"+ch+":VOLTage:LEVel:IMMediate:OFFSet", strconv.FormatFloat(v, 'f', 4, 64)); err != nil {
		return err
	}
	return a.Write("OUTPut"+ch+":STATe", "ON")
}

// GetVoltage returns the DC level currently programmed
func (a *AFG) GetVoltage() (float64, error) {
	return a.ReadFloat("SOURce" + a.ch() + ":VOLTage:LEVel:IMMediate:OFFSet?")
}

// DisableOutputs turns off both outputs
func (a *AFG) DisableOutputs() error {
	if err := a.Write("OUTPut1:STATe", "OFF"); err != nil {
		return err
	}
	return a.Write("OUTPut2:STATe", "OFF")
}

// Close drops the connection to the device
func (a *AFG) Close() error {
	a.Pool.Close()
	return nil
}
