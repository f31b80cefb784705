// Package bench describes the two hardware capabilities the calibration and
// detuning code drive: something that outputs a control voltage, and something
// that measures the laser frequency.
//
// Drivers (redpitaya, tektronix, wavemeter, sim) implement these; the
// calibration code never opens or closes a connection itself.
package bench

// Actuator outputs a DC control voltage
type Actuator interface {
	// SetVoltage applies an output voltage.  An error indicates a hardware or
	// communication fault.
	SetVoltage(float64) error
}

// FrequencyReader measures a laser frequency
type FrequencyReader interface {
	// ReadFrequency returns the frequency on a channel.  ok is false when the
	// instrument produced no valid reading (underexposed, overexposed, no
	// signal); that is not an error.  err is reserved for communication faults.
	ReadFrequency(channel int) (freq float64, ok bool, err error)
}

// Disabler can switch off its outputs
type Disabler interface {
	DisableOutputs() error
}

// ActuatorFunc adapts a plain function to the Actuator interface
type ActuatorFunc func(float64) error

// SetVoltage calls f(v)
func (f ActuatorFunc) SetVoltage(v float64) error {
	return f(v)
}

// FrequencyReaderFunc adapts a plain function to the FrequencyReader interface
type FrequencyReaderFunc func(int) (float64, bool, error)

// ReadFrequency calls f(channel)
func (f FrequencyReaderFunc) ReadFrequency(channel int) (float64, bool, error) {
	return f(channel)
}
