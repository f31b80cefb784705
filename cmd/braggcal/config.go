package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	yml "gopkg.in/yaml.v2"

	"github.com/bragglab/braggcal/bench"
	"github.com/bragglab/braggcal/calib"
	"github.com/bragglab/braggcal/detune"
	"github.com/bragglab/braggcal/redpitaya"
	"github.com/bragglab/braggcal/sim"
	"github.com/bragglab/braggcal/tektronix"
	"github.com/bragglab/braggcal/wavemeter"
)

// ErrUnknownActuator is generated for an Actuator.Type that is not supported
var ErrUnknownActuator = errors.New("unknown actuator type")

// ActuatorSetup holds the typical triplet of args for a New<device> call.
// Serial is not always used, and need not be populated in the config file
// if not used.
type ActuatorSetup struct {
	// Type is the kind of signal generator, "redpitaya" or "afg"
	Type string `koanf:"Type" yaml:"Type"`

	// Addr holds the network or filesystem address of the remote device,
	// e.g. 10.0.2.102:5000, or /dev/ttyUSB0 for a serial device
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Serial determines if the connection is serial/RS232 (True) or TCP (False)
	Serial bool `koanf:"Serial" yaml:"Serial"`

	// Channel is the output of an AFG to drive; ignored for the Red Pitaya
	Channel int `koanf:"Channel" yaml:"Channel"`
}

// WavemeterSetup locates the wavemeter bridge
type WavemeterSetup struct {
	URL string `koanf:"URL" yaml:"URL"`

	// Channel is the wavemeter channel the laser is fibered to
	Channel int `koanf:"Channel" yaml:"Channel"`

	// MinInterval is the least time between two requests to the bridge
	MinInterval time.Duration `koanf:"MinInterval" yaml:"MinInterval"`
}

// Config is the braggcal configuration
type Config struct {
	// Addr is the address to listen at for serve
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Mock replaces all hardware with a simulated bench
	Mock bool `koanf:"Mock" yaml:"Mock"`

	// LUTPath is where calibrate writes the lookup table and detune reads it
	LUTPath string `koanf:"LUTPath" yaml:"LUTPath"`

	// ReferenceFrequency is the absolute frequency detunings are relative to, GHz
	ReferenceFrequency float64 `koanf:"ReferenceFrequency" yaml:"ReferenceFrequency"`

	// SettleTime is the wait between applying a voltage and verifying it
	SettleTime time.Duration `koanf:"SettleTime" yaml:"SettleTime"`

	Actuator  ActuatorSetup  `koanf:"Actuator" yaml:"Actuator"`
	Wavemeter WavemeterSetup `koanf:"Wavemeter" yaml:"Wavemeter"`
	Sweep     calib.Sweep    `koanf:"Sweep" yaml:"Sweep"`
}

// DefaultConfig is the configuration used for any key missing from the file
func DefaultConfig() Config {
	return Config{
		Addr:               ":8000",
		LUTPath:            "frequency_lut.json",
		ReferenceFrequency: detune.DefaultReference,
		SettleTime:         time.Second,
		Actuator: ActuatorSetup{
			Type: "redpitaya",
			Addr: "10.0.2.102:" + redpitaya.DefaultPort,
		},
		Wavemeter: WavemeterSetup{
			URL:         "http://192.168.0.169:5000",
			MinInterval: 100 * time.Millisecond,
		},
		Sweep: calib.DefaultSweep(),
	}
}

var (
	k   = koanf.New(".")
	cfg = DefaultConfig()
)

// loadConfig layers the file at path over the defaults.  A missing file is
// not an error.
func loadConfig(path string) error {
	k = koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return errors.Wrap(err, "loading defaults")
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !os.IsNotExist(errors.Cause(err)) && !strings.Contains(err.Error(), "no such") {
			return errors.Wrapf(err, "error loading config %s", path)
		}
		logrus.WithField("path", path).Debug("config file missing, using defaults")
	}
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		return errors.Wrap(err, "decoding config")
	}
	cfg = c
	return nil
}

func writeConf(w io.Writer, c Config) error {
	return yml.NewEncoder(w).Encode(c)
}

// hardware is the pair of capabilities the commands drive
type hardware struct {
	act     bench.Actuator
	rdr     bench.FrequencyReader
	channel int
	close   func()
}

func openHardware(c Config) (hardware, error) {
	if c.Mock {
		logrus.Warn("mock mode: using a simulated bench")
		b := sim.NewMockBench()
		return hardware{act: b, rdr: b, channel: c.Wavemeter.Channel, close: func() {}}, nil
	}
	hw := hardware{
		rdr:     wavemeter.New(c.Wavemeter.URL, c.Wavemeter.MinInterval),
		channel: c.Wavemeter.Channel,
	}
	switch strings.ToLower(c.Actuator.Type) {
	case "redpitaya", "red pitaya", "rp", "stemlab":
		sg := redpitaya.NewSignalGenerator(c.Actuator.Addr)
		hw.act = sg
		hw.close = func() { sg.Close() }
	case "afg", "afg3000", "tektronix":
		afg := tektronix.NewAFG(c.Actuator.Addr, c.Actuator.Serial)
		afg.Channel = c.Actuator.Channel
		hw.act = afg
		hw.close = func() { afg.Close() }
	default:
		return hw, errors.Wrapf(ErrUnknownActuator, "%q", c.Actuator.Type)
	}
	return hw, nil
}
