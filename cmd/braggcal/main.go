// Command braggcal calibrates the voltage to frequency response of the Bragg
// laser and sets it to a requested detuning
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bragglab/braggcal/calib"
	"github.com/bragglab/braggcal/lut"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is the config file read when --config is not given
	ConfigFileName = "braggcal.yml"

	logLevel   = "info"
	configPath = ConfigFileName
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return errors.Wrap(err, "failed to parse log level")
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if isatty.IsTerminal(os.Stderr.Fd()) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}
	return nil
}

func handleCmdError(err error) {
	var fault *calib.DeviceFault
	switch {
	case errors.Is(err, lut.ErrNotFound):
		fmt.Fprintln(os.Stderr, "\nError: no calibration found")
		fmt.Fprintln(os.Stderr, "Run 'braggcal calibrate' first, or point LUTPath at an existing table")
	case errors.Is(err, lut.ErrCorrupt):
		fmt.Fprintln(os.Stderr, "\nError: the calibration file is unreadable")
		fmt.Fprintln(os.Stderr, "Run 'braggcal calibrate' to write a new one")
	case errors.As(err, &fault):
		fmt.Fprintf(os.Stderr, "\nError: the sweep stopped at step %d with %d points recorded\n", fault.Step, len(fault.Partial))
	}
}

// protectNegativeNumbers moves arguments that are negative numbers behind a
// "--" so they are taken as positional arguments instead of flags
func protectNegativeNumbers(args []string) []string {
	var rest, nums []string
	for i, a := range args {
		if a == "--" {
			rest = append(rest, args[i:]...)
			break
		}
		if len(a) > 1 && a[0] == '-' {
			if _, err := strconv.ParseFloat(a, 64); err == nil {
				nums = append(nums, a)
				continue
			}
		}
		rest = append(rest, a)
	}
	if len(nums) == 0 {
		return args
	}
	for i, a := range rest {
		if a == "--" {
			out := append([]string{}, rest[:i+1]...)
			out = append(out, nums...)
			return append(out, rest[i+1:]...)
		}
	}
	out := append(rest, "--")
	return append(out, nums...)
}

func main() {
	cmd := NewCommand()
	cmd.SetArgs(protectNegativeNumbers(os.Args[1:]))
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

// NewCommand builds the root command
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "braggcal",
		Short: "braggcal calibrates and detunes the Bragg laser",
		Long: `braggcal sweeps the control voltage of the Bragg laser, fits the measured
frequency response, and inverts the fit to set the laser to a requested
detuning from the reference frequency.

Configuration is read from braggcal.yml in the working directory, see
'braggcal mkconf'.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := setupLogger(); err != nil {
				return err
			}
			return loadConfig(configPath)
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", ConfigFileName, "config file path")

	cmd.AddCommand(
		NewDetuneCommand(),
		NewSolveCommand(),
		NewCalibrateCommand(),
		NewShowCommand(),
		NewServeCommand(),
		NewMkconfCommand(),
		NewConfCommand(),
		NewVersionCommand(),
	)
	return cmd
}
