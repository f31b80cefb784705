package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/bragglab/braggcal/detune"
	"github.com/bragglab/braggcal/lut"
)

func parseDetuning(args []string) (float64, error) {
	if len(args) != 1 {
		return 0, errors.New("invalid number of arguments")
	}
	d, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, errors.Wrap(err, "invalid detuning")
	}
	if !detune.IsFinite(d) {
		return 0, errors.Wrapf(detune.ErrNonFinite, "invalid detuning %q", args[0])
	}
	return d, nil
}

func printResult(w io.Writer, ref float64, res detune.Result) {
	bold := color.New(color.Bold)
	fmt.Fprintf(w, "reference frequency:  %.3f GHz\n", ref)
	fmt.Fprintf(w, "detuning:             %.3f GHz\n", res.Detuning)
	fmt.Fprintf(w, "target frequency:     %.3f GHz\n", res.Target)
	fmt.Fprintf(w, "applied voltage:      %.3f V\n", res.Voltage)
	fmt.Fprintf(w, "measured frequency:   %.3f GHz\n", res.Measured)
	errColor := color.New(color.FgGreen)
	if abs(res.ErrorMHz) >= 10 {
		errColor = color.New(color.FgYellow)
	}
	bold.Fprint(w, "frequency error:      ")
	errColor.Fprintf(w, "%.0f MHz\n", res.ErrorMHz)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// NewDetuneCommand sets the laser to a detuning and verifies it
func NewDetuneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "detune <detuning>",
		Short: "Set the laser to a detuning in GHz from the reference frequency",
		Long: `Set the laser to a detuning in GHz from the reference frequency.

The calibration lookup table is loaded, the fit is inverted to find the
voltage, the voltage is applied, and after SettleTime the wavemeter is read
to report the remaining error.  Negative detunings may be given directly,
e.g. 'braggcal detune -0.5'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDetuning(args)
			if err != nil {
				return err
			}
			t, err := lut.Load(cfg.LUTPath)
			if err != nil {
				return err
			}
			hw, err := openHardware(cfg)
			if err != nil {
				return err
			}
			defer hw.close()
			req := detune.Request{Detuning: d, ReferenceFrequency: cfg.ReferenceFrequency}
			res, err := detune.Tune(context.Background(), hw.act, hw.rdr, req, t, hw.channel, cfg.SettleTime)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), cfg.ReferenceFrequency, res)
			return nil
		},
	}
}

// NewSolveCommand prints the voltage for a detuning without touching hardware
func NewSolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "solve <detuning>",
		Short: "Print the voltage that reaches a detuning, without touching hardware",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseDetuning(args)
			if err != nil {
				return err
			}
			t, err := lut.Load(cfg.LUTPath)
			if err != nil {
				return err
			}
			req := detune.Request{Detuning: d, ReferenceFrequency: cfg.ReferenceFrequency}
			v, err := detune.SolveVoltage(t, req.Target())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "target frequency:     %.3f GHz\n", req.Target())
			fmt.Fprintf(w, "voltage:              %.4f V\n", v)
			if v < detune.MinVoltage || v > detune.MaxVoltage {
				color.New(color.FgYellow).Fprintf(w, "warning: %.4f V is outside [%g, %g] V and will be clamped\n", v, detune.MinVoltage, detune.MaxVoltage)
			}
			return nil
		},
	}
}
