package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"

	"github.com/bragglab/braggcal/bench"
	"github.com/bragglab/braggcal/calib"
	"github.com/bragglab/braggcal/lut"
)

func newSpinner(w io.Writer) (*yacspin.Spinner, error) {
	return yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " sweeping",
		SuffixAutoColon:   true,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
		Writer:            w,
	})
}

func printCoeffs(w io.Writer, t lut.LookupTable) {
	coeffs := t.PolyCoeffs()
	fmt.Fprintf(w, "order %d fit over %d points, highest power first:\n", t.Order(), t.Len())
	for i, c := range coeffs {
		fmt.Fprintf(w, "  c%d (v^%d) = %.9g\n", i, len(coeffs)-1-i, c)
	}
}

// NewCalibrateCommand runs a sweep and saves the lookup table
func NewCalibrateCommand() *cobra.Command {
	var noSpin bool
	cmd := &cobra.Command{
		Use:     "calibrate",
		Aliases: []string{"cal", "sweep"},
		Short:   "Sweep the control voltage, fit the response, and save the lookup table",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := cfg.Sweep
			s.Channel = cfg.Wavemeter.Channel
			if err := s.Validate(); err != nil {
				return err
			}
			hw, err := openHardware(cfg)
			if err != nil {
				return err
			}
			defer hw.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			c := calib.New(hw.act, hw.rdr)
			var spinner *yacspin.Spinner
			if !noSpin {
				spinner, err = newSpinner(cmd.ErrOrStderr())
				if err == nil {
					err = spinner.Start()
				}
				if err != nil {
					logrus.Debugf("no spinner: %v", err)
					spinner = nil
				}
			}
			c.Observer = func(step int, p calib.Point) {
				if spinner != nil {
					spinner.Message(fmt.Sprintf("step %d/%d  %.3f V -> %.4f GHz", step+1, s.NumSteps, p.Voltage, p.Frequency))
				}
			}

			t, err := c.Run(ctx, s)
			if spinner != nil {
				if err != nil {
					spinner.StopFail()
				} else {
					spinner.Stop()
				}
			}
			if d, ok := hw.act.(bench.Disabler); ok && errors.Is(err, context.Canceled) {
				if derr := d.DisableOutputs(); derr != nil {
					logrus.Errorf("failed to disable outputs: %v", derr)
				}
			}
			if err != nil {
				var fault *calib.DeviceFault
				if errors.As(err, &fault) {
					logrus.WithFields(logrus.Fields{
						"step":    fault.Step,
						"voltage": fault.Voltage,
						"points":  len(fault.Partial),
					}).Error("sweep aborted")
				}
				return err
			}
			if err := lut.Save(t, cfg.LUTPath); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			printCoeffs(w, t)
			color.New(color.FgGreen).Fprintf(w, "lookup table saved to %s\n", cfg.LUTPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noSpin, "no-spinner", false, "do not draw a progress spinner")
	return cmd
}

// NewShowCommand prints the saved lookup table with the fit residuals
func NewShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the saved lookup table and its fit residuals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := lut.Load(cfg.LUTPath)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			printCoeffs(w, t)
			v, f, r := t.Voltages(), t.Frequencies(), t.Residuals()
			fmt.Fprintf(w, "%10s %16s %16s %12s\n", "V", "measured GHz", "fit GHz", "resid MHz")
			for i := range v {
				fmt.Fprintf(w, "%10.4f %16.6f %16.6f %12.3f\n", v[i], f[i], t.Predict(v[i]), r[i]*1000)
			}
			return nil
		},
	}
}
