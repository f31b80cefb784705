/*Package lut holds the voltage to frequency calibration lookup table produced
by a calibration sweep, and its on-disk form.

A LookupTable pairs the sweep setpoints with the frequency measured at each one,
and carries the least-squares polynomial fitted through them.  Tables are
immutable once built; every accessor returns a copy.

On disk a table is a single JSON object with exactly three fields:

	{"voltages": [...], "frequencies": [...], "poly_coeffs": [...]}

poly_coeffs is ordered highest degree first.  A file holds one table and is
always replaced whole.
*/
package lut

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/bragglab/braggcal/mathx"
)

var (
	// ErrInvalidTable is generated when New is given data that violates the table invariants
	ErrInvalidTable = errors.New("invalid lookup table")

	// ErrNotFound is generated when Load is pointed at a file that does not exist
	ErrNotFound = errors.New("lookup table not found")

	// ErrCorrupt is generated when a file exists but does not hold a valid table
	ErrCorrupt = errors.New("lookup table corrupt")
)

// LookupTable maps control voltage to laser frequency
type LookupTable struct {
	voltages    []float64
	frequencies []float64
	coeffs      []float64
}

// record is the serialized shape.  Pointers let absent fields be told apart
// from empty ones.
type record struct {
	Voltages    *[]float64 `json:"voltages"`
	Frequencies *[]float64 `json:"frequencies"`
	PolyCoeffs  *[]float64 `json:"poly_coeffs"`
}

// New builds a table from sweep data and fit coefficients.  The slices are copied.
func New(voltages, frequencies, coeffs []float64) (LookupTable, error) {
	if err := validate(voltages, frequencies, coeffs); err != nil {
		return LookupTable{}, errors.Wrap(ErrInvalidTable, err.Error())
	}
	return LookupTable{
		voltages:    clone(voltages),
		frequencies: clone(frequencies),
		coeffs:      clone(coeffs),
	}, nil
}

func validate(voltages, frequencies, coeffs []float64) error {
	if len(voltages) != len(frequencies) {
		return errors.Errorf("%d voltages but %d frequencies", len(voltages), len(frequencies))
	}
	if len(voltages) < 2 {
		return errors.Errorf("need at least 2 points, have %d", len(voltages))
	}
	for i := 1; i < len(voltages); i++ {
		if !(voltages[i] > voltages[i-1]) {
			return errors.Errorf("voltages not strictly ascending at index %d (%g after %g)", i, voltages[i], voltages[i-1])
		}
	}
	if len(coeffs) == 0 {
		return errors.New("no polynomial coefficients")
	}
	if len(coeffs) > len(voltages) {
		return errors.Errorf("%d coefficients cannot be fit from %d points", len(coeffs), len(voltages))
	}
	return nil
}

func clone(s []float64) []float64 {
	return append([]float64(nil), s...)
}

// Voltages returns the sweep setpoints in ascending order
func (t LookupTable) Voltages() []float64 { return clone(t.voltages) }

// Frequencies returns the frequency measured at each setpoint
func (t LookupTable) Frequencies() []float64 { return clone(t.frequencies) }

// PolyCoeffs returns the fit coefficients, highest degree first
func (t LookupTable) PolyCoeffs() []float64 { return clone(t.coeffs) }

// Len is the number of calibration points
func (t LookupTable) Len() int { return len(t.voltages) }

// Order is the degree of the fitted polynomial
func (t LookupTable) Order() int { return len(t.coeffs) - 1 }

// Empty is true for the zero value
func (t LookupTable) Empty() bool { return len(t.coeffs) == 0 }

// Predict evaluates the fit at voltage v
func (t LookupTable) Predict(v float64) float64 {
	return mathx.Polyval(t.coeffs, v)
}

// Residuals returns measured minus predicted frequency at every setpoint
func (t LookupTable) Residuals() []float64 {
	out := make([]float64, len(t.voltages))
	for i, v := range t.voltages {
		out[i] = t.frequencies[i] - t.Predict(v)
	}
	return out
}

// Range returns the lowest and highest calibrated voltage
func (t LookupTable) Range() (float64, float64) {
	if len(t.voltages) == 0 {
		return 0, 0
	}
	return t.voltages[0], t.voltages[len(t.voltages)-1]
}

// MarshalJSON encodes the table as its three-field record
func (t LookupTable) MarshalJSON() ([]byte, error) {
	v, f, c := t.Voltages(), t.Frequencies(), t.PolyCoeffs()
	return json.Marshal(record{Voltages: &v, Frequencies: &f, PolyCoeffs: &c})
}

// UnmarshalJSON decodes a three-field record, rejecting missing fields,
// mistyped fields and records that violate the table invariants with ErrCorrupt
func (t *LookupTable) UnmarshalJSON(b []byte) error {
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return errors.Wrap(ErrCorrupt, err.Error())
	}
	switch {
	case r.Voltages == nil:
		return errors.Wrap(ErrCorrupt, "missing field voltages")
	case r.Frequencies == nil:
		return errors.Wrap(ErrCorrupt, "missing field frequencies")
	case r.PolyCoeffs == nil:
		return errors.Wrap(ErrCorrupt, "missing field poly_coeffs")
	}
	if err := validate(*r.Voltages, *r.Frequencies, *r.PolyCoeffs); err != nil {
		return errors.Wrap(ErrCorrupt, err.Error())
	}
	t.voltages = *r.Voltages
	t.frequencies = *r.Frequencies
	t.coeffs = *r.PolyCoeffs
	return nil
}
