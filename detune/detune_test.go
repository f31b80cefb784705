package detune_test

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bragglab/braggcal/bench"
	"github.com/bragglab/braggcal/calib"
	"github.com/bragglab/braggcal/detune"
	"github.com/bragglab/braggcal/lut"
	"github.com/bragglab/braggcal/sim"
)

// table builds a lookup table carrying coeffs over enough dummy points to hold them
func table(t *testing.T, coeffs ...float64) lut.LookupTable {
	t.Helper()
	n := len(coeffs)
	if n < 2 {
		n = 2
	}
	v := make([]float64, n)
	f := make([]float64, n)
	for i := range v {
		v[i] = float64(i)
	}
	tbl, err := lut.New(v, f, coeffs)
	require.NoError(t, err)
	return tbl
}

func TestLinearInversionIsExact(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		a := rng.Float64()*10 - 5
		if a == 0 {
			continue
		}
		b := rng.Float64() * 1e5
		v := rng.Float64()*20 - 10
		got, err := detune.SolveVoltage(table(t, a, b), a*v+b)
		require.NoError(t, err)
		assert.InDelta(t, v, got, 1e-6)
	}
}

func TestLinearZeroSlopeIsDegenerate(t *testing.T) {
	_, err := detune.SolveVoltage(table(t, 0, 5), 5)
	assert.True(t, errors.Is(err, detune.ErrDegenerateFit), "got %v", err)
}

func TestConstantFitHasNoSolution(t *testing.T) {
	_, err := detune.SolveVoltage(table(t, 384229), 384229)
	assert.True(t, errors.Is(err, detune.ErrNoRealSolution), "got %v", err)
}

func TestNonFiniteTargetRejected(t *testing.T) {
	tables := map[string]lut.LookupTable{
		"linear": table(t, 2, 1000),
		"cubic":  table(t, 1, -5, 2, 8),
	}
	for name, tbl := range tables {
		for _, target := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			_, err := detune.SolveVoltage(tbl, target)
			assert.True(t, errors.Is(err, detune.ErrNonFinite), "%s fit, target %g: got %v", name, target, err)
		}
	}
}

func TestNonFiniteCoefficientRejected(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := detune.SolveVoltage(table(t, bad, 1000), 1000)
		assert.True(t, errors.Is(err, detune.ErrNonFinite), "linear, coeff %g: got %v", bad, err)
		_, err = detune.SolveVoltage(table(t, 1, bad, 2, 8), 0)
		assert.True(t, errors.Is(err, detune.ErrNonFinite), "cubic, coeff %g: got %v", bad, err)
	}
}

func TestApplyNaNDetuningLeavesActuatorAlone(t *testing.T) {
	for _, coeffs := range [][]float64{{2, 1000}, {1, -5, 2, 8}} {
		b := sim.NewBench(coeffs...)
		_, _, err := detune.ApplyDetuning(b, detune.Request{Detuning: math.NaN(), ReferenceFrequency: 1000}, table(t, coeffs...))
		assert.True(t, errors.Is(err, detune.ErrNonFinite), "got %v", err)
		assert.Empty(t, b.History())
	}
}

func TestCubicPicksInRangeRoot(t *testing.T) {
	// (v-0.3)(v-7)(v+8) + 1000
	tbl := table(t, 1, 0.7, -56.3, 1016.8)
	v, err := detune.SolveVoltage(tbl, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, v, 1e-9)
}

func TestCubicPicksSmallestMagnitudeInRange(t *testing.T) {
	// (v+1)(v-2)(v-4)
	v, err := detune.SolveVoltage(table(t, 1, -5, 2, 8), 0)
	require.NoError(t, err)
	assert.InDelta(t, -1, v, 1e-9)
}

func TestCubicFallsBackToSmallestRealRoot(t *testing.T) {
	// (v-6)(v+7)(v-10), nothing in [-5, 5]
	v, err := detune.SolveVoltage(table(t, 1, -9, -52, 420), 0)
	require.NoError(t, err)
	assert.InDelta(t, 6, v, 1e-9)
}

func TestCubicSingleRealRootOutOfRange(t *testing.T) {
	// (v-8)(v^2+1) = v^3 - 8v^2 + v - 8
	v, err := detune.SolveVoltage(table(t, 1, -8, 1, -8), 0)
	require.NoError(t, err)
	assert.InDelta(t, 8, v, 1e-9)
}

func TestRangeBoundaryIsInclusive(t *testing.T) {
	// (v-5)(v+6)(v-9): 5 sits on the boundary and is preferred
	// v^3 - 8v^2 - 39v + 270
	v, err := detune.SolveVoltage(table(t, 1, -8, -39, 270), 0)
	require.NoError(t, err)
	assert.InDelta(t, 5, v, 1e-9)
}

func TestQuadraticWithoutCrossingHasNoSolution(t *testing.T) {
	// v^2 + 10 never comes down to 5
	_, err := detune.SolveVoltage(table(t, 1, 0, 10), 5)
	assert.True(t, errors.Is(err, detune.ErrNoRealSolution), "got %v", err)
}

func TestSolveDoesNotMutateTable(t *testing.T) {
	tbl := table(t, 1, 0.7, -56.3, 1016.8)
	_, err := detune.SolveVoltage(tbl, 1000)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0.7, -56.3, 1016.8}, tbl.PolyCoeffs())
}

func TestRequestTarget(t *testing.T) {
	r := detune.Request{Detuning: -1.5, ReferenceFrequency: detune.DefaultReference}
	assert.Equal(t, 384227.5, r.Target())
}

func TestCalibrateThenDetuneEndToEnd(t *testing.T) {
	b := sim.NewBench(50, 1000)
	tbl, err := calib.RunSweep(context.Background(), b, b, calib.Sweep{
		VoltageMin: -5, VoltageMax: 5, NumSteps: 11, PolyOrder: 1})
	require.NoError(t, err)

	v, err := detune.SolveVoltage(tbl, 1250)
	require.NoError(t, err)
	assert.InDelta(t, 5, v, 1e-9)

	v, target, err := detune.ApplyDetuning(b, detune.Request{Detuning: -100, ReferenceFrequency: 1000}, tbl)
	require.NoError(t, err)
	assert.Equal(t, 900., target)
	assert.InDelta(t, -2, v, 1e-9)
	assert.InDelta(t, -2, b.Voltage(), 1e-9)

	ver, err := detune.Verify(b, 0, target)
	require.NoError(t, err)
	assert.InDelta(t, 900, ver.Measured, 1e-6)
	assert.InDelta(t, 0, ver.ErrorMHz, 1e-3)
}

func TestCubicBenchEndToEnd(t *testing.T) {
	b := sim.NewBench(-0.0008, 0.0021, 0.2, 384229.05)
	s := calib.DefaultSweep()
	s.WaitTime = 0
	tbl, err := calib.RunSweep(context.Background(), b, b, s)
	require.NoError(t, err)

	req := detune.Request{Detuning: -0.5, ReferenceFrequency: detune.DefaultReference}
	_, target, err := detune.ApplyDetuning(b, req, tbl)
	require.NoError(t, err)
	ver, err := detune.Verify(b, 0, target)
	require.NoError(t, err)
	assert.InDelta(t, 0, ver.ErrorMHz, 1e-3)
}

func TestApplySignedErrorIsTargetMinusMeasured(t *testing.T) {
	rdr := bench.FrequencyReaderFunc(func(int) (float64, bool, error) { return 384229.002, true, nil })
	ver, err := detune.Verify(rdr, 0, 384229.0)
	require.NoError(t, err)
	assert.InDelta(t, -2, ver.ErrorMHz, 1e-6)
}

func TestApplyPropagatesActuatorFault(t *testing.T) {
	boom := errors.New("output stage tripped")
	act := bench.ActuatorFunc(func(float64) error { return boom })
	v, target, err := detune.ApplyDetuning(act, detune.Request{Detuning: 50, ReferenceFrequency: 1000}, table(t, 50, 1000))
	assert.True(t, errors.Is(err, boom))
	assert.InDelta(t, 1, v, 1e-12)
	assert.Equal(t, 1050., target)
}

func TestApplyDoesNotTouchHardwareOnSolveFailure(t *testing.T) {
	b := sim.NewBench(1, 0, 10)
	_, _, err := detune.ApplyDetuning(b, detune.Request{Detuning: 5}, table(t, 1, 0, 10))
	assert.True(t, errors.Is(err, detune.ErrNoRealSolution))
	assert.Empty(t, b.History())
}

func TestVerifyNoReading(t *testing.T) {
	b := sim.NewBench(50, 1000)
	b.AbsentWhen(func(float64) bool { return true })
	_, err := detune.Verify(b, 0, 1000)
	assert.True(t, errors.Is(err, detune.ErrNoReading))
}

func TestTuneAppliesSettlesAndVerifies(t *testing.T) {
	b := sim.NewBench(50, 1000)
	start := time.Now()
	res, err := detune.Tune(context.Background(), b, b, detune.Request{Detuning: 100, ReferenceFrequency: 1000}, table(t, 50, 1000), 0, 20*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 100., res.Detuning)
	assert.InDelta(t, 2, res.Voltage, 1e-12)
	assert.Equal(t, 1100., res.Target)
	assert.InDelta(t, 1100, res.Measured, 1e-6)
	assert.InDelta(t, 0, res.ErrorMHz, 1e-3)
}

func TestTuneKeepsVoltageWhenVerifyFails(t *testing.T) {
	b := sim.NewBench(50, 1000)
	b.AbsentWhen(func(float64) bool { return true })
	res, err := detune.Tune(context.Background(), b, b, detune.Request{Detuning: -50, ReferenceFrequency: 1000}, table(t, 50, 1000), 0, 0)
	assert.True(t, errors.Is(err, detune.ErrNoReading))
	assert.InDelta(t, -1, res.Voltage, 1e-12)
	assert.Equal(t, 950., res.Target)
	assert.InDelta(t, -1, b.Voltage(), 1e-12)
}

func TestTuneCancelledWhileSettling(t *testing.T) {
	b := sim.NewBench(50, 1000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := detune.Tune(ctx, b, b, detune.Request{Detuning: 0, ReferenceFrequency: 1000}, table(t, 50, 1000), 0, time.Hour)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, b.Reads())
}
