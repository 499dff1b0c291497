// Package simtest drives deterministic turn loops over a fabric stack for
// property tests. A scenario names the target variable, the prediction and
// truth for each turn, and optional pillar drift; the runner records per-turn
// outcomes that the assertion helpers check for convergence, boundedness, and
// MAE improvement.
package simtest

import (
	"math"
	"testing"

	"symgravity/pkg/fabric"
	"symgravity/pkg/pillar"
)

// Turn is one recorded simulation step.
type Turn struct {
	Index      int
	Predicted  float64
	Actual     float64
	Correction float64
	Corrected  float64
	// Residual is actual - predicted, the error the causal model made.
	Residual float64
	// Error is actual - corrected, the error left after gravity.
	Error float64
}

// Scenario describes a deterministic correction workload.
type Scenario struct {
	Variable string
	Turns    int

	// Predict returns the causal prediction for a turn.
	Predict func(turn int) float64
	// Truth returns the observed value for a turn.
	Truth func(turn int) float64

	// Drive optionally mutates pillar state at the start of each turn.
	Drive func(turn int, sys *pillar.System)
	// StepDecay, when positive, advances the pillar system by one decay
	// step per turn, after Drive.
	StepDecay float64
}

// Result collects every turn the runner executed.
type Result struct {
	Turns []Turn
}

// Run drives the scenario over the fabric: per turn it applies the
// correction, then records the realized residual so the engine learns.
func Run(t *testing.T, f *fabric.Fabric, s Scenario) *Result {
	t.Helper()
	if s.Turns <= 0 || s.Predict == nil || s.Truth == nil {
		t.Fatal("scenario needs turns, a predict func, and a truth func")
	}
	f.RegisterVariable(s.Variable)

	res := &Result{Turns: make([]Turn, 0, s.Turns)}
	for i := 0; i < s.Turns; i++ {
		if s.Drive != nil {
			s.Drive(i, f.System())
		}
		if s.StepDecay > 0 {
			f.System().Step(s.StepDecay)
		}

		predicted := s.Predict(i)
		actual := s.Truth(i)

		correction, corrected := f.ApplyCorrection(s.Variable, predicted, nil)
		f.RecordResidual(s.Variable, predicted, actual)

		res.Turns = append(res.Turns, Turn{
			Index:      i,
			Predicted:  predicted,
			Actual:     actual,
			Correction: correction,
			Corrected:  corrected,
			Residual:   actual - predicted,
			Error:      actual - corrected,
		})
	}
	return res
}

// Tail returns the last n turns, or all of them when fewer were run.
func (r *Result) Tail(n int) []Turn {
	if n >= len(r.Turns) {
		return r.Turns
	}
	return r.Turns[len(r.Turns)-n:]
}

// MeanAbsError returns the mean |actual - corrected| over the given turns.
func MeanAbsError(turns []Turn) float64 {
	if len(turns) == 0 {
		return 0
	}
	sum := 0.0
	for _, turn := range turns {
		sum += math.Abs(turn.Error)
	}
	return sum / float64(len(turns))
}

// AssertConverges checks that the mean corrected error over the final window
// turns is within tol.
func AssertConverges(t *testing.T, r *Result, window int, tol float64) {
	t.Helper()
	got := MeanAbsError(r.Tail(window))
	if got > tol {
		t.Errorf("mean |error| over final %d turns = %v, want <= %v", window, got, tol)
	}
}

// AssertBounded checks that no turn's |correction| exceeded limit.
func AssertBounded(t *testing.T, r *Result, limit float64) {
	t.Helper()
	for _, turn := range r.Turns {
		if math.Abs(turn.Correction) > limit {
			t.Errorf("turn %d: |correction| = %v exceeds %v", turn.Index, math.Abs(turn.Correction), limit)
			return
		}
	}
}

// AssertMAEImproved checks the fabric's cumulative corrected MAE beats the
// causal MAE for the scenario's variable.
func AssertMAEImproved(t *testing.T, f *fabric.Fabric, variable string) {
	t.Helper()
	original, corrected := f.MeanAbsoluteError(variable)
	if original <= 0 {
		t.Errorf("no causal error accumulated for %q", variable)
		return
	}
	if corrected >= original {
		t.Errorf("corrected MAE %v did not improve on causal MAE %v for %q", corrected, original, variable)
	}
}
