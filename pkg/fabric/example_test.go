package fabric_test

import (
	"fmt"

	"symgravity/pkg/fabric"
	"symgravity/pkg/gravity"
	"symgravity/pkg/pillar"
)

// Example wires the full correction loop: pillars carry symbolic intensity,
// the engine learns a gravity weight per pillar from observed residuals, and
// the fabric routes corrections for its registered variables.
func Example() {
	sys, _ := pillar.NewSystem(pillar.DefaultSystemConfig())
	sys.Register("momentum", 0.8, 1.0)
	sys.Register("sentiment", 0.4, 1.0)

	eng, _ := gravity.New(gravity.DefaultConfig())
	fab, _ := fabric.New(sys, eng, fabric.DefaultConfig())
	fab.RegisterVariable("price")

	// The causal model keeps predicting 10.0 while truth sits at 10.5;
	// the fabric learns the offset from the pillar basis.
	for i := 0; i < 200; i++ {
		fab.RecordResidual("price", 10.0, 10.5)
	}

	original, corrected := fab.MeanAbsoluteError("price")
	fmt.Printf("corrected MAE below original: %v\n", corrected < original)

	out := fab.BulkApplyCorrection(map[string]float64{"price": 10.0, "volume": 3.0})
	fmt.Printf("inactive volume passthrough: %.1f\n", out["volume"])

	report := fab.GenerateDiagnosticReport()
	fmt.Printf("variables tracked: %d\n", len(report.Variables))

	// Output:
	// corrected MAE below original: true
	// inactive volume passthrough: 3.0
	// variables tracked: 1
}
