// Package calibration fits multiplicative rating factors so that adjusted
// expected claim cost tracks actual cost.
//
// # Components
//
//   - Dataset: immutable snapshot of the records with a first-seen level
//     inventory per rating variable and the frozen initial A/E ratio.
//   - ComputeBounds: per-level search intervals, either the default
//     [0.8, 1.2] or credibility-weighted intervals capped at a 10% step.
//   - Objective: penalized absolute deviation of candidate expected cost
//     against actual cost, in single, joint and joint-grouped variants.
//   - Driver: runs the sequential or joint strategy through an Optimizer and
//     assembles the factor report.
//
// Every flat factor vector is interpreted through an explicit Layout that is
// built once with the bounds and passed to each consumer.
//
// # Usage
//
//	ds, err := calibration.NewDataset(records, calibration.DatasetSpec{
//	    RatingVariables: []string{"industry", "tier"},
//	    ActualField:     "incurred",
//	    ExpectedField:   "manual_expected",
//	    WeightField:     "life_years",
//	    Mode:            calibration.ModeSequential,
//	})
//	if err != nil {
//	    return err
//	}
//
//	opts := calibration.DefaultOptions()
//	opts.Credibility.Enabled = true
//
//	driver, err := calibration.NewDriver(ds, evolve.New(logger), opts)
//	if err != nil {
//	    return err
//	}
//	result, err := driver.Run(ctx)
package calibration
