package calibration

// Options configures a Driver.
type Options struct {
	Credibility   CredibilityOptions `json:"credibility" yaml:"credibility"`
	GuardBand     GuardBand          `json:"guard_band" yaml:"guard_band"`
	Penalty       float64            `json:"penalty" yaml:"penalty"`
	ProgressEvery int64              `json:"progress_every" yaml:"progress_every"`
	Optimizer     OptimizerOptions   `json:"optimizer" yaml:"optimizer"`
}

// DefaultOptions returns the standard calibration settings.
func DefaultOptions() Options {
	obj := DefaultObjectiveOptions()
	return Options{
		Credibility:   DefaultCredibilityOptions(),
		GuardBand:     obj.GuardBand,
		Penalty:       obj.Penalty,
		ProgressEvery: obj.ProgressEvery,
		Optimizer:     DefaultOptimizerOptions(),
	}
}

// Validate checks every section of the options.
func (o Options) Validate() error {
	if err := validateCredibilityOptions(o.Credibility); err != nil {
		return err
	}
	if err := validateObjectiveOptions(o.objective()); err != nil {
		return err
	}
	return validateOptimizerOptions(o.Optimizer)
}

func (o Options) objective() ObjectiveOptions {
	return ObjectiveOptions{
		GuardBand:     o.GuardBand,
		Penalty:       o.Penalty,
		ProgressEvery: o.ProgressEvery,
	}
}
