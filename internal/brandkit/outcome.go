package brandkit

// OutcomeKind tags the result of one step execution.
type OutcomeKind int

const (
	// OutcomeContinue means the step finished and another step follows.
	OutcomeContinue OutcomeKind = iota
	// OutcomeSuccess means the pipeline produced its final result.
	OutcomeSuccess
	// OutcomeFailure means the step failed. Err carries the classified cause.
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeContinue:
		return "continue"
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Outcome is what a step executor returns. Exactly one of Next, Result or Err
// is meaningful, selected by Kind.
type Outcome struct {
	Kind    OutcomeKind
	Next    Step
	Context StepContext
	Result  *BrandKit
	Err     error
}

// Continue builds an outcome that advances the job to next.
func Continue(next Step, sc StepContext) Outcome {
	return Outcome{Kind: OutcomeContinue, Next: next, Context: sc}
}

// Success builds an outcome carrying the final brand kit.
func Success(kit BrandKit, sc StepContext) Outcome {
	return Outcome{Kind: OutcomeSuccess, Result: &kit, Context: sc}
}

// Failure builds an outcome carrying a classified error.
func Failure(err error, sc StepContext) Outcome {
	return Outcome{Kind: OutcomeFailure, Err: err, Context: sc}
}
