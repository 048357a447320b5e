package sweep

import "github.com/launchsweep/launchsweep/internal/runner"

// Outcome is the classified result of one launch attempt.
type Outcome int

const (
	// OutcomeSuccess means the launch reached readiness.
	OutcomeSuccess Outcome = iota
	// OutcomeFailure means the command ran and terminated without serving.
	OutcomeFailure
	// OutcomeTimeout means neither marker appeared before the deadline.
	OutcomeTimeout
	// OutcomeUnknown means the attempt produced no interpretable evidence.
	// For retry accounting it is treated like a failure.
	OutcomeUnknown
)

// String returns a short name for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Classify maps what the runner observed to an attempt outcome. The mapping
// is total: every signal has exactly one outcome.
func Classify(sig runner.Signal) Outcome {
	switch sig {
	case runner.SignalReady:
		return OutcomeSuccess
	case runner.SignalExited:
		return OutcomeFailure
	case runner.SignalTimeout:
		return OutcomeTimeout
	default:
		return OutcomeUnknown
	}
}
