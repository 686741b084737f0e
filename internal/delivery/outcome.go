package delivery

import "context"

// OutcomeKind is the result class of one delivery attempt.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetry
	OutcomeExhausted
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetry:
		return "retry"
	case OutcomeExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Outcome is what the worker acts on after an attempt. Remaining is the budget
// left for a retry; Err is the failure of the attempt.
type Outcome struct {
	Kind      OutcomeKind
	Remaining int
	Err       error
}

// attempt runs one delivery of t and spends one unit of its budget on failure.
func attempt(ctx context.Context, d Deliverer, t *Task) Outcome {
	err := d.Deliver(ctx, t.Target, t.Request)
	if err == nil {
		return Outcome{Kind: OutcomeSuccess}
	}
	return failed(t.Remaining, err)
}

// failed spends one attempt out of remaining.
func failed(remaining int, err error) Outcome {
	remaining--
	if remaining > 0 {
		return Outcome{Kind: OutcomeRetry, Remaining: remaining, Err: err}
	}
	return Outcome{Kind: OutcomeExhausted, Err: err}
}
