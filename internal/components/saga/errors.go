package saga

import (
	"errors"
	"fmt"
	"strings"
)

// StepError is the failure of a single step.
type StepError struct {
	Step StepName
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// CompensationError is a compensation that failed while unwinding.
type CompensationError struct {
	Step StepName
	Err  error
}

func (e CompensationError) Error() string {
	return fmt.Sprintf("compensation of %s failed: %v", e.Step, e.Err)
}

// DistributedTransactionError is returned by Run after a step failed and the
// completed steps were compensated.
type DistributedTransactionError struct {
	SagaName           string
	CompletedSteps     []StepName
	FailedStep         StepName
	Cause              *StepError
	CompensationErrors []CompensationError
}

func (e *DistributedTransactionError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "saga %s failed at %s", e.SagaName, e.FailedStep)
	if len(e.CompletedSteps) > 0 {
		names := make([]string, len(e.CompletedSteps))
		for i, s := range e.CompletedSteps {
			names[i] = string(s)
		}
		fmt.Fprintf(&sb, " after [%s]", strings.Join(names, ", "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&sb, ": %v", e.Cause.Err)
	}
	if n := len(e.CompensationErrors); n > 0 {
		fmt.Fprintf(&sb, " (%d compensation(s) failed)", n)
	}
	return sb.String()
}

func (e *DistributedTransactionError) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// AsDistributedTransaction extracts a *DistributedTransactionError from err.
func AsDistributedTransaction(err error) (*DistributedTransactionError, bool) {
	var dte *DistributedTransactionError
	if errors.As(err, &dte) {
		return dte, true
	}
	return nil, false
}
