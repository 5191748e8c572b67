package session

import (
	"errors"
	"fmt"
)

var ErrStepOutOfOrder = errors.New("onboarding step out of order")

type StepError struct {
	From int
	To   int
}

func (e *StepError) Error() string {
	return fmt.Sprintf("onboarding step %d cannot move to %d", e.From, e.To)
}

func (e *StepError) Is(target error) bool {
	return target == ErrStepOutOfOrder
}

// transition is the funnel state machine: forward by one, or stay.
func transition(from, to int) (int, error) {
	if to < StepNone || to > TerminalStep {
		return from, &StepError{From: from, To: to}
	}
	if to <= from {
		return from, nil
	}
	if to != from+1 {
		return from, &StepError{From: from, To: to}
	}
	return to, nil
}
