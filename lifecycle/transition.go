package lifecycle

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition matches every *InvalidTransitionError.
var ErrInvalidTransition = errors.New("invalid transition")

// InvalidTransitionError describes a rejected status or result change.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s: %s", e.Entity, e.From, e.To, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidTransition) match.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

var suiteEdges = map[SuiteStatus][]SuiteStatus{
	SuiteStarted: {SuiteFinished, SuiteDisconnected},
}

var caseEdges = map[CaseStatus][]CaseStatus{
	CaseCreated: {CaseStarted, CaseFinished},
	CaseStarted: {CaseFinished},
}

// SuiteTransition validates moving a suite from status from to status to.
// cur is the stored result and next the result supplied with the change; a
// result can only accompany the finished status and can only be set once.
// Re-sending finished with a result is accepted while no result is stored.
func SuiteTransition(from, to SuiteStatus, cur, next *SuiteResult) error {
	fail := func(reason string) error {
		return &InvalidTransitionError{Entity: "suite", From: string(from), To: string(to), Reason: reason}
	}
	if !to.Known() {
		return fail("unknown target status")
	}
	if next != nil {
		if !next.Known() {
			return fail(fmt.Sprintf("unknown result %q", string(*next)))
		}
		if to != SuiteFinished {
			return fail("result requires status finished")
		}
		if cur != nil {
			return fail("result already set")
		}
	}
	if from == to {
		if to == SuiteFinished && next != nil {
			return nil
		}
		return fail("status unchanged")
	}
	for _, allowed := range suiteEdges[from] {
		if allowed == to {
			return nil
		}
	}
	if from.Terminal() {
		return fail("status is terminal")
	}
	return fail("no such edge")
}

// CaseTransition is SuiteTransition for cases.
func CaseTransition(from, to CaseStatus, cur, next *CaseResult) error {
	fail := func(reason string) error {
		return &InvalidTransitionError{Entity: "case", From: string(from), To: string(to), Reason: reason}
	}
	if !to.Known() {
		return fail("unknown target status")
	}
	if next != nil {
		if !next.Known() {
			return fail(fmt.Sprintf("unknown result %q", string(*next)))
		}
		if to != CaseFinished {
			return fail("result requires status finished")
		}
		if cur != nil {
			return fail("result already set")
		}
	}
	if from == to {
		if to == CaseFinished && next != nil {
			return nil
		}
		return fail("status unchanged")
	}
	for _, allowed := range caseEdges[from] {
		if allowed == to {
			return nil
		}
	}
	if from == CaseFinished {
		return fail("status is terminal")
	}
	return fail("no such edge")
}
