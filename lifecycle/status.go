// Package lifecycle defines suite and case statuses and the transitions
// allowed between them.
//
// Status and result values decode from any string. Values outside the known
// set report Known() == false and keep their raw text, so records written by
// newer producers still read back while transitions into them are refused.
package lifecycle

// SuiteStatus is the lifecycle status of a suite.
type SuiteStatus string

const (
	SuiteStarted      SuiteStatus = "started"
	SuiteFinished     SuiteStatus = "finished"
	SuiteDisconnected SuiteStatus = "disconnected"
)

// Known reports whether s is one of the defined suite statuses.
func (s SuiteStatus) Known() bool {
	switch s {
	case SuiteStarted, SuiteFinished, SuiteDisconnected:
		return true
	}
	return false
}

// Terminal reports whether no further status change is allowed from s.
func (s SuiteStatus) Terminal() bool {
	return s == SuiteFinished || s == SuiteDisconnected
}

// SuiteResult is the outcome of a finished suite.
type SuiteResult string

const (
	SuitePassed SuiteResult = "passed"
	SuiteFailed SuiteResult = "failed"
)

// Known reports whether r is one of the defined suite results.
func (r SuiteResult) Known() bool {
	return r == SuitePassed || r == SuiteFailed
}

// CaseStatus is the lifecycle status of a case.
type CaseStatus string

const (
	CaseCreated  CaseStatus = "created"
	CaseStarted  CaseStatus = "started"
	CaseFinished CaseStatus = "finished"
)

// Known reports whether s is one of the defined case statuses.
func (s CaseStatus) Known() bool {
	switch s {
	case CaseCreated, CaseStarted, CaseFinished:
		return true
	}
	return false
}

// CaseResult is the outcome of a finished case.
type CaseResult string

const (
	CasePassed  CaseResult = "passed"
	CaseFailed  CaseResult = "failed"
	CaseSkipped CaseResult = "skipped"
	CaseAborted CaseResult = "aborted"
	CaseErrored CaseResult = "errored"
)

// Known reports whether r is one of the defined case results.
func (r CaseResult) Known() bool {
	switch r {
	case CasePassed, CaseFailed, CaseSkipped, CaseAborted, CaseErrored:
		return true
	}
	return false
}

// LogLevel is the severity of a log line.
type LogLevel string

const (
	LevelTrace LogLevel = "trace"
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Known reports whether l is one of the defined log levels.
func (l LogLevel) Known() bool {
	switch l {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	}
	return false
}
