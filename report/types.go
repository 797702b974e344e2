package report

import (
	"time"

	"gopkg.in/yaml.v3"

	"passlog/lifecycle"
)

// Report is one recorded suite run, as written in a report file
type Report struct {
	Suite       SuiteSpec        `yaml:"suite"`
	Cases       []CaseSpec       `yaml:"cases"`
	Attachments []AttachmentSpec `yaml:"attachments"`
}

// SuiteSpec describes the suite. An empty Result is derived from the cases.
type SuiteSpec struct {
	Name   string                `yaml:"name"`
	Tags   []string              `yaml:"tags"`
	Result lifecycle.SuiteResult `yaml:"result"`
}

// CaseSpec describes one case and everything it produced
type CaseSpec struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Tags        []string             `yaml:"tags"`
	Args        yaml.Node            `yaml:"args"`
	Result      lifecycle.CaseResult `yaml:"result"` // defaults to "passed"
	Logs        []LogSpec            `yaml:"logs"`
	Attachments []AttachmentSpec     `yaml:"attachments"`
}

// LogSpec is one log line of a case
type LogSpec struct {
	Level   lifecycle.LogLevel `yaml:"level"` // defaults to "info"
	Message string             `yaml:"message"`
	Trace   string             `yaml:"trace"`
}

// AttachmentSpec is attachment metadata
type AttachmentSpec struct {
	Filename    string `yaml:"filename"`
	ContentType string `yaml:"content_type"`
	Size        int64  `yaml:"size"`
}

// Result is the outcome of replaying a report
type Result struct {
	SuiteID  string                `json:"suite_id"`
	Status   lifecycle.SuiteStatus `json:"status"`
	Result   lifecycle.SuiteResult `json:"result,omitempty"`
	Cases    []CaseOutcome         `json:"cases"`
	Duration time.Duration         `json:"duration"`
}

// CaseOutcome is the replayed state of a single case
type CaseOutcome struct {
	ID     string               `json:"id"`
	Name   string               `json:"name"`
	Result lifecycle.CaseResult `json:"result"`
	Lines  int                  `json:"lines"`
}
