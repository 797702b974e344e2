package store

import (
	"encoding/json"

	"passlog/jsonvalue"
	"passlog/lifecycle"
)

// Suite represents one test-run session
type Suite struct {
	ID             string                 `json:"id"`
	Name           *string                `json:"name,omitempty"`
	Tags           []string               `json:"tags,omitempty"`
	PlannedCases   *int                   `json:"planned_cases,omitempty"`
	Status         lifecycle.SuiteStatus  `json:"status"`
	Result         *lifecycle.SuiteResult `json:"result,omitempty"`
	StartedAt      int64                  `json:"started_at"`
	FinishedAt     *int64                 `json:"finished_at,omitempty"`
	DisconnectedAt *int64                 `json:"disconnected_at,omitempty"`
	Version        int64                  `json:"version"`
	Deleted        bool                   `json:"deleted,omitempty"`
	DeletedAt      *int64                 `json:"deleted_at,omitempty"`
}

// Case represents a single test execution within a suite
type Case struct {
	ID          string                `json:"id"`
	SuiteID     string                `json:"suite_id"`
	Idx         int64                 `json:"idx"`
	Name        *string               `json:"name,omitempty"`
	Description *string               `json:"description,omitempty"`
	Tags        []string              `json:"tags,omitempty"`
	Args        *jsonvalue.Doc        `json:"args,omitempty"`
	Status      lifecycle.CaseStatus  `json:"status"`
	Result      *lifecycle.CaseResult `json:"result,omitempty"`
	CreatedAt   int64                 `json:"created_at"`
	StartedAt   *int64                `json:"started_at,omitempty"`
	FinishedAt  *int64                `json:"finished_at,omitempty"`
	Version     int64                 `json:"version"`
}

// LogLine is one append-only record of a case's output
type LogLine struct {
	ID        string             `json:"id"`
	CaseID    string             `json:"case_id"`
	Idx       int64              `json:"idx"`
	Level     lifecycle.LogLevel `json:"level"`
	Trace     *string            `json:"trace,omitempty"`
	Message   *string            `json:"message,omitempty"`
	Timestamp int64              `json:"timestamp"`
}

// Attachment is file metadata linked to a suite, a case, or neither
type Attachment struct {
	ID          string  `json:"id"`
	SuiteID     *string `json:"suite_id,omitempty"`
	CaseID      *string `json:"case_id,omitempty"`
	Filename    string  `json:"filename"`
	ContentType string  `json:"content_type"`
	Size        int64   `json:"size"`
	Timestamp   int64   `json:"timestamp"`
	Version     int64   `json:"version"`
	Deleted     bool    `json:"deleted,omitempty"`
	DeletedAt   *int64  `json:"deleted_at,omitempty"`
}

// NewSuite holds the caller-supplied fields of a suite.
type NewSuite struct {
	Name         *string
	Tags         []string
	PlannedCases *int
}

// NewCase holds the caller-supplied fields of a case.
type NewCase struct {
	Name        *string
	Description *string
	Tags        []string
	Args        *jsonvalue.Doc
}

// NewLogLine holds the caller-supplied fields of a log line. A nil Idx is
// assigned as the next index.
type NewLogLine struct {
	Idx       *int64
	Level     lifecycle.LogLevel
	Trace     *string
	Message   *string
	Timestamp *int64
}

// NewAttachment holds the caller-supplied fields of an attachment.
type NewAttachment struct {
	SuiteID     *string
	CaseID      *string
	Filename    string
	ContentType string
	Size        int64
}

// Kind names an entity table.
type Kind string

const (
	KindSuite      Kind = "suite"
	KindCase       Kind = "case"
	KindLogLine    Kind = "log"
	KindAttachment Kind = "attachment"
)

// Mutation is the type of change applied to an entity.
type Mutation string

const (
	MutationCreate Mutation = "create"
	MutationUpdate Mutation = "update"
	MutationDelete Mutation = "delete"
)

// Change is one committed mutation as recorded in the changes table.
type Change struct {
	Seq         int64           `json:"seq"`
	Kind        Kind            `json:"kind"`
	ID          string          `json:"id"`
	Version     int64           `json:"version"`
	Mutation    Mutation        `json:"mutation"`
	CommittedAt int64           `json:"committed_at"`
	Entity      json.RawMessage `json:"entity,omitempty"`
}

// AttachmentFilter narrows ListAttachments. SuiteID and CaseID combine with AND.
type AttachmentFilter struct {
	SuiteID        string
	CaseID         string
	IncludeDeleted bool
}
