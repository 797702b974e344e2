package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"passlog/lifecycle"
)

// ErrInvalidRequest marks requests rejected before touching the store.
var ErrInvalidRequest = errors.New("invalid request")

// StartSuiteRequest is the body of create-suite.
type StartSuiteRequest struct {
	Name         *string  `json:"name,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	PlannedCases *int     `json:"planned_cases,omitempty" validate:"omitempty,gte=0"`
}

// UpdateSuiteRequest is the body of update-suite-status. Version is the
// version the caller last observed.
type UpdateSuiteRequest struct {
	Version int64                  `json:"version" validate:"required,gte=1"`
	Status  *lifecycle.SuiteStatus `json:"status,omitempty"`
	Result  *lifecycle.SuiteResult `json:"result,omitempty"`
}

// CreateCaseRequest is the body of create-case. Without a suite id the case
// starts a new suite. Args keeps the raw JSON so an explicit null is stored
// as null rather than dropped.
type CreateCaseRequest struct {
	SuiteID     *string         `json:"suite_id,omitempty" validate:"omitempty,min=1"`
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Args        json.RawMessage `json:"args,omitempty"`
}

// UpdateCaseRequest is the body of update-case-status/result.
type UpdateCaseRequest struct {
	Version int64                 `json:"version" validate:"required,gte=1"`
	Status  *lifecycle.CaseStatus `json:"status,omitempty"`
	Result  *lifecycle.CaseResult `json:"result,omitempty"`
}

// AppendLogRequest is the body of append-log-line.
type AppendLogRequest struct {
	Idx       *int64             `json:"idx,omitempty" validate:"omitempty,gte=0"`
	Level     lifecycle.LogLevel `json:"level" validate:"required"`
	Trace     *string            `json:"trace,omitempty"`
	Message   *string            `json:"message,omitempty"`
	Timestamp *int64             `json:"timestamp,omitempty" validate:"omitempty,gte=0"`
}

// CreateAttachmentRequest is the body of create-attachment.
type CreateAttachmentRequest struct {
	SuiteID     *string `json:"suite_id,omitempty" validate:"omitempty,min=1"`
	CaseID      *string `json:"case_id,omitempty" validate:"omitempty,min=1"`
	Filename    string  `json:"filename" validate:"required"`
	ContentType string  `json:"content_type" validate:"required"`
	Size        int64   `json:"size" validate:"gte=0"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
