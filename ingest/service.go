// Package ingest is the write surface of passlog. Each call validates its
// request, applies the lifecycle rules and performs one store transaction.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"passlog/jsonvalue"
	"passlog/lifecycle"
	"passlog/logger"
	"passlog/store"
)

// Service applies ingestion calls to the store.
type Service struct {
	store    *store.Store
	activity *Activity
	validate *validator.Validate
	now      func() time.Time
}

// Options configures a Service.
type Options struct {
	// Now is the clock used for activity tracking. Defaults to time.Now.
	Now func() time.Time
}

// NewService returns a service writing to st.
func NewService(st *store.Store, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    st,
		activity: NewActivity(),
		validate: newValidator(),
		now:      now,
	}
}

// Activity exposes the tracker shared with the Sweeper.
func (s *Service) Activity() *Activity {
	return s.activity
}

// StartSuite creates a suite in status started.
func (s *Service) StartSuite(ctx context.Context, req StartSuiteRequest) (*store.Suite, error) {
	if err := s.check(&req); err != nil {
		return nil, err
	}
	suite, err := s.store.CreateSuite(ctx, store.NewSuite{
		Name:         req.Name,
		Tags:         req.Tags,
		PlannedCases: req.PlannedCases,
	})
	if err != nil {
		return nil, err
	}
	s.activity.Touch(suite.ID, s.now())
	logger.Logger.Info().Str("suite_id", suite.ID).Msg("suite started")
	return suite, nil
}

// UpdateSuite moves a suite to a new status and/or sets its result. When the
// suite becomes disconnected its open cases are finished as aborted in the
// same transaction.
func (s *Service) UpdateSuite(ctx context.Context, id string, req UpdateSuiteRequest) (*store.Suite, error) {
	if err := s.check(&req); err != nil {
		return nil, err
	}
	if req.Status == nil && req.Result == nil {
		return nil, invalid("status or result is required")
	}

	var out *store.Suite
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		suite, err := s.transitionSuite(tx, id, req.Version, req.Status, req.Result)
		out = suite
		return err
	})
	if err != nil {
		return nil, err
	}
	s.trackSuite(out)
	return out, nil
}

// Disconnect marks a started suite disconnected. Deleted suites and suites
// in any other status are returned unchanged.
func (s *Service) Disconnect(ctx context.Context, id string) (*store.Suite, error) {
	out, _, err := s.disconnect(ctx, id, time.Time{})
	return out, err
}

// disconnect is Disconnect for the sweeper: with a non-zero idleBefore the
// suite is left alone when its last activity is not before idleBefore.
// Writes touch activity inside their transactions, so the check sees every
// write committed before it. changed reports whether the suite was
// disconnected by this call.
func (s *Service) disconnect(ctx context.Context, id string, idleBefore time.Time) (out *store.Suite, changed bool, err error) {
	disconnected := lifecycle.SuiteDisconnected
	err = s.store.Update(ctx, func(tx *store.Tx) error {
		cur, err := tx.Suite(id)
		if err != nil {
			return err
		}
		out = cur
		if cur.Status != lifecycle.SuiteStarted || cur.Deleted {
			return nil
		}
		if !idleBefore.IsZero() {
			if last, ok := s.activity.LastSeen(id); ok && !last.Before(idleBefore) {
				return nil
			}
		}
		if out, err = s.transitionSuite(tx, id, cur.Version, &disconnected, nil); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.trackSuite(out)
	}
	return out, changed, nil
}

func (s *Service) transitionSuite(tx *store.Tx, id string, version int64, status *lifecycle.SuiteStatus, result *lifecycle.SuiteResult) (*store.Suite, error) {
	var from lifecycle.SuiteStatus
	suite, err := tx.UpdateSuite(id, version, func(su *store.Suite) error {
		from = su.Status
		to := su.Status
		if status != nil {
			to = *status
		}
		if su.Deleted {
			return &lifecycle.InvalidTransitionError{
				Entity: "suite",
				From:   string(su.Status),
				To:     string(to),
				Reason: "suite is deleted",
			}
		}
		if err := lifecycle.SuiteTransition(su.Status, to, su.Result, result); err != nil {
			return err
		}
		now := tx.Now()
		su.Status = to
		if result != nil {
			r := *result
			su.Result = &r
		}
		switch to {
		case lifecycle.SuiteFinished:
			if su.FinishedAt == nil {
				su.FinishedAt = &now
			}
		case lifecycle.SuiteDisconnected:
			if su.DisconnectedAt == nil {
				su.DisconnectedAt = &now
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if from != lifecycle.SuiteDisconnected && suite.Status == lifecycle.SuiteDisconnected {
		if err := abortOpenCases(tx, suite.ID); err != nil {
			return nil, err
		}
		logger.Logger.Warn().Str("suite_id", suite.ID).Msg("suite disconnected")
	}
	return suite, nil
}

func abortOpenCases(tx *store.Tx, suiteID string) error {
	cases, err := tx.Cases(suiteID)
	if err != nil {
		return err
	}
	aborted := lifecycle.CaseAborted
	finished := lifecycle.CaseFinished
	for _, c := range cases {
		if c.Status == lifecycle.CaseFinished {
			continue
		}
		_, err := tx.UpdateCase(c.ID, c.Version, func(cc *store.Case) error {
			return applyCaseTransition(cc, &finished, &aborted, tx.Now())
		})
		if err != nil {
			return fmt.Errorf("abort case %s: %w", c.ID, err)
		}
	}
	return nil
}

// DeleteSuite soft-deletes a suite. version 0 deletes unconditionally.
func (s *Service) DeleteSuite(ctx context.Context, id string, version int64) (*store.Suite, error) {
	if version < 0 {
		return nil, invalid("version must not be negative")
	}
	suite, err := s.store.SoftDeleteSuite(ctx, id, version)
	if err != nil {
		return nil, err
	}
	s.activity.Forget(suite.ID)
	return suite, nil
}

// CreateCase adds a case to a started suite, or starts a new suite for it
// when no suite id is given.
func (s *Service) CreateCase(ctx context.Context, req CreateCaseRequest) (*store.Case, error) {
	if err := s.check(&req); err != nil {
		return nil, err
	}
	var args *jsonvalue.Doc
	if len(req.Args) > 0 {
		v, err := jsonvalue.Parse(req.Args)
		if err != nil {
			return nil, invalid("args: %v", err)
		}
		args = jsonvalue.NewDoc(v)
	}

	var out *store.Case
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		suiteID := ""
		if req.SuiteID != nil {
			suiteID = *req.SuiteID
			suite, err := tx.Suite(suiteID)
			if errors.Is(err, store.ErrNotFound) {
				return invalid("suite %s does not exist", suiteID)
			}
			if err != nil {
				return err
			}
			if err := suiteAcceptsCases(suite); err != nil {
				return err
			}
		}
		c, err := tx.CreateCase(suiteID, store.NewCase{
			Name:        req.Name,
			Description: req.Description,
			Tags:        req.Tags,
			Args:        args,
		})
		if err != nil {
			return err
		}
		out = c
		s.activity.Touch(c.SuiteID, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func suiteAcceptsCases(suite *store.Suite) error {
	reason := ""
	switch {
	case suite.Deleted:
		reason = fmt.Sprintf("suite %s is deleted", suite.ID)
	case suite.Status != lifecycle.SuiteStarted:
		reason = fmt.Sprintf("suite %s is %s", suite.ID, suite.Status)
	default:
		return nil
	}
	return &lifecycle.InvalidTransitionError{
		Entity: "case",
		From:   "none",
		To:     string(lifecycle.CaseCreated),
		Reason: reason,
	}
}

// UpdateCase moves a case to a new status and/or sets its result.
func (s *Service) UpdateCase(ctx context.Context, id string, req UpdateCaseRequest) (*store.Case, error) {
	if err := s.check(&req); err != nil {
		return nil, err
	}
	if req.Status == nil && req.Result == nil {
		return nil, invalid("status or result is required")
	}

	var out *store.Case
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		c, err := tx.UpdateCase(id, req.Version, func(c *store.Case) error {
			return applyCaseTransition(c, req.Status, req.Result, tx.Now())
		})
		if err != nil {
			return err
		}
		out = c
		s.activity.Touch(c.SuiteID, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func applyCaseTransition(c *store.Case, status *lifecycle.CaseStatus, result *lifecycle.CaseResult, now int64) error {
	to := c.Status
	if status != nil {
		to = *status
	}
	if err := lifecycle.CaseTransition(c.Status, to, c.Result, result); err != nil {
		return err
	}
	c.Status = to
	if result != nil {
		r := *result
		c.Result = &r
	}
	switch to {
	case lifecycle.CaseStarted:
		if c.StartedAt == nil {
			c.StartedAt = &now
		}
	case lifecycle.CaseFinished:
		if c.FinishedAt == nil {
			c.FinishedAt = &now
		}
	}
	return nil
}

// AppendLog appends the next log line of a case.
func (s *Service) AppendLog(ctx context.Context, caseID string, req AppendLogRequest) (*store.LogLine, error) {
	if err := s.check(&req); err != nil {
		return nil, err
	}
	if !req.Level.Known() {
		return nil, invalid("unknown log level %q", string(req.Level))
	}

	var out *store.LogLine
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		c, err := tx.Case(caseID)
		if err != nil {
			return err
		}
		if c.Status == lifecycle.CaseFinished {
			return &lifecycle.InvalidTransitionError{
				Entity: "log",
				From:   "none",
				To:     "appended",
				Reason: fmt.Sprintf("case %s is finished", caseID),
			}
		}
		out, err = tx.AppendLogLine(caseID, store.NewLogLine{
			Idx:       req.Idx,
			Level:     req.Level,
			Trace:     req.Trace,
			Message:   req.Message,
			Timestamp: req.Timestamp,
		})
		if err != nil {
			return err
		}
		s.activity.Touch(c.SuiteID, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateAttachment records attachment metadata for a suite, a case, or neither.
func (s *Service) CreateAttachment(ctx context.Context, req CreateAttachmentRequest) (*store.Attachment, error) {
	if err := s.check(&req); err != nil {
		return nil, err
	}
	if req.SuiteID != nil && req.CaseID != nil {
		return nil, invalid("suite_id and case_id are mutually exclusive")
	}

	var suiteID string
	var out *store.Attachment
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		switch {
		case req.SuiteID != nil:
			if _, err := tx.Suite(*req.SuiteID); errors.Is(err, store.ErrNotFound) {
				return invalid("suite %s does not exist", *req.SuiteID)
			} else if err != nil {
				return err
			}
			suiteID = *req.SuiteID
		case req.CaseID != nil:
			c, err := tx.Case(*req.CaseID)
			if errors.Is(err, store.ErrNotFound) {
				return invalid("case %s does not exist", *req.CaseID)
			} else if err != nil {
				return err
			}
			suiteID = c.SuiteID
		}
		a, err := tx.CreateAttachment(store.NewAttachment{
			SuiteID:     req.SuiteID,
			CaseID:      req.CaseID,
			Filename:    req.Filename,
			ContentType: req.ContentType,
			Size:        req.Size,
		})
		if err != nil {
			return err
		}
		out = a
		if suiteID != "" {
			s.activity.Touch(suiteID, s.now())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteAttachment soft-deletes an attachment. version 0 deletes
// unconditionally.
func (s *Service) DeleteAttachment(ctx context.Context, id string, version int64) (*store.Attachment, error) {
	if version < 0 {
		return nil, invalid("version must not be negative")
	}
	return s.store.SoftDeleteAttachment(ctx, id, version)
}

func (s *Service) trackSuite(suite *store.Suite) {
	if suite.Status.Terminal() || suite.Deleted {
		s.activity.Forget(suite.ID)
		return
	}
	s.activity.Touch(suite.ID, s.now())
}
