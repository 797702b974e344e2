package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"passlog/ingest"
	"passlog/jsonvalue"
	"passlog/lifecycle"
	"passlog/logger"
)

// Options configures Replay.
type Options struct {
	// Out receives a progress line per case when set.
	Out io.Writer
}

// Replay pushes a report through the ingestion service with the full
// lifecycle: start the suite, then create, start, log and finish every case,
// then finish the suite. If a step fails the suite is disconnected so its
// open cases end up aborted.
func Replay(ctx context.Context, svc *ingest.Service, rep *Report, opts Options) (*Result, error) {
	startTime := time.Now()

	req := ingest.StartSuiteRequest{Tags: rep.Suite.Tags}
	if rep.Suite.Name != "" {
		req.Name = &rep.Suite.Name
	}
	if n := len(rep.Cases); n > 0 {
		req.PlannedCases = &n
	}
	suite, err := svc.StartSuite(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to start suite: %w", err)
	}

	result := &Result{
		SuiteID: suite.ID,
		Status:  suite.Status,
		Cases:   make([]CaseOutcome, 0, len(rep.Cases)),
	}
	abort := func(err error) (*Result, error) {
		result.Duration = time.Since(startTime)
		if s, derr := svc.Disconnect(ctx, suite.ID); derr != nil {
			logger.Logger.Error().Err(derr).Str("suite_id", suite.ID).Msg("failed to disconnect suite after replay error")
		} else {
			result.Status = s.Status
		}
		return result, err
	}

	for _, spec := range rep.Attachments {
		if _, err := svc.CreateAttachment(ctx, attachmentRequest(spec, &suite.ID, nil)); err != nil {
			return abort(fmt.Errorf("suite attachment %s: %w", spec.Filename, err))
		}
	}

	for i := range rep.Cases {
		spec := &rep.Cases[i]
		if opts.Out != nil {
			fmt.Fprintln(opts.Out, "→", spec.Name)
		}
		outcome, err := replayCase(ctx, svc, suite.ID, spec)
		if err != nil {
			if opts.Out != nil {
				fmt.Fprintln(opts.Out, "❌ Case failed:", err)
			}
			return abort(fmt.Errorf("case '%s' failed: %w", spec.Name, err))
		}
		result.Cases = append(result.Cases, outcome)
		if opts.Out != nil {
			fmt.Fprintf(opts.Out, "✅ Done: %s (%s)\n", spec.Name, outcome.Result)
		}
	}

	suiteResult := rep.DerivedResult()
	finished := lifecycle.SuiteFinished
	suite, err = svc.UpdateSuite(ctx, suite.ID, ingest.UpdateSuiteRequest{
		Version: suite.Version,
		Status:  &finished,
		Result:  &suiteResult,
	})
	if err != nil {
		return abort(fmt.Errorf("failed to finish suite: %w", err))
	}

	result.Status = suite.Status
	result.Result = suiteResult
	result.Duration = time.Since(startTime)
	return result, nil
}

func replayCase(ctx context.Context, svc *ingest.Service, suiteID string, spec *CaseSpec) (CaseOutcome, error) {
	req := ingest.CreateCaseRequest{SuiteID: &suiteID, Tags: spec.Tags}
	if spec.Name != "" {
		req.Name = &spec.Name
	}
	if spec.Description != "" {
		req.Description = &spec.Description
	}
	if spec.Args.Kind != 0 {
		v, err := jsonvalue.FromYAML(&spec.Args)
		if err != nil {
			return CaseOutcome{}, fmt.Errorf("args: %w", err)
		}
		raw, err := jsonvalue.Marshal(v)
		if err != nil {
			return CaseOutcome{}, fmt.Errorf("args: %w", err)
		}
		req.Args = raw
	}

	c, err := svc.CreateCase(ctx, req)
	if err != nil {
		return CaseOutcome{}, err
	}

	// Skipped cases finish straight from created.
	if spec.Result != lifecycle.CaseSkipped {
		started := lifecycle.CaseStarted
		c, err = svc.UpdateCase(ctx, c.ID, ingest.UpdateCaseRequest{Version: c.Version, Status: &started})
		if err != nil {
			return CaseOutcome{}, err
		}
	}

	for _, l := range spec.Logs {
		lreq := ingest.AppendLogRequest{Level: l.Level}
		if l.Message != "" {
			msg := l.Message
			lreq.Message = &msg
		}
		if l.Trace != "" {
			trace := l.Trace
			lreq.Trace = &trace
		}
		if _, err := svc.AppendLog(ctx, c.ID, lreq); err != nil {
			return CaseOutcome{}, err
		}
	}

	for _, a := range spec.Attachments {
		if _, err := svc.CreateAttachment(ctx, attachmentRequest(a, nil, &c.ID)); err != nil {
			return CaseOutcome{}, fmt.Errorf("attachment %s: %w", a.Filename, err)
		}
	}

	finished := lifecycle.CaseFinished
	caseResult := spec.Result
	c, err = svc.UpdateCase(ctx, c.ID, ingest.UpdateCaseRequest{
		Version: c.Version,
		Status:  &finished,
		Result:  &caseResult,
	})
	if err != nil {
		return CaseOutcome{}, err
	}

	return CaseOutcome{
		ID:     c.ID,
		Name:   spec.Name,
		Result: caseResult,
		Lines:  len(spec.Logs),
	}, nil
}

func attachmentRequest(spec AttachmentSpec, suiteID, caseID *string) ingest.CreateAttachmentRequest {
	contentType := spec.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return ingest.CreateAttachmentRequest{
		SuiteID:     suiteID,
		CaseID:      caseID,
		Filename:    spec.Filename,
		ContentType: contentType,
		Size:        spec.Size,
	}
}
