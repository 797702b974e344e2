// Package report replays recorded suite runs from YAML report files through
// the ingestion service.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"passlog/lifecycle"
)

// Load reads and validates a report file.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rep, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rep, nil
}

// Parse decodes a report and fills in defaults. Unknown fields, results and
// log levels are rejected.
func Parse(data []byte) (*Report, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var rep Report
	if err := dec.Decode(&rep); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty report")
		}
		return nil, err
	}
	if err := rep.normalize(); err != nil {
		return nil, err
	}
	return &rep, nil
}

func (r *Report) normalize() error {
	if r.Suite.Result != "" && !r.Suite.Result.Known() {
		return fmt.Errorf("suite: unknown result %q", string(r.Suite.Result))
	}
	for i := range r.Cases {
		c := &r.Cases[i]
		if c.Result == "" {
			c.Result = lifecycle.CasePassed
		}
		if !c.Result.Known() {
			return fmt.Errorf("case %d (%s): unknown result %q", i, c.Name, string(c.Result))
		}
		for j := range c.Logs {
			l := &c.Logs[j]
			if l.Level == "" {
				l.Level = lifecycle.LevelInfo
			}
			if !l.Level.Known() {
				return fmt.Errorf("case %d (%s) log %d: unknown level %q", i, c.Name, j, string(l.Level))
			}
		}
		if err := checkAttachments(c.Attachments); err != nil {
			return fmt.Errorf("case %d (%s): %w", i, c.Name, err)
		}
	}
	if err := checkAttachments(r.Attachments); err != nil {
		return fmt.Errorf("suite: %w", err)
	}
	return nil
}

func checkAttachments(specs []AttachmentSpec) error {
	for i, a := range specs {
		if a.Filename == "" {
			return fmt.Errorf("attachment %d: filename is required", i)
		}
		if a.Size < 0 {
			return fmt.Errorf("attachment %d: negative size", i)
		}
	}
	return nil
}

// DerivedResult is the suite result implied by the cases: failed when any
// case failed, errored or was aborted, passed otherwise.
func (r *Report) DerivedResult() lifecycle.SuiteResult {
	if r.Suite.Result != "" {
		return r.Suite.Result
	}
	for _, c := range r.Cases {
		switch c.Result {
		case lifecycle.CaseFailed, lifecycle.CaseErrored, lifecycle.CaseAborted:
			return lifecycle.SuiteFailed
		}
	}
	return lifecycle.SuitePassed
}
