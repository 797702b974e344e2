package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"passlog/lifecycle"
)

const logLineColumns = "id, case_id, idx, level, trace, message, timestamp"

func scanLogLine(row scanner) (*LogLine, error) {
	var l LogLine
	var level string
	var trace, message sql.NullString

	if err := row.Scan(&l.ID, &l.CaseID, &l.Idx, &level, &trace, &message, &l.Timestamp); err != nil {
		return nil, err
	}
	l.Level = lifecycle.LogLevel(level)
	l.Trace = stringPtr(trace)
	l.Message = stringPtr(message)
	return &l, nil
}

// AppendLogLine adds the next log line of a case. A supplied idx must be
// exactly one past the last line (0 for the first), otherwise the call
// fails with ErrOutOfOrder.
func (tx *Tx) AppendLogLine(caseID string, n NewLogLine) (*LogLine, error) {
	if _, err := tx.Case(caseID); err != nil {
		return nil, err
	}

	var last sql.NullInt64
	err := tx.tx.QueryRowContext(tx.ctx, "SELECT MAX(idx) FROM log_lines WHERE case_id = ?", caseID).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to get last log idx: %w", err)
	}
	next := int64(0)
	if last.Valid {
		next = last.Int64 + 1
	}
	if n.Idx != nil && *n.Idx != next {
		return nil, fmt.Errorf("case %s log idx %d, want %d: %w", caseID, *n.Idx, next, ErrOutOfOrder)
	}

	l := &LogLine{
		ID:        tx.store.newID(),
		CaseID:    caseID,
		Idx:       next,
		Level:     n.Level,
		Trace:     n.Trace,
		Message:   n.Message,
		Timestamp: tx.now,
	}
	if n.Timestamp != nil {
		l.Timestamp = *n.Timestamp
	}

	_, err = tx.tx.ExecContext(tx.ctx,
		"INSERT INTO log_lines (id, case_id, idx, level, trace, message, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)",
		l.ID, l.CaseID, l.Idx, string(l.Level), nullString(l.Trace), nullString(l.Message), l.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append log line: %w", err)
	}
	if err := tx.record(KindLogLine, l.ID, 1, MutationCreate, l); err != nil {
		return nil, err
	}
	return l, nil
}

// AppendLogLine runs Tx.AppendLogLine in its own transaction.
func (s *Store) AppendLogLine(ctx context.Context, caseID string, n NewLogLine) (*LogLine, error) {
	var out *LogLine
	err := s.Update(ctx, func(tx *Tx) (err error) {
		out, err = tx.AppendLogLine(caseID, n)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetLogLine retrieves a single log line by id
func (s *Store) GetLogLine(ctx context.Context, id string) (*LogLine, error) {
	l, err := scanLogLine(s.db.QueryRowContext(ctx, "SELECT "+logLineColumns+" FROM log_lines WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("log line %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get log line: %w", err)
	}
	return l, nil
}

// ListLogLines returns up to limit lines of a case with idx greater than
// afterIdx, in idx order. Pass -1 to start at the first line.
func (s *Store) ListLogLines(ctx context.Context, caseID string, afterIdx int64, limit int) ([]*LogLine, error) {
	if _, err := getCase(ctx, s.db, caseID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+logLineColumns+" FROM log_lines WHERE case_id = ? AND idx > ? ORDER BY idx ASC LIMIT ?",
		caseID, afterIdx, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query log lines: %w", err)
	}
	defer rows.Close()

	lines := make([]*LogLine, 0)
	for rows.Next() {
		l, err := scanLogLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
