package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"passlog/lifecycle"
)

const suiteColumns = "id, name, tags, planned_cases, status, result, started_at, finished_at, disconnected_at, version, deleted, deleted_at"

func scanSuite(row scanner) (*Suite, error) {
	var s Suite
	var name, tags, status, result sql.NullString
	var planned, finishedAt, disconnectedAt, deletedAt sql.NullInt64

	err := row.Scan(&s.ID, &name, &tags, &planned, &status, &result, &s.StartedAt,
		&finishedAt, &disconnectedAt, &s.Version, &s.Deleted, &deletedAt)
	if err != nil {
		return nil, err
	}

	s.Name = stringPtr(name)
	if s.Tags, err = decodeTags(tags); err != nil {
		return nil, fmt.Errorf("suite %s has malformed tags: %w", s.ID, err)
	}
	if planned.Valid {
		n := int(planned.Int64)
		s.PlannedCases = &n
	}
	s.Status = lifecycle.SuiteStatus(status.String)
	if result.Valid {
		r := lifecycle.SuiteResult(result.String)
		s.Result = &r
	}
	s.FinishedAt = intPtr(finishedAt)
	s.DisconnectedAt = intPtr(disconnectedAt)
	s.DeletedAt = intPtr(deletedAt)
	return &s, nil
}

func getSuite(ctx context.Context, q querier, id string) (*Suite, error) {
	s, err := scanSuite(q.QueryRowContext(ctx, "SELECT "+suiteColumns+" FROM suites WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("suite %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get suite: %w", err)
	}
	return s, nil
}

// CreateSuite inserts a new suite in status started.
func (tx *Tx) CreateSuite(n NewSuite) (*Suite, error) {
	s := &Suite{
		ID:           tx.store.newID(),
		Name:         n.Name,
		Tags:         n.Tags,
		PlannedCases: n.PlannedCases,
		Status:       lifecycle.SuiteStarted,
		StartedAt:    tx.now,
		Version:      1,
	}
	tags, err := encodeTags(s.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode suite tags: %w", err)
	}
	var planned sql.NullInt64
	if s.PlannedCases != nil {
		planned = sql.NullInt64{Int64: int64(*s.PlannedCases), Valid: true}
	}

	_, err = tx.tx.ExecContext(tx.ctx,
		"INSERT INTO suites (id, name, tags, planned_cases, status, started_at, version) VALUES (?, ?, ?, ?, ?, ?, ?)",
		s.ID, nullString(s.Name), tags, planned, string(s.Status), s.StartedAt, s.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create suite: %w", err)
	}
	if err := tx.record(KindSuite, s.ID, s.Version, MutationCreate, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Suite reads a suite inside the transaction.
func (tx *Tx) Suite(id string) (*Suite, error) {
	return getSuite(tx.ctx, tx.tx, id)
}

// UpdateSuite loads the suite, checks expected against the stored version,
// applies fn to a copy and writes it back with the version bumped by one.
func (tx *Tx) UpdateSuite(id string, expected int64, fn func(s *Suite) error) (*Suite, error) {
	cur, err := tx.Suite(id)
	if err != nil {
		return nil, err
	}
	if cur.Version != expected {
		return nil, fmt.Errorf("suite %s at version %d, expected %d: %w", id, cur.Version, expected, ErrVersionConflict)
	}

	next := *cur
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.Version = cur.Version + 1

	tags, err := encodeTags(next.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode suite tags: %w", err)
	}
	var result sql.NullString
	if next.Result != nil {
		result = sql.NullString{String: string(*next.Result), Valid: true}
	}
	var planned sql.NullInt64
	if next.PlannedCases != nil {
		planned = sql.NullInt64{Int64: int64(*next.PlannedCases), Valid: true}
	}

	res, err := tx.tx.ExecContext(tx.ctx,
		`UPDATE suites SET name = ?, tags = ?, planned_cases = ?, status = ?, result = ?,
			finished_at = ?, disconnected_at = ?, version = ?
		WHERE id = ? AND version = ?`,
		nullString(next.Name), tags, planned, string(next.Status), result,
		nullInt(next.FinishedAt), nullInt(next.DisconnectedAt), next.Version,
		id, cur.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update suite: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to update suite: %w", err)
	} else if n == 0 {
		return nil, fmt.Errorf("suite %s: %w", id, ErrVersionConflict)
	}

	if err := tx.record(KindSuite, next.ID, next.Version, MutationUpdate, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// SoftDeleteSuite marks the suite deleted. expected of 0 skips the version
// check. Deleting a deleted suite returns it unchanged and records nothing.
func (tx *Tx) SoftDeleteSuite(id string, expected int64) (*Suite, error) {
	cur, err := tx.Suite(id)
	if err != nil {
		return nil, err
	}
	if cur.Deleted {
		return cur, nil
	}
	if expected != 0 && cur.Version != expected {
		return nil, fmt.Errorf("suite %s at version %d, expected %d: %w", id, cur.Version, expected, ErrVersionConflict)
	}

	next := *cur
	deletedAt := tx.now
	next.Deleted = true
	next.DeletedAt = &deletedAt
	next.Version = cur.Version + 1

	_, err = tx.tx.ExecContext(tx.ctx,
		"UPDATE suites SET deleted = 1, deleted_at = ?, version = ? WHERE id = ? AND version = ?",
		tx.now, next.Version, id, cur.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to delete suite: %w", err)
	}
	if err := tx.record(KindSuite, next.ID, next.Version, MutationDelete, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// CreateSuite inserts a new started suite in its own transaction.
func (s *Store) CreateSuite(ctx context.Context, n NewSuite) (*Suite, error) {
	var out *Suite
	err := s.Update(ctx, func(tx *Tx) (err error) {
		out, err = tx.CreateSuite(n)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateSuite runs Tx.UpdateSuite in its own transaction.
func (s *Store) UpdateSuite(ctx context.Context, id string, expected int64, fn func(s *Suite) error) (*Suite, error) {
	var out *Suite
	err := s.Update(ctx, func(tx *Tx) (err error) {
		out, err = tx.UpdateSuite(id, expected, fn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SoftDeleteSuite runs Tx.SoftDeleteSuite in its own transaction.
func (s *Store) SoftDeleteSuite(ctx context.Context, id string, expected int64) (*Suite, error) {
	var out *Suite
	err := s.Update(ctx, func(tx *Tx) (err error) {
		out, err = tx.SoftDeleteSuite(id, expected)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetSuite retrieves a single suite by id, deleted or not
func (s *Store) GetSuite(ctx context.Context, id string) (*Suite, error) {
	return getSuite(ctx, s.db, id)
}

// SuiteSeq returns the creation sequence number of a suite.
func (s *Store) SuiteSeq(ctx context.Context, id string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, "SELECT seq FROM suites WHERE id = ?", id).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("suite %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get suite seq: %w", err)
	}
	return seq, nil
}

// ListSuitesAfter returns up to limit suites created after afterSeq, in
// creation order. afterSeq of 0 starts at the beginning.
func (s *Store) ListSuitesAfter(ctx context.Context, afterSeq int64, limit int, includeDeleted bool) ([]*Suite, error) {
	query := "SELECT " + suiteColumns + " FROM suites WHERE seq > ?"
	if !includeDeleted {
		query += " AND deleted = 0"
	}
	query += " ORDER BY seq ASC LIMIT ?"

	rows, err := s.db.QueryContext(ctx, query, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query suites: %w", err)
	}
	defer rows.Close()

	suites := make([]*Suite, 0)
	for rows.Next() {
		suite, err := scanSuite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan suite: %w", err)
		}
		suites = append(suites, suite)
	}
	return suites, rows.Err()
}

// ListSuitesByStatus returns every non-deleted suite in the given status.
func (s *Store) ListSuitesByStatus(ctx context.Context, status lifecycle.SuiteStatus) ([]*Suite, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+suiteColumns+" FROM suites WHERE status = ? AND deleted = 0 ORDER BY seq ASC",
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query suites: %w", err)
	}
	defer rows.Close()

	var suites []*Suite
	for rows.Next() {
		suite, err := scanSuite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan suite: %w", err)
		}
		suites = append(suites, suite)
	}
	return suites, rows.Err()
}
