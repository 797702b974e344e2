package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"passlog/jsonvalue"
	"passlog/lifecycle"
)

const caseColumns = "id, suite_id, idx, name, description, tags, args, status, result, created_at, started_at, finished_at, version"

func scanCase(row scanner) (*Case, error) {
	var c Case
	var name, description, tags, args, status, result sql.NullString
	var startedAt, finishedAt sql.NullInt64

	err := row.Scan(&c.ID, &c.SuiteID, &c.Idx, &name, &description, &tags, &args,
		&status, &result, &c.CreatedAt, &startedAt, &finishedAt, &c.Version)
	if err != nil {
		return nil, err
	}

	c.Name = stringPtr(name)
	c.Description = stringPtr(description)
	if c.Tags, err = decodeTags(tags); err != nil {
		return nil, fmt.Errorf("case %s has malformed tags: %w", c.ID, err)
	}
	if args.Valid {
		v, err := jsonvalue.Parse([]byte(args.String))
		if err != nil {
			return nil, fmt.Errorf("case %s has malformed args: %w", c.ID, err)
		}
		c.Args = jsonvalue.NewDoc(v)
	}
	c.Status = lifecycle.CaseStatus(status.String)
	if result.Valid {
		r := lifecycle.CaseResult(result.String)
		c.Result = &r
	}
	c.StartedAt = intPtr(startedAt)
	c.FinishedAt = intPtr(finishedAt)
	return &c, nil
}

func getCase(ctx context.Context, q querier, id string) (*Case, error) {
	c, err := scanCase(q.QueryRowContext(ctx, "SELECT "+caseColumns+" FROM cases WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("case %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return c, nil
}

func listCases(ctx context.Context, q querier, suiteID string) ([]*Case, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+caseColumns+" FROM cases WHERE suite_id = ? ORDER BY idx ASC",
		suiteID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query cases: %w", err)
	}
	defer rows.Close()

	cases := make([]*Case, 0)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// CreateCase inserts a new case at the next idx of the suite. An empty
// suiteID starts a new suite in the same transaction.
func (tx *Tx) CreateCase(suiteID string, n NewCase) (*Case, error) {
	if suiteID == "" {
		suite, err := tx.CreateSuite(NewSuite{})
		if err != nil {
			return nil, err
		}
		suiteID = suite.ID
	} else if _, err := tx.Suite(suiteID); err != nil {
		return nil, err
	}

	var idx int64
	err := tx.tx.QueryRowContext(tx.ctx,
		"SELECT COALESCE(MAX(idx) + 1, 0) FROM cases WHERE suite_id = ?", suiteID,
	).Scan(&idx)
	if err != nil {
		return nil, fmt.Errorf("failed to get next case idx: %w", err)
	}

	c := &Case{
		ID:          tx.store.newID(),
		SuiteID:     suiteID,
		Idx:         idx,
		Name:        n.Name,
		Description: n.Description,
		Tags:        n.Tags,
		Args:        n.Args,
		Status:      lifecycle.CaseCreated,
		CreatedAt:   tx.now,
		Version:     1,
	}
	tags, err := encodeTags(c.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to encode case tags: %w", err)
	}
	var args sql.NullString
	if c.Args != nil {
		b, err := jsonvalue.Marshal(c.Args.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode case args: %w", err)
		}
		args = sql.NullString{String: string(b), Valid: true}
	}

	_, err = tx.tx.ExecContext(tx.ctx,
		`INSERT INTO cases (id, suite_id, idx, name, description, tags, args, status, created_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SuiteID, c.Idx, nullString(c.Name), nullString(c.Description), tags, args,
		string(c.Status), c.CreatedAt, c.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create case: %w", err)
	}
	if err := tx.record(KindCase, c.ID, c.Version, MutationCreate, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Case reads a case inside the transaction.
func (tx *Tx) Case(id string) (*Case, error) {
	return getCase(tx.ctx, tx.tx, id)
}

// Cases reads every case of a suite inside the transaction, in idx order.
func (tx *Tx) Cases(suiteID string) ([]*Case, error) {
	return listCases(tx.ctx, tx.tx, suiteID)
}

// UpdateCase is UpdateSuite for cases. Only the status, result and
// timestamps are written back.
func (tx *Tx) UpdateCase(id string, expected int64, fn func(c *Case) error) (*Case, error) {
	cur, err := tx.Case(id)
	if err != nil {
		return nil, err
	}
	if cur.Version != expected {
		return nil, fmt.Errorf("case %s at version %d, expected %d: %w", id, cur.Version, expected, ErrVersionConflict)
	}

	next := *cur
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.ID, next.SuiteID, next.Idx = cur.ID, cur.SuiteID, cur.Idx
	next.Version = cur.Version + 1

	var result sql.NullString
	if next.Result != nil {
		result = sql.NullString{String: string(*next.Result), Valid: true}
	}
	res, err := tx.tx.ExecContext(tx.ctx,
		"UPDATE cases SET status = ?, result = ?, started_at = ?, finished_at = ?, version = ? WHERE id = ? AND version = ?",
		string(next.Status), result, nullInt(next.StartedAt), nullInt(next.FinishedAt), next.Version,
		id, cur.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update case: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("failed to update case: %w", err)
	} else if n == 0 {
		return nil, fmt.Errorf("case %s: %w", id, ErrVersionConflict)
	}

	if err := tx.record(KindCase, next.ID, next.Version, MutationUpdate, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// CreateCase runs Tx.CreateCase in its own transaction.
func (s *Store) CreateCase(ctx context.Context, suiteID string, n NewCase) (*Case, error) {
	var out *Case
	err := s.Update(ctx, func(tx *Tx) (err error) {
		out, err = tx.CreateCase(suiteID, n)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateCase runs Tx.UpdateCase in its own transaction.
func (s *Store) UpdateCase(ctx context.Context, id string, expected int64, fn func(c *Case) error) (*Case, error) {
	var out *Case
	err := s.Update(ctx, func(tx *Tx) (err error) {
		out, err = tx.UpdateCase(id, expected, fn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetCase retrieves a single case by id
func (s *Store) GetCase(ctx context.Context, id string) (*Case, error) {
	return getCase(ctx, s.db, id)
}

// ListCases retrieves all cases of a suite in idx order
func (s *Store) ListCases(ctx context.Context, suiteID string) ([]*Case, error) {
	if _, err := getSuite(ctx, s.db, suiteID); err != nil {
		return nil, err
	}
	return listCases(ctx, s.db, suiteID)
}
