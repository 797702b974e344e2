package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// Tx is a write transaction. Every mutation made through it is recorded in
// the changes table and published once the transaction commits.
type Tx struct {
	ctx     context.Context
	tx      *sql.Tx
	store   *Store
	now     int64
	changes []Change
}

// Update runs fn inside a single write transaction. If fn returns an error
// the transaction is rolled back and nothing is published.
func (s *Store) Update(ctx context.Context, fn func(tx *Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	tx := &Tx{
		ctx:   ctx,
		tx:    sqlTx,
		store: s,
		now:   s.now().UnixMilli(),
	}
	if err := fn(tx); err != nil {
		sqlTx.Rollback() //nolint:errcheck
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	for _, c := range tx.changes {
		s.publisher.Publish(c)
	}
	return nil
}

// Now is the commit clock reading shared by every write in the transaction,
// in unix milliseconds.
func (tx *Tx) Now() int64 {
	return tx.now
}

func (tx *Tx) record(kind Kind, id string, version int64, mutation Mutation, entity any) error {
	snapshot, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", kind, id, err)
	}
	res, err := tx.tx.ExecContext(tx.ctx,
		"INSERT INTO changes (kind, entity_id, version, mutation, committed_at) VALUES (?, ?, ?, ?, ?)",
		string(kind), id, version, string(mutation), tx.now,
	)
	if err != nil {
		return fmt.Errorf("failed to record change: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get change seq: %w", err)
	}
	tx.changes = append(tx.changes, Change{
		Seq:         seq,
		Kind:        kind,
		ID:          id,
		Version:     version,
		Mutation:    mutation,
		CommittedAt: tx.now,
		Entity:      snapshot,
	})
	return nil
}

// ListChanges returns recorded changes with seq greater than afterSeq.
func (s *Store) ListChanges(ctx context.Context, afterSeq int64, limit int) ([]Change, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, kind, entity_id, version, mutation, committed_at FROM changes WHERE seq > ? ORDER BY seq ASC LIMIT ?",
		afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var c Change
		var kind, mutation string
		if err := rows.Scan(&c.Seq, &kind, &c.ID, &c.Version, &mutation, &c.CommittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		c.Kind = Kind(kind)
		c.Mutation = Mutation(mutation)
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func encodeTags(tags []string) (sql.NullString, error) {
	if tags == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeTags(raw sql.NullString) ([]string, error) {
	if !raw.Valid {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw.String), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func intPtr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	n := ni.Int64
	return &n
}
