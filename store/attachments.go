package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const attachmentColumns = "id, suite_id, case_id, filename, content_type, size, timestamp, version, deleted, deleted_at"

func scanAttachment(row scanner) (*Attachment, error) {
	var a Attachment
	var suiteID, caseID sql.NullString
	var deletedAt sql.NullInt64

	err := row.Scan(&a.ID, &suiteID, &caseID, &a.Filename, &a.ContentType, &a.Size,
		&a.Timestamp, &a.Version, &a.Deleted, &deletedAt)
	if err != nil {
		return nil, err
	}
	a.SuiteID = stringPtr(suiteID)
	a.CaseID = stringPtr(caseID)
	a.DeletedAt = intPtr(deletedAt)
	return &a, nil
}

func getAttachment(ctx context.Context, q querier, id string) (*Attachment, error) {
	a, err := scanAttachment(q.QueryRowContext(ctx, "SELECT "+attachmentColumns+" FROM attachments WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attachment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	return a, nil
}

// CreateAttachment records attachment metadata. The referenced suite or
// case must exist.
func (tx *Tx) CreateAttachment(n NewAttachment) (*Attachment, error) {
	if n.SuiteID != nil && n.CaseID != nil {
		return nil, fmt.Errorf("attachment references both suite %s and case %s", *n.SuiteID, *n.CaseID)
	}
	if n.SuiteID != nil {
		if _, err := tx.Suite(*n.SuiteID); err != nil {
			return nil, err
		}
	}
	if n.CaseID != nil {
		if _, err := tx.Case(*n.CaseID); err != nil {
			return nil, err
		}
	}

	a := &Attachment{
		ID:          tx.store.newID(),
		SuiteID:     n.SuiteID,
		CaseID:      n.CaseID,
		Filename:    n.Filename,
		ContentType: n.ContentType,
		Size:        n.Size,
		Timestamp:   tx.now,
		Version:     1,
	}
	_, err := tx.tx.ExecContext(tx.ctx,
		`INSERT INTO attachments (id, suite_id, case_id, filename, content_type, size, timestamp, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, nullString(a.SuiteID), nullString(a.CaseID), a.Filename, a.ContentType, a.Size, a.Timestamp, a.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment: %w", err)
	}
	if err := tx.record(KindAttachment, a.ID, a.Version, MutationCreate, a); err != nil {
		return nil, err
	}
	return a, nil
}

// SoftDeleteAttachment is SoftDeleteSuite for attachments.
func (tx *Tx) SoftDeleteAttachment(id string, expected int64) (*Attachment, error) {
	cur, err := getAttachment(tx.ctx, tx.tx, id)
	if err != nil {
		return nil, err
	}
	if cur.Deleted {
		return cur, nil
	}
	if expected != 0 && cur.Version != expected {
		return nil, fmt.Errorf("attachment %s at version %d, expected %d: %w", id, cur.Version, expected, ErrVersionConflict)
	}

	next := *cur
	deletedAt := tx.now
	next.Deleted = true
	next.DeletedAt = &deletedAt
	next.Version = cur.Version + 1

	_, err = tx.tx.ExecContext(tx.ctx,
		"UPDATE attachments SET deleted = 1, deleted_at = ?, version = ? WHERE id = ? AND version = ?",
		tx.now, next.Version, id, cur.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to delete attachment: %w", err)
	}
	if err := tx.record(KindAttachment, next.ID, next.Version, MutationDelete, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// CreateAttachment runs Tx.CreateAttachment in its own transaction.
func (s *Store) CreateAttachment(ctx context.Context, n NewAttachment) (*Attachment, error) {
	var out *Attachment
	err := s.Update(ctx, func(tx *Tx) (err error) {
		out, err = tx.CreateAttachment(n)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SoftDeleteAttachment runs Tx.SoftDeleteAttachment in its own transaction.
func (s *Store) SoftDeleteAttachment(ctx context.Context, id string, expected int64) (*Attachment, error) {
	var out *Attachment
	err := s.Update(ctx, func(tx *Tx) (err error) {
		out, err = tx.SoftDeleteAttachment(id, expected)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetAttachment retrieves a single attachment by id, deleted or not
func (s *Store) GetAttachment(ctx context.Context, id string) (*Attachment, error) {
	return getAttachment(ctx, s.db, id)
}

// ListAttachments returns attachments in creation order.
func (s *Store) ListAttachments(ctx context.Context, filter AttachmentFilter) ([]*Attachment, error) {
	query := "SELECT " + attachmentColumns + " FROM attachments WHERE 1 = 1"
	var args []any
	if filter.SuiteID != "" {
		query += " AND suite_id = ?"
		args = append(args, filter.SuiteID)
	}
	if filter.CaseID != "" {
		query += " AND case_id = ?"
		args = append(args, filter.CaseID)
	}
	if !filter.IncludeDeleted {
		query += " AND deleted = 0"
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query attachments: %w", err)
	}
	defer rows.Close()

	attachments := make([]*Attachment, 0)
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}
