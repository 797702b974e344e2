package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SuiteSummary counts the cases of a suite by status and by result
type SuiteSummary struct {
	SuiteID  string         `json:"suite_id"`
	Cases    int            `json:"cases"`
	Status   map[string]int `json:"status"`
	Results  map[string]int `json:"results"`
	LogLines int            `json:"log_lines"`
}

// GetSuiteSummary aggregates the cases of a suite
func (s *Store) GetSuiteSummary(ctx context.Context, suiteID string) (*SuiteSummary, error) {
	if _, err := getSuite(ctx, s.db, suiteID); err != nil {
		return nil, err
	}

	query := `
		SELECT
			c.status,
			COALESCE(c.result, '') AS result,
			COUNT(DISTINCT c.id) AS case_count,
			COUNT(l.id) AS line_count
		FROM cases c
		LEFT JOIN log_lines l ON l.case_id = c.id
		WHERE c.suite_id = ?
		GROUP BY c.status, c.result
	`
	rows, err := s.db.QueryContext(ctx, query, suiteID)
	if err != nil {
		return nil, fmt.Errorf("failed to query suite summary: %w", err)
	}
	defer rows.Close()

	summary := &SuiteSummary{
		SuiteID: suiteID,
		Status:  make(map[string]int),
		Results: make(map[string]int),
	}
	for rows.Next() {
		var status, result string
		var cases int
		var lines sql.NullInt64

		if err := rows.Scan(&status, &result, &cases, &lines); err != nil {
			return nil, fmt.Errorf("failed to scan suite summary: %w", err)
		}

		summary.Cases += cases
		summary.Status[status] += cases
		if result != "" {
			summary.Results[result] += cases
		}
		if lines.Valid {
			summary.LogLines += int(lines.Int64)
		}
	}
	return summary, rows.Err()
}
