package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kittyfuzz/kitty/report"
)

// ErrReportNotFound is returned when no report was stored for a test.
var ErrReportNotFound = errors.New("store: report not found")

// ReportSummary is the listing row of a stored report.
type ReportSummary struct {
	TestID int           `json:"test_id"`
	Status report.Status `json:"status"`
	Reason string        `json:"reason"`
}

// SaveReport stores the full report of a test, replacing an earlier
// report for the same test.
func (s *SessionStore) SaveReport(testID int, r *report.Report) error {
	content, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("serialize report of test %d: %w", testID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO reports (test_id, content, status, reason)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(test_id) DO UPDATE SET
			content = excluded.content,
			status = excluded.status,
			reason = excluded.reason`,
		testID, content, string(r.Status()), r.Reason())
	if err != nil {
		return fmt.Errorf("save report of test %d: %w", testID, err)
	}
	return nil
}

// LoadReport reads the full report of a test back.
func (s *SessionStore) LoadReport(testID int) (*report.Report, error) {
	var content []byte
	err := s.db.QueryRow(`SELECT content FROM reports WHERE test_id = ?`, testID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load report of test %d: %w", testID, err)
	}
	var r report.Report
	if err := json.Unmarshal(content, &r); err != nil {
		return nil, fmt.Errorf("parse report of test %d: %w", testID, err)
	}
	return &r, nil
}

// ReportSummaries lists the stored reports ordered by test id.
func (s *SessionStore) ReportSummaries() ([]ReportSummary, error) {
	rows, err := s.db.Query(`SELECT test_id, status, reason FROM reports ORDER BY test_id`)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()
	var out []ReportSummary
	for rows.Next() {
		var rs ReportSummary
		var status string
		if err := rows.Scan(&rs.TestID, &status, &rs.Reason); err != nil {
			return nil, fmt.Errorf("list reports: %w", err)
		}
		rs.Status = report.Status(status)
		out = append(out, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return out, nil
}

// SetVolatile stores a key value pair for the lifetime of the process.
// The web interface ships these as-is; nothing is persisted.
func (s *SessionStore) SetVolatile(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volatile[key] = value
}

// GetVolatile returns the volatile value under key.
func (s *SessionStore) GetVolatile(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.volatile[key]
	return v, ok
}
