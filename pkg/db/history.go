package db

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Item outcome values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// NewRunID returns an identifier for one connector run.
func NewRunID() string {
	return uuid.NewString()
}

// OperationRecord is the outcome of one input item.
type OperationRecord struct {
	ID           int64
	RunID        string
	ItemIndex    int
	Division     string
	Service      string
	Resource     string
	Operation    string
	Status       string
	ErrorKind    sql.NullString
	ErrorMessage sql.NullString
	RecordCount  int
	CreatedAt    time.Time
}

// UploadRecord is one XML match set upload.
type UploadRecord struct {
	ID            int64
	RunID         string
	ItemIndex     int
	Division      string
	Topic         string
	PayloadHash   string
	MatchSets     int
	Acknowledged  int
	ErrorMessages int
	Accepted      bool
	Response      string
	UploadedAt    time.Time
}

// PayloadHash returns the hex sha256 of an upload payload.
func PayloadHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// History records connector runs.
type History struct {
	conn *Connection
}

// NewHistory creates a new History instance.
func NewHistory(conn *Connection) *History {
	return &History{conn: conn}
}

// RecordOperation records an item outcome. Recording the same run and item
// again replaces the earlier row.
func (h *History) RecordOperation(ctx context.Context, rec OperationRecord) error {
	query := `
		INSERT INTO operation_history
			(run_id, item_index, division, service, resource, operation, status, error_kind, error_message, record_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, item_index) DO UPDATE SET
			status = excluded.status,
			error_kind = excluded.error_kind,
			error_message = excluded.error_message,
			record_count = excluded.record_count,
			created_at = CURRENT_TIMESTAMP
	`

	_, err := h.conn.ExecContext(ctx, query,
		rec.RunID,
		rec.ItemIndex,
		rec.Division,
		rec.Service,
		rec.Resource,
		rec.Operation,
		rec.Status,
		rec.ErrorKind,
		rec.ErrorMessage,
		rec.RecordCount,
	)
	if err != nil {
		return fmt.Errorf("failed to record operation: %w", err)
	}

	return nil
}

// RecordUpload records an XML upload.
func (h *History) RecordUpload(ctx context.Context, rec UploadRecord) error {
	query := `
		INSERT INTO reconciliation_uploads
			(run_id, item_index, division, topic, payload_hash, match_sets, acknowledged, error_messages, accepted, response)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := h.conn.ExecContext(ctx, query,
		rec.RunID,
		rec.ItemIndex,
		rec.Division,
		rec.Topic,
		rec.PayloadHash,
		rec.MatchSets,
		rec.Acknowledged,
		rec.ErrorMessages,
		rec.Accepted,
		rec.Response,
	)
	if err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}

	return nil
}

// IsUploaded reports whether an identical payload was already accepted in
// the division.
func (h *History) IsUploaded(ctx context.Context, division, payloadHash string) (bool, error) {
	query := `
		SELECT COUNT(*) FROM reconciliation_uploads
		WHERE division = ? AND payload_hash = ? AND accepted = 1
	`

	var count int
	if err := h.conn.QueryRowContext(ctx, query, division, payloadHash).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check upload: %w", err)
	}

	return count > 0, nil
}

// RecentOperations returns the latest item outcomes, newest first.
func (h *History) RecentOperations(ctx context.Context, limit int) ([]OperationRecord, error) {
	query := `
		SELECT id, run_id, item_index, division, service, resource, operation, status,
			error_kind, error_message, record_count, created_at
		FROM operation_history
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := h.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent operations: %w", err)
	}
	defer rows.Close()

	var records []OperationRecord
	for rows.Next() {
		var rec OperationRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.ItemIndex,
			&rec.Division,
			&rec.Service,
			&rec.Resource,
			&rec.Operation,
			&rec.Status,
			&rec.ErrorKind,
			&rec.ErrorMessage,
			&rec.RecordCount,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan operation record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Stats summarizes the history.
type Stats struct {
	TotalOperations  int
	FailedOperations int
	RecordsReturned  int
	TotalUploads     int
	RejectedUploads  int
	LastRun          sql.NullString
}

// GetStats retrieves history statistics.
func (h *History) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats

	err := h.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(record_count), 0)
		FROM operation_history`).Scan(&stats.TotalOperations, &stats.FailedOperations, &stats.RecordsReturned)
	if err != nil {
		return nil, fmt.Errorf("failed to get operation counts: %w", err)
	}

	err = h.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN accepted = 0 THEN 1 ELSE 0 END), 0)
		FROM reconciliation_uploads`).Scan(&stats.TotalUploads, &stats.RejectedUploads)
	if err != nil {
		return nil, fmt.Errorf("failed to get upload counts: %w", err)
	}

	err = h.conn.QueryRowContext(ctx, `SELECT MAX(created_at) FROM operation_history`).Scan(&stats.LastRun)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get last run time: %w", err)
	}

	return &stats, nil
}

// GetMetadata retrieves a metadata value. A missing key yields "".
func (h *History) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := h.conn.QueryRowContext(ctx, `SELECT value FROM connector_metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get metadata: %w", err)
	}

	return value, nil
}

// SetMetadata sets a metadata value.
func (h *History) SetMetadata(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO connector_metadata (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := h.conn.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set metadata: %w", err)
	}

	return nil
}
