package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"Mansoor88-6/driver-agent/internal/models"
)

type SyncHistoryRepository struct {
	db *sql.DB
}

func NewSyncHistoryRepository(db *sql.DB) *SyncHistoryRepository {
	return &SyncHistoryRepository{db: db}
}

func (r *SyncHistoryRepository) Create(ctx context.Context, record *models.FlushRecord) error {
	if record.FlushedAt == 0 {
		record.FlushedAt = time.Now().UnixMilli()
	}

	var errText sql.NullString
	if record.Error != "" {
		errText = sql.NullString{String: record.Error, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sync_history (device_id, flushed_at, submitted, sent, failed, error)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		record.DeviceID,
		record.FlushedAt,
		record.Submitted,
		record.Sent,
		record.Failed,
		errText,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to record flush: %w", err)
	}
	return nil
}

// Recent returns the newest records first
func (r *SyncHistoryRepository) Recent(ctx context.Context, limit int) ([]models.FlushRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, flushed_at, submitted, sent, failed, error
		FROM sync_history
		ORDER BY flushed_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync history: %w", err)
	}
	defer rows.Close()

	var records []models.FlushRecord
	for rows.Next() {
		var rec models.FlushRecord
		var errText sql.NullString
		if err := rows.Scan(
			&rec.ID,
			&rec.DeviceID,
			&rec.FlushedAt,
			&rec.Submitted,
			&rec.Sent,
			&rec.Failed,
			&errText,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync history: %w", err)
		}
		rec.Error = errText.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteOlderThan prunes history older than the given age
func (r *SyncHistoryRepository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UnixMilli()
	result, err := r.db.ExecContext(ctx, `DELETE FROM sync_history WHERE flushed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sync history: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
