// internal/synclog/store.go
package synclog

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"panel-sync-service/pkg/models"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrAlreadyRunning: a run holds the single-flight lock.
var ErrAlreadyRunning = errors.New("a sync run is already in progress")

const statusRowID = 1

// Store owns the singleton sync status row and the append-only sync log.
// The status row's last_running column is the single-flight lock; the
// IDLE→RUNNING transition is a compare-and-set so a scheduler tick and a
// concurrent manual trigger can never both win.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// TryBeginRun atomically claims the run lock. Returns ErrAlreadyRunning
// when another run holds it.
func (s *Store) TryBeginRun(ctx context.Context) error {
	if err := s.ensureStatusRow(ctx); err != nil {
		return err
	}

	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&models.SyncStatus{}).
		Where("id = ? AND last_running IS NULL", statusRowID).
		Update("last_running", now)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyRunning
	}
	return nil
}

// FinishRun stamps last_sync and releases the lock.
func (s *Store) FinishRun(ctx context.Context, endedAt time.Time) error {
	return s.db.WithContext(ctx).Model(&models.SyncStatus{}).
		Where("id = ?", statusRowID).
		Updates(map[string]any{
			"last_sync":    endedAt.UTC(),
			"last_running": nil,
		}).Error
}

// ReleaseRun clears the lock without stamping last_sync (failed or
// cancelled runs).
func (s *Store) ReleaseRun(ctx context.Context) error {
	return s.db.WithContext(ctx).Model(&models.SyncStatus{}).
		Where("id = ?", statusRowID).
		Update("last_running", nil).Error
}

// Status returns the singleton row, creating it on first read.
func (s *Store) Status(ctx context.Context) (models.SyncStatus, error) {
	if err := s.ensureStatusRow(ctx); err != nil {
		return models.SyncStatus{}, err
	}
	var status models.SyncStatus
	err := s.db.WithContext(ctx).First(&status, statusRowID).Error
	return status, err
}

// IsRunning reports whether the run lock is currently held.
func (s *Store) IsRunning(ctx context.Context) bool {
	status, err := s.Status(ctx)
	if err != nil {
		return false
	}
	return status.LastRunning != nil
}

func (s *Store) ensureStatusRow(ctx context.Context) error {
	var status models.SyncStatus
	err := s.db.WithContext(ctx).First(&status, statusRowID).Error
	if err == gorm.ErrRecordNotFound {
		status = models.SyncStatus{ID: statusRowID}
		err = s.db.WithContext(ctx).Create(&status).Error
		// A concurrent creator winning the race is fine.
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil
		}
	}
	return err
}

// StartEntry appends a RUNNING log row for one target attempt.
func (s *Store) StartEntry(ctx context.Context, target string, total int) (uuid.UUID, error) {
	entry := models.SyncLog{
		ID:         uuid.New(),
		Type:       target,
		Status:     models.SyncStatusRunning,
		ItemsTotal: total,
		StartedAt:  time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return uuid.Nil, err
	}
	return entry.ID, nil
}

// UpdateProgress refreshes the running counters and the human-readable
// progress message. Completed rows are immutable, so the update is a no-op
// once completed_at is set.
func (s *Store) UpdateProgress(ctx context.Context, id uuid.UUID, total, synced, failed int, message string) error {
	updates := map[string]any{
		"items_total":  total,
		"items_synced": synced,
		"items_failed": failed,
	}
	if message != "" {
		meta, err := json.Marshal(models.SyncLogMetadata{LastMessage: &message})
		if err != nil {
			return err
		}
		updates["metadata"] = datatypes.JSON(meta)
	}
	return s.db.WithContext(ctx).Model(&models.SyncLog{}).
		Where("id = ? AND completed_at IS NULL", id).
		Updates(updates).Error
}

// Complete finalizes a row as COMPLETED.
func (s *Store) Complete(ctx context.Context, id uuid.UUID) error {
	return s.finalize(ctx, id, models.SyncStatusCompleted, nil)
}

// Fail finalizes a row as FAILED with the given error text.
func (s *Store) Fail(ctx context.Context, id uuid.UUID, errText string) error {
	return s.finalize(ctx, id, models.SyncStatusFailed, &errText)
}

// MarkCancelled finalizes a row as CANCELLED, distinct from FAILED so
// audit consumers can tell an intentional stop from a genuine failure.
func (s *Store) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	reason := "cancelled"
	return s.finalize(ctx, id, models.SyncStatusCancelled, &reason)
}

func (s *Store) finalize(ctx context.Context, id uuid.UUID, status models.SyncLogStatus, errText *string) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":       status,
		"completed_at": now,
	}
	if errText != nil {
		updates["error"] = *errText
	}
	return s.db.WithContext(ctx).Model(&models.SyncLog{}).
		Where("id = ? AND completed_at IS NULL", id).
		Updates(updates).Error
}

// List pages through the audit log newest-first using keyset pagination
// over (started_at, id). The opaque cursor keeps the listing stable under
// concurrent inserts: rows created after pagination began sort after the
// cursor and are simply never visited.
func (s *Store) List(ctx context.Context, limit int, cursor string) ([]models.SyncLog, string, error) {
	if limit < 1 {
		limit = 25
	}
	if limit > 100 {
		limit = 100
	}

	query := s.db.WithContext(ctx).Model(&models.SyncLog{}).
		Order("started_at DESC").Order("id DESC").
		Limit(limit + 1)

	if cursor != "" {
		startedAt, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor: %w", err)
		}
		query = query.Where("started_at < ? OR (started_at = ? AND id < ?)", startedAt, startedAt, id)
	}

	var logs []models.SyncLog
	if err := query.Find(&logs).Error; err != nil {
		return nil, "", err
	}

	nextCursor := ""
	if len(logs) > limit {
		logs = logs[:limit]
		last := logs[len(logs)-1]
		nextCursor = encodeCursor(last.StartedAt, last.ID)
	}
	return logs, nextCursor, nil
}

func encodeCursor(startedAt time.Time, id uuid.UUID) string {
	raw := fmt.Sprintf("%d|%s", startedAt.UTC().UnixNano(), id)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, uuid.UUID, error) {
	raw, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, uuid.Nil, err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, uuid.Nil, errors.New("malformed cursor")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, uuid.Nil, err
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return time.Time{}, uuid.Nil, err
	}
	return time.Unix(0, nanos).UTC(), id, nil
}
