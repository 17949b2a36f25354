package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type SyncLogStatus string

const (
	SyncStatusRunning   SyncLogStatus = "RUNNING"
	SyncStatusCompleted SyncLogStatus = "COMPLETED"
	SyncStatusFailed    SyncLogStatus = "FAILED"
	SyncStatusCancelled SyncLogStatus = "CANCELLED"
)

// SyncStatus is the singleton run-state row. LastRunning doubles as the
// single-flight lock: it is non-null exactly while a run is in progress.
type SyncStatus struct {
	ID          uint       `json:"-" gorm:"primaryKey"`
	LastSync    *time.Time `json:"last_sync"`
	LastRunning *time.Time `json:"last_running"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName specifies the table name for SyncStatus
func (SyncStatus) TableName() string {
	return "sync_status"
}

// SyncLog is one append-only audit row per target per run attempt.
// Once CompletedAt is set the row is immutable.
type SyncLog struct {
	ID          uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	Type        string         `json:"type" gorm:"type:varchar(30);not null;index"` // target name, or "full" for an aggregate run
	Status      SyncLogStatus  `json:"status" gorm:"type:varchar(20);not null;default:'RUNNING'"`
	ItemsTotal  int            `json:"items_total" gorm:"not null;default:0"`
	ItemsSynced int            `json:"items_synced" gorm:"not null;default:0"`
	ItemsFailed int            `json:"items_failed" gorm:"not null;default:0"`
	Error       *string        `json:"error,omitempty" gorm:"type:text"`
	Metadata    datatypes.JSON `json:"metadata,omitempty"`
	StartedAt   time.Time      `json:"started_at" gorm:"not null;index"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// TableName specifies the table name for SyncLog
func (SyncLog) TableName() string {
	return "sync_logs"
}

// SyncLogMetadata is the shape of the SyncLog Metadata JSON blob.
type SyncLogMetadata struct {
	LastMessage *string `json:"last_message,omitempty"`
}
