package synclog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"panel-sync-service/pkg/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.AutoMigrate(&models.SyncStatus{}, &models.SyncLog{}); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	return db
}

func TestTryBeginRunSingleFlight(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	if err := s.TryBeginRun(ctx); err != nil {
		t.Fatalf("first begin: %v", err)
	}
	if err := s.TryBeginRun(ctx); err != ErrAlreadyRunning {
		t.Fatalf("second begin: expected ErrAlreadyRunning, got %v", err)
	}
	if !s.IsRunning(ctx) {
		t.Fatal("expected running state")
	}

	if err := s.FinishRun(ctx, time.Now()); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if s.IsRunning(ctx) {
		t.Fatal("expected idle state after finish")
	}
	if err := s.TryBeginRun(ctx); err != nil {
		t.Fatalf("begin after finish: %v", err)
	}
}

func TestFinishRunStampsLastSync(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	if err := s.TryBeginRun(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	endedAt := time.Now()
	if err := s.FinishRun(ctx, endedAt); err != nil {
		t.Fatalf("finish: %v", err)
	}

	status, err := s.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.LastSync == nil {
		t.Fatal("LastSync should be stamped")
	}
	if status.LastRunning != nil {
		t.Fatal("LastRunning should be cleared")
	}
}

func TestReleaseRunDoesNotStampLastSync(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	if err := s.TryBeginRun(ctx); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.ReleaseRun(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	status, err := s.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.LastSync != nil {
		t.Fatal("LastSync must stay empty after a released (not completed) run")
	}
	if status.LastRunning != nil {
		t.Fatal("LastRunning should be cleared")
	}
}

func TestCompletedEntryIsImmutable(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	id, err := s.StartEntry(ctx, "servers", 10)
	if err != nil {
		t.Fatalf("start entry: %v", err)
	}
	if err := s.UpdateProgress(ctx, id, 10, 5, 0, "halfway"); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if err := s.Complete(ctx, id); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Any further mutation must be a no-op.
	if err := s.UpdateProgress(ctx, id, 99, 99, 99, "should not land"); err != nil {
		t.Fatalf("progress after complete: %v", err)
	}
	if err := s.Fail(ctx, id, "should not land"); err != nil {
		t.Fatalf("fail after complete: %v", err)
	}

	var entry models.SyncLog
	if err := s.db.First(&entry, "id = ?", id).Error; err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if entry.Status != models.SyncStatusCompleted {
		t.Fatalf("status mutated after completion: %s", entry.Status)
	}
	if entry.ItemsSynced != 5 {
		t.Fatalf("counters mutated after completion: %d", entry.ItemsSynced)
	}
}

func TestMarkCancelledIsDistinctFromFailed(t *testing.T) {
	s := NewStore(newTestDB(t))
	ctx := context.Background()

	id, err := s.StartEntry(ctx, "locations", 0)
	if err != nil {
		t.Fatalf("start entry: %v", err)
	}
	if err := s.MarkCancelled(ctx, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	var entry models.SyncLog
	if err := s.db.First(&entry, "id = ?", id).Error; err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if entry.Status != models.SyncStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", entry.Status)
	}
	if entry.Error == nil || *entry.Error != "cancelled" {
		t.Fatalf("expected explicit cancelled error, got %v", entry.Error)
	}
	if entry.CompletedAt == nil {
		t.Fatal("cancelled entry should be finalized")
	}
}

func seedEntry(t *testing.T, db *gorm.DB, startedAt time.Time) uuid.UUID {
	t.Helper()
	entry := models.SyncLog{
		ID:        uuid.New(),
		Type:      "servers",
		Status:    models.SyncStatusCompleted,
		StartedAt: startedAt,
	}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("seed entry: %v", err)
	}
	return entry.ID
}

func TestListCursorStability(t *testing.T) {
	db := newTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UTC()
	seen := map[uuid.UUID]int{}
	var original []uuid.UUID
	for i := 0; i < 5; i++ {
		original = append(original, seedEntry(t, db, base.Add(time.Duration(i)*time.Minute)))
	}

	logs, cursor, err := s.List(ctx, 2, "")
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(logs))
	}
	for _, entry := range logs {
		seen[entry.ID]++
	}

	// Concurrent inserts land after pagination began; they must not
	// disturb the walk over the original rows.
	seedEntry(t, db, base.Add(2*time.Hour))
	seedEntry(t, db, base.Add(3*time.Hour))

	for cursor != "" {
		logs, cursor, err = s.List(ctx, 2, cursor)
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		for _, entry := range logs {
			seen[entry.ID]++
		}
	}

	for _, id := range original {
		if seen[id] != 1 {
			t.Fatalf("row %s visited %d times, want exactly once", id, seen[id])
		}
	}
}

func TestListRejectsMalformedCursor(t *testing.T) {
	s := NewStore(newTestDB(t))
	if _, _, err := s.List(context.Background(), 10, "garbage!"); err == nil {
		t.Fatal("expected error for malformed cursor")
	}
}
