package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"panel-sync-service/internal/orchestrator"
	"panel-sync-service/internal/panel"
	"panel-sync-service/internal/settings"
	"panel-sync-service/internal/synclog"
	"panel-sync-service/pkg/models"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type handlerEnv struct {
	app  *fiber.App
	db   *gorm.DB
	sets *settings.Store
	logs *synclog.Store
}

func newHandlerEnv(t *testing.T, panelHandler http.Handler) *handlerEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.Setting{}, &models.SyncStatus{}, &models.SyncLog{},
		&models.Location{}, &models.Node{}, &models.Allocation{},
		&models.Nest{}, &models.Egg{}, &models.EggProperty{},
		&models.Server{}, &models.ServerProperty{}, &models.ServerDatabase{},
		&models.PanelUser{},
	)
	if err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}

	sets := settings.NewStore(db)
	t.Cleanup(sets.Close)

	var clients []panel.Client
	if panelHandler != nil {
		server := httptest.NewServer(panelHandler)
		t.Cleanup(server.Close)
		if err := sets.Set(settings.KeyPterodactylPanelURL, server.URL); err != nil {
			t.Fatalf("set url: %v", err)
		}
		if err := sets.Set(settings.KeyPterodactylAPIKey, "ptla_test_key"); err != nil {
			t.Fatalf("set key: %v", err)
		}
		clients = append(clients, panel.NewPterodactyl(sets))
	}

	logs := synclog.NewStore(db)
	orch := orchestrator.New(db, sets, logs, clients, nil)
	h := NewSyncHandler(db, sets, logs, orch)

	app := fiber.New()
	app.Get("/sync", h.GetStatus)
	app.Post("/sync", h.Trigger)
	app.Post("/sync/cancel", h.Cancel)
	app.Get("/sync/logs", h.Logs)
	app.Get("/sync/settings", h.GetSettings)
	app.Post("/sync/settings", h.UpdateSettings)

	return &handlerEnv{app: app, db: db, sets: sets, logs: logs}
}

func (e *handlerEnv) request(t *testing.T, method, target string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestGetStatusEmptyMirror(t *testing.T) {
	env := newHandlerEnv(t, nil)

	resp, body := env.request(t, "GET", "/sync", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	status := body["status"].(map[string]any)
	if status["is_syncing"] != false {
		t.Errorf("is_syncing = %v", status["is_syncing"])
	}
	counts := body["counts"].(map[string]any)
	if counts["locations"] != float64(0) || counts["servers"] != float64(0) {
		t.Errorf("counts = %v", counts)
	}
}

func TestTriggerRunsAndReportsResult(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/locations") {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"object": "list", "data": []any{},
				"meta": map[string]any{"pagination": map[string]any{
					"total": 0, "count": 0, "per_page": 50, "current_page": 1, "total_pages": 1,
				}},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"attributes": map[string]any{"id": float64(1), "short": "fra", "long": "Frankfurt"}},
			},
			"meta": map[string]any{"pagination": map[string]any{
				"total": 1, "count": 1, "per_page": 50, "current_page": 1, "total_pages": 1,
			}},
		})
	})
	env := newHandlerEnv(t, handler)

	resp, body := env.request(t, "POST", "/sync", map[string]any{"target": "locations"})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["success"] != true {
		t.Fatalf("success = %v", body["success"])
	}
	result := body["result"].(map[string]any)
	target := result["locations"].(map[string]any)
	if target["created"] != float64(1) || target["synced"] != float64(1) {
		t.Errorf("target result = %v", target)
	}

	var count int64
	env.db.Model(&models.Location{}).Count(&count)
	if count != 1 {
		t.Errorf("locations mirrored = %d", count)
	}
}

func TestTriggerUnknownTarget(t *testing.T) {
	env := newHandlerEnv(t, nil)
	resp, body := env.request(t, "POST", "/sync", map[string]any{"target": "bogus"})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
}

func TestTriggerConflictWhileRunning(t *testing.T) {
	env := newHandlerEnv(t, nil)
	if err := env.logs.TryBeginRun(context.Background()); err != nil {
		t.Fatalf("acquire lock: %v", err)
	}

	resp, body := env.request(t, "POST", "/sync", map[string]any{"target": "locations"})
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["success"] != false {
		t.Errorf("success = %v", body["success"])
	}
}

func TestCancelWithoutActiveRun(t *testing.T) {
	env := newHandlerEnv(t, nil)
	resp, _ := env.request(t, "POST", "/sync/cancel", nil)
	if resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestLogsPagination(t *testing.T) {
	env := newHandlerEnv(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		id, err := env.logs.StartEntry(ctx, "locations", 0)
		if err != nil {
			t.Fatalf("start entry: %v", err)
		}
		if err := env.logs.Complete(ctx, id); err != nil {
			t.Fatalf("complete entry: %v", err)
		}
	}

	resp, body := env.request(t, "GET", "/sync/logs?limit=2", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	logs := body["logs"].([]any)
	if len(logs) != 2 {
		t.Fatalf("page size = %d", len(logs))
	}
	cursor, _ := body["next_cursor"].(string)
	if cursor == "" {
		t.Fatal("expected a next_cursor for the remaining row")
	}

	resp, body = env.request(t, "GET", "/sync/logs?limit=2&cursor="+cursor, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(body["logs"].([]any)) != 1 {
		t.Fatalf("second page = %d rows", len(body["logs"].([]any)))
	}

	resp, _ = env.request(t, "GET", "/sync/logs?limit=0", nil)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("invalid limit status = %d", resp.StatusCode)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	env := newHandlerEnv(t, nil)

	resp, body := env.request(t, "POST", "/sync/settings", map[string]string{
		"auto_sync_enabled": "true",
		"sync_interval":     "900",
	})
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}

	resp, body = env.request(t, "GET", "/sync/settings", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	values := body["settings"].(map[string]any)
	if values["auto_sync_enabled"] != "true" || values["sync_interval"] != "900" {
		t.Errorf("settings = %v", values)
	}
}

func TestSettingsValidation(t *testing.T) {
	env := newHandlerEnv(t, nil)

	cases := []struct {
		name string
		body map[string]string
	}{
		{"unknown key", map[string]string{"database_url": "postgres://nope"}},
		{"bad boolean", map[string]string{"auto_sync_enabled": "yes"}},
		{"bad interval", map[string]string{"sync_interval": "-5"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := env.request(t, "POST", "/sync/settings", tc.body)
			if resp.StatusCode != fiber.StatusBadRequest {
				t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
			}
		})
	}
}

func TestSettingsRejectedBatchWritesNothing(t *testing.T) {
	env := newHandlerEnv(t, nil)

	resp, _ := env.request(t, "POST", "/sync/settings", map[string]string{
		"sync_interval":     "600",
		"auto_sync_enabled": "maybe",
	})
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	// The valid half of the batch must not have been applied.
	if _, err := env.sets.Get("sync_interval"); err == nil {
		t.Fatal("rejected batch partially applied")
	}
}
