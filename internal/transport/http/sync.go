// internal/transport/http/sync.go
package http

import (
	"errors"
	"log"
	"strconv"

	"panel-sync-service/internal/orchestrator"
	"panel-sync-service/internal/settings"
	"panel-sync-service/internal/synclog"
	"panel-sync-service/pkg/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// SyncHandler serves the sync surface consumed by the admin UI.
type SyncHandler struct {
	db       *gorm.DB
	settings *settings.Store
	logs     *synclog.Store
	orch     *orchestrator.Orchestrator
}

func NewSyncHandler(db *gorm.DB, s *settings.Store, logs *synclog.Store, orch *orchestrator.Orchestrator) *SyncHandler {
	return &SyncHandler{db: db, settings: s, logs: logs, orch: orch}
}

// editableSettings is the whitelist of keys the settings endpoints expose.
var editableSettings = []string{
	settings.KeyAutoSyncEnabled,
	settings.KeySyncInterval,
	settings.KeyAllocationBatchSize,
	settings.KeySyncWebhookURL,
	settings.KeyPterodactylPanelURL,
	settings.KeyPterodactylAPIKey,
	settings.KeyVirtFusionPanelURL,
	settings.KeyVirtFusionAPIKey,
}

// GetStatus — GET /sync: current run state plus aggregate mirror counts.
func (h *SyncHandler) GetStatus(c *fiber.Ctx) error {
	status, err := h.logs.Status(c.Context())
	if err != nil {
		log.Printf("❌ [GetStatus] failed to read sync status: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to read sync status"})
	}

	counts := fiber.Map{}
	tables := map[string]any{
		"locations":   &models.Location{},
		"nodes":       &models.Node{},
		"allocations": &models.Allocation{},
		"nests":       &models.Nest{},
		"eggs":        &models.Egg{},
		"servers":     &models.Server{},
		"databases":   &models.ServerDatabase{},
		"users":       &models.PanelUser{},
	}
	for name, model := range tables {
		var count int64
		if err := h.db.WithContext(c.Context()).Model(model).Count(&count).Error; err != nil {
			log.Printf("⚠️ [GetStatus] count for %s failed: %v", name, err)
			continue
		}
		counts[name] = count
	}

	return c.JSON(fiber.Map{
		"status": fiber.Map{
			"last_sync":  status.LastSync,
			"is_syncing": status.LastRunning != nil,
		},
		"counts": counts,
	})
}

// Trigger — POST /sync: run a full or single-target sync and return the
// structured per-target result synchronously.
func (h *SyncHandler) Trigger(c *fiber.Ctx) error {
	var req struct {
		Target  string   `json:"target"`
		Targets []string `json:"targets"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}

	requested := req.Targets
	if req.Target != "" {
		requested = append(requested, req.Target)
	}

	result, err := h.orch.Run(c.Context(), requested)
	if err != nil {
		if errors.Is(err, synclog.ErrAlreadyRunning) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"success": false,
				"error":   "a sync run is already in progress",
			})
		}
		if errors.Is(err, orchestrator.ErrUnknownTarget) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": err.Error()})
		}
		log.Printf("❌ [Trigger] sync run failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"success": result.Status == models.SyncStatusCompleted,
		"status":  result.Status,
		"result":  result.Targets,
	})
}

// Cancel — POST /sync/cancel: request cooperative cancellation.
func (h *SyncHandler) Cancel(c *fiber.Ctx) error {
	cancelled := h.orch.Cancel()
	if !cancelled {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"error":   "no sync run is active",
		})
	}
	return c.JSON(fiber.Map{"success": true})
}

// Logs — GET /sync/logs?limit&cursor: cursor-paginated audit trail.
func (h *SyncHandler) Logs(c *fiber.Ctx) error {
	limit := 25
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid limit"})
		}
		limit = parsed
	}

	logs, nextCursor, err := h.logs.List(c.Context(), limit, c.Query("cursor"))
	if err != nil {
		log.Printf("❌ [Logs] failed to list sync logs: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"logs":        logs,
		"next_cursor": nextCursor,
	})
}

// GetSettings — GET /sync/settings.
func (h *SyncHandler) GetSettings(c *fiber.Ctx) error {
	values := h.settings.GetMany(editableSettings...)
	return c.JSON(fiber.Map{"settings": values})
}

// UpdateSettings — POST /sync/settings with a flat {key: value} body.
// Only whitelisted keys are accepted; booleans and numbers are validated
// before the string value is stored.
func (h *SyncHandler) UpdateSettings(c *fiber.Ctx) error {
	var req map[string]string
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	for key, value := range req {
		if !isEditable(key) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown setting: " + key})
		}
		if err := validateSetting(key, value); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}
	for key, value := range req {
		if err := h.settings.Set(key, value); err != nil {
			log.Printf("❌ [UpdateSettings] failed to write %s: %v", key, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save settings"})
		}
	}

	values := h.settings.GetMany(editableSettings...)
	return c.JSON(fiber.Map{"success": true, "settings": values})
}

func isEditable(key string) bool {
	for _, allowed := range editableSettings {
		if allowed == key {
			return true
		}
	}
	return false
}

func validateSetting(key, value string) error {
	switch key {
	case settings.KeyAutoSyncEnabled:
		if value != "true" && value != "false" {
			return errors.New("auto_sync_enabled must be \"true\" or \"false\"")
		}
	case settings.KeySyncInterval, settings.KeyAllocationBatchSize:
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return errors.New(key + " must be a positive integer")
		}
	}
	return nil
}
