// internal/reconcile/reconciler.go
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"panel-sync-service/internal/panel"
	"panel-sync-service/pkg/models"

	"gorm.io/gorm"
)

// Outcome tags what Reconcile did with one remote item. It exists purely
// for aggregate counting by the orchestrator.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
)

// ErrMissingNaturalKey: the remote payload carried no usable id. This is a
// fatal per-item error; the rest of the page still reconciles.
var ErrMissingNaturalKey = errors.New("remote item is missing its id")

// Reconciler performs the create-or-update decision for each mirrored
// entity. Canonical fields are compared before writing so an unchanged
// remote item produces no database write and an "unchanged" outcome.
// Panel-specific metadata keys are upserted into the sparse property side
// tables; keys absent from the payload are left untouched.
type Reconciler struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Reconciler {
	return &Reconciler{db: db}
}

func (r *Reconciler) Reconcile(ctx context.Context, p models.PanelType, entity panel.EntityType, item panel.Item) (Outcome, error) {
	if item.ID == "" {
		return OutcomeUnchanged, ErrMissingNaturalKey
	}

	switch entity {
	case panel.EntityLocations:
		return r.reconcileLocation(ctx, p, item)
	case panel.EntityNodes:
		return r.reconcileNode(ctx, p, item)
	case panel.EntityAllocations:
		return r.reconcileAllocation(ctx, p, item)
	case panel.EntityNests:
		return r.reconcileNest(ctx, p, item)
	case panel.EntityEggs:
		return r.reconcileEgg(ctx, p, item)
	case panel.EntityServers:
		return r.reconcileServer(ctx, p, item)
	case panel.EntityDatabases:
		return r.reconcileDatabase(ctx, p, item)
	case panel.EntityUsers:
		return r.reconcileUser(ctx, p, item)
	}
	return OutcomeUnchanged, fmt.Errorf("unknown entity type %q", entity)
}

func (r *Reconciler) reconcileLocation(ctx context.Context, p models.PanelType, item panel.Item) (Outcome, error) {
	var row models.Location
	err := r.db.WithContext(ctx).Where("panel = ? AND remote_id = ?", p, item.ID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		row = models.Location{Panel: p, RemoteID: item.ID}
		applyFields := false
		applyString(&row.Short, item.Attributes, "short", &applyFields)
		applyString(&row.Long, item.Attributes, "long", &applyFields)
		return OutcomeCreated, r.db.WithContext(ctx).Create(&row).Error
	}
	if err != nil {
		return OutcomeUnchanged, err
	}

	changed := false
	applyString(&row.Short, item.Attributes, "short", &changed)
	applyString(&row.Long, item.Attributes, "long", &changed)
	if !changed {
		return OutcomeUnchanged, nil
	}
	return OutcomeUpdated, r.db.WithContext(ctx).Save(&row).Error
}

func (r *Reconciler) reconcileNode(ctx context.Context, p models.PanelType, item panel.Item) (Outcome, error) {
	var row models.Node
	err := r.db.WithContext(ctx).Where("panel = ? AND remote_id = ?", p, item.ID).First(&row).Error
	created := false
	if err == gorm.ErrRecordNotFound {
		row = models.Node{Panel: p, RemoteID: item.ID}
		created = true
	} else if err != nil {
		return OutcomeUnchanged, err
	}

	changed := false
	applyString(&row.Name, item.Attributes, "name", &changed)
	applyString(&row.FQDN, item.Attributes, "fqdn", &changed)
	applyString(&row.LocationRemoteID, item.Attributes, "location", &changed)
	applyInt64(&row.MemoryMB, item.Attributes, "memory", &changed)
	applyInt64(&row.DiskMB, item.Attributes, "disk", &changed)
	applyBool(&row.Maintenance, item.Attributes, "maintenance_mode", &changed)

	if created {
		return OutcomeCreated, r.db.WithContext(ctx).Create(&row).Error
	}
	if !changed {
		return OutcomeUnchanged, nil
	}
	return OutcomeUpdated, r.db.WithContext(ctx).Save(&row).Error
}

func (r *Reconciler) reconcileAllocation(ctx context.Context, p models.PanelType, item panel.Item) (Outcome, error) {
	var row models.Allocation
	err := r.db.WithContext(ctx).Where("panel = ? AND remote_id = ?", p, item.ID).First(&row).Error
	created := false
	if err == gorm.ErrRecordNotFound {
		row = models.Allocation{Panel: p, RemoteID: item.ID}
		created = true
	} else if err != nil {
		return OutcomeUnchanged, err
	}

	changed := false
	applyString(&row.NodeRemoteID, item.Attributes, "node", &changed)
	applyString(&row.IP, item.Attributes, "ip", &changed)
	applyInt(&row.Port, item.Attributes, "port", &changed)
	applyBool(&row.Assigned, item.Attributes, "assigned", &changed)
	if server, ok := item.Attributes["server"].(string); ok && server != "" {
		if row.ServerRemoteID == nil || *row.ServerRemoteID != server {
			row.ServerRemoteID = &server
			changed = true
		}
	} else if !row.Assigned && row.ServerRemoteID != nil {
		row.ServerRemoteID = nil
		changed = true
	}

	if created {
		return OutcomeCreated, r.db.WithContext(ctx).Create(&row).Error
	}
	if !changed {
		return OutcomeUnchanged, nil
	}
	return OutcomeUpdated, r.db.WithContext(ctx).Save(&row).Error
}

func (r *Reconciler) reconcileNest(ctx context.Context, p models.PanelType, item panel.Item) (Outcome, error) {
	var row models.Nest
	err := r.db.WithContext(ctx).Where("panel = ? AND remote_id = ?", p, item.ID).First(&row).Error
	created := false
	if err == gorm.ErrRecordNotFound {
		row = models.Nest{Panel: p, RemoteID: item.ID}
		created = true
	} else if err != nil {
		return OutcomeUnchanged, err
	}

	changed := false
	applyString(&row.Name, item.Attributes, "name", &changed)
	applyString(&row.Description, item.Attributes, "description", &changed)

	if created {
		return OutcomeCreated, r.db.WithContext(ctx).Create(&row).Error
	}
	if !changed {
		return OutcomeUnchanged, nil
	}
	return OutcomeUpdated, r.db.WithContext(ctx).Save(&row).Error
}

func (r *Reconciler) reconcileEgg(ctx context.Context, p models.PanelType, item panel.Item) (Outcome, error) {
	var row models.Egg
	err := r.db.WithContext(ctx).Where("panel = ? AND remote_id = ?", p, item.ID).First(&row).Error
	created := false
	if err == gorm.ErrRecordNotFound {
		row = models.Egg{Panel: p, RemoteID: item.ID}
		created = true
	} else if err != nil {
		return OutcomeUnchanged, err
	}

	changed := false
	applyString(&row.Name, item.Attributes, "name", &changed)
	applyString(&row.NestRemoteID, item.Attributes, "nest", &changed)

	outcome := OutcomeUnchanged
	if created {
		if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
			return OutcomeUnchanged, err
		}
		outcome = OutcomeCreated
	} else if changed {
		if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
			return OutcomeUnchanged, err
		}
		outcome = OutcomeUpdated
	}

	if err := r.upsertEggProperties(ctx, row.ID, item.Metadata); err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (r *Reconciler) reconcileServer(ctx context.Context, p models.PanelType, item panel.Item) (Outcome, error) {
	var row models.Server
	err := r.db.WithContext(ctx).Where("panel = ? AND remote_id = ?", p, item.ID).First(&row).Error
	created := false
	if err == gorm.ErrRecordNotFound {
		row = models.Server{Panel: p, RemoteID: item.ID}
		created = true
	} else if err != nil {
		return OutcomeUnchanged, err
	}

	changed := false
	applyString(&row.UUID, item.Attributes, "uuid", &changed)
	applyString(&row.Name, item.Attributes, "name", &changed)
	applyString(&row.Status, item.Attributes, "status", &changed)
	applyBool(&row.Suspended, item.Attributes, "suspended", &changed)
	applyString(&row.OwnerRemoteID, item.Attributes, "user", &changed)
	applyString(&row.NodeRemoteID, item.Attributes, "node", &changed)
	applyString(&row.EggRemoteID, item.Attributes, "egg", &changed)
	applyString(&row.AllocationRemoteID, item.Attributes, "allocation", &changed)
	applyInt64(&row.MemoryMB, item.Attributes, "memory", &changed)
	applyInt64(&row.DiskMB, item.Attributes, "disk", &changed)
	applyInt64(&row.CPUPercent, item.Attributes, "cpu", &changed)

	outcome := OutcomeUnchanged
	if created {
		if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
			return OutcomeUnchanged, err
		}
		outcome = OutcomeCreated
	} else if changed {
		if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
			return OutcomeUnchanged, err
		}
		outcome = OutcomeUpdated
	}

	if err := r.upsertServerProperties(ctx, row.ID, item.Metadata); err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (r *Reconciler) reconcileDatabase(ctx context.Context, p models.PanelType, item panel.Item) (Outcome, error) {
	var row models.ServerDatabase
	err := r.db.WithContext(ctx).Where("panel = ? AND remote_id = ?", p, item.ID).First(&row).Error
	created := false
	if err == gorm.ErrRecordNotFound {
		row = models.ServerDatabase{Panel: p, RemoteID: item.ID}
		created = true
	} else if err != nil {
		return OutcomeUnchanged, err
	}

	changed := false
	applyString(&row.ServerRemoteID, item.Attributes, "server", &changed)
	applyString(&row.Name, item.Attributes, "database", &changed)
	applyString(&row.Username, item.Attributes, "username", &changed)
	applyString(&row.Host, item.Attributes, "host", &changed)

	if created {
		return OutcomeCreated, r.db.WithContext(ctx).Create(&row).Error
	}
	if !changed {
		return OutcomeUnchanged, nil
	}
	return OutcomeUpdated, r.db.WithContext(ctx).Save(&row).Error
}

func (r *Reconciler) reconcileUser(ctx context.Context, p models.PanelType, item panel.Item) (Outcome, error) {
	var row models.PanelUser
	err := r.db.WithContext(ctx).Where("panel = ? AND remote_id = ?", p, item.ID).First(&row).Error
	created := false
	if err == gorm.ErrRecordNotFound {
		row = models.PanelUser{Panel: p, RemoteID: item.ID}
		created = true
	} else if err != nil {
		return OutcomeUnchanged, err
	}

	changed := false
	applyString(&row.Username, item.Attributes, "username", &changed)
	applyString(&row.Email, item.Attributes, "email", &changed)
	applyOptionalString(&row.FirstName, item.Attributes, "first_name", &changed)
	applyOptionalString(&row.LastName, item.Attributes, "last_name", &changed)
	applyBool(&row.Admin, item.Attributes, "root_admin", &changed)

	if created {
		return OutcomeCreated, r.db.WithContext(ctx).Create(&row).Error
	}
	if !changed {
		return OutcomeUnchanged, nil
	}
	return OutcomeUpdated, r.db.WithContext(ctx).Save(&row).Error
}

// Property upserts. Only keys present in the remote payload are written;
// stale keys from earlier syncs stay as they are.

func (r *Reconciler) upsertServerProperties(ctx context.Context, serverID uint, meta map[string]string) error {
	for key, value := range meta {
		var prop models.ServerProperty
		err := r.db.WithContext(ctx).Where("server_id = ? AND key = ?", serverID, key).First(&prop).Error
		if err == gorm.ErrRecordNotFound {
			prop = models.ServerProperty{ServerID: serverID, Key: key, Value: value}
			if err := r.db.WithContext(ctx).Create(&prop).Error; err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if prop.Value != value {
			if err := r.db.WithContext(ctx).Model(&prop).Update("value", value).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reconciler) upsertEggProperties(ctx context.Context, eggID uint, meta map[string]string) error {
	for key, value := range meta {
		var prop models.EggProperty
		err := r.db.WithContext(ctx).Where("egg_id = ? AND key = ?", eggID, key).First(&prop).Error
		if err == gorm.ErrRecordNotFound {
			prop = models.EggProperty{EggID: eggID, Key: key, Value: value}
			if err := r.db.WithContext(ctx).Create(&prop).Error; err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if prop.Value != value {
			if err := r.db.WithContext(ctx).Model(&prop).Update("value", value).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// Field apply helpers. A key missing from the payload, or carrying a value
// of the wrong JSON type, leaves the local field untouched — malformed
// optional fields are skipped, never fatal.

func applyString(dst *string, attrs map[string]any, key string, changed *bool) {
	value, ok := attrs[key].(string)
	if !ok {
		return
	}
	if *dst != value {
		*dst = value
		*changed = true
	}
}

func applyOptionalString(dst **string, attrs map[string]any, key string, changed *bool) {
	value, ok := attrs[key].(string)
	if !ok {
		return
	}
	if *dst == nil || **dst != value {
		*dst = &value
		*changed = true
	}
}

func applyBool(dst *bool, attrs map[string]any, key string, changed *bool) {
	value, ok := attrs[key].(bool)
	if !ok {
		return
	}
	if *dst != value {
		*dst = value
		*changed = true
	}
}

func applyInt64(dst *int64, attrs map[string]any, key string, changed *bool) {
	value, ok := numeric(attrs[key])
	if !ok {
		return
	}
	if *dst != value {
		*dst = value
		*changed = true
	}
}

func applyInt(dst *int, attrs map[string]any, key string, changed *bool) {
	value, ok := numeric(attrs[key])
	if !ok {
		return
	}
	if *dst != int(value) {
		*dst = int(value)
		*changed = true
	}
}

func numeric(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}
