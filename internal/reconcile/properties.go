// internal/reconcile/properties.go
package reconcile

import (
	"context"
	"strconv"

	"panel-sync-service/pkg/models"

	"gorm.io/gorm"
)

// Typed views over the sparse property side tables. Call sites read and
// write these structs; nil fields mean "unset" (no row), matching the side
// table invariant.

type ServerDetails struct {
	DockerImage      *string
	StartupCommand   *string
	OOMDisabled      *bool
	ExternalID       *string
	CommissionStatus *string
	PrimaryIP        *string
}

type EggDetails struct {
	DockerImage     *string
	Startup         *string
	ScriptContainer *string
	ScriptEntry     *string
}

// LoadServerDetails assembles the typed view from server_properties rows.
func LoadServerDetails(ctx context.Context, db *gorm.DB, serverID uint) (ServerDetails, error) {
	var rows []models.ServerProperty
	if err := db.WithContext(ctx).Where("server_id = ?", serverID).Find(&rows).Error; err != nil {
		return ServerDetails{}, err
	}

	var details ServerDetails
	for _, row := range rows {
		value := row.Value
		switch row.Key {
		case "docker_image":
			details.DockerImage = &value
		case "startup_command":
			details.StartupCommand = &value
		case "oom_disabled":
			if b, err := strconv.ParseBool(value); err == nil {
				details.OOMDisabled = &b
			}
		case "external_id":
			details.ExternalID = &value
		case "commission_status":
			details.CommissionStatus = &value
		case "primary_ip":
			details.PrimaryIP = &value
		}
	}
	return details, nil
}

// LoadEggDetails assembles the typed view from egg_properties rows.
func LoadEggDetails(ctx context.Context, db *gorm.DB, eggID uint) (EggDetails, error) {
	var rows []models.EggProperty
	if err := db.WithContext(ctx).Where("egg_id = ?", eggID).Find(&rows).Error; err != nil {
		return EggDetails{}, err
	}

	var details EggDetails
	for _, row := range rows {
		value := row.Value
		switch row.Key {
		case "docker_image":
			details.DockerImage = &value
		case "startup":
			details.Startup = &value
		case "script_container":
			details.ScriptContainer = &value
		case "script_entry":
			details.ScriptEntry = &value
		}
	}
	return details, nil
}

// SaveServerDetails writes the non-nil fields back as property rows.
func (r *Reconciler) SaveServerDetails(ctx context.Context, serverID uint, details ServerDetails) error {
	meta := map[string]string{}
	if details.DockerImage != nil {
		meta["docker_image"] = *details.DockerImage
	}
	if details.StartupCommand != nil {
		meta["startup_command"] = *details.StartupCommand
	}
	if details.OOMDisabled != nil {
		meta["oom_disabled"] = strconv.FormatBool(*details.OOMDisabled)
	}
	if details.ExternalID != nil {
		meta["external_id"] = *details.ExternalID
	}
	if details.CommissionStatus != nil {
		meta["commission_status"] = *details.CommissionStatus
	}
	if details.PrimaryIP != nil {
		meta["primary_ip"] = *details.PrimaryIP
	}
	return r.upsertServerProperties(ctx, serverID, meta)
}
