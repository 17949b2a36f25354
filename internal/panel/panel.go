// internal/panel/panel.go
package panel

import (
	"context"
	"errors"

	"panel-sync-service/pkg/models"
)

// EntityType names one sync target / remote resource category.
type EntityType string

const (
	EntityLocations   EntityType = "locations"
	EntityNodes       EntityType = "nodes"
	EntityAllocations EntityType = "allocations"
	EntityNests       EntityType = "nests"
	EntityEggs        EntityType = "eggs"
	EntityServers     EntityType = "servers"
	EntityDatabases   EntityType = "databases"
	EntityUsers       EntityType = "users"
)

// Adapter error taxonomy. The orchestrator records these as the failure of
// the current target only; other targets still run.
var (
	// ErrNotConfigured: panel URL or API key is missing from settings.
	ErrNotConfigured = errors.New("panel is not configured")
	// ErrUnreachable: network failure, timeout, or unexpected HTTP status.
	ErrUnreachable = errors.New("panel unreachable")
	// ErrUnauthorized: the panel rejected our credentials.
	ErrUnauthorized = errors.New("panel rejected credentials")
	// ErrUnsupported: this panel product has no such resource; the target
	// is skipped for this panel, not failed.
	ErrUnsupported = errors.New("entity type not supported by this panel")
)

// Item is one remote record, normalized by the adapter.
//
// Attributes hold the canonical fields shared across panel products
// ("name", "uuid", "status", relationship ids, resource limits). Metadata
// holds panel-specific extras (Docker image, install script flags, ...)
// that the reconciler persists into the sparse property side tables.
type Item struct {
	ID         string
	Attributes map[string]any
	Metadata   map[string]string
}

// Pagination echoes the remote panel's paging report.
type Pagination struct {
	Total       int `json:"total"`
	PerPage     int `json:"per_page"`
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
}

// Client is a thin stateless transport over one panel product's REST API.
// Credentials are resolved from the settings store on every call, so key
// rotation takes effect within the settings cache TTL. Retries are the
// caller's business, never the adapter's.
type Client interface {
	Panel() models.PanelType

	// Configured reports whether both base URL and API key are present.
	Configured() bool

	// List fetches one page of a top-level resource.
	List(ctx context.Context, entity EntityType, page, perPage int) ([]Item, Pagination, error)

	// ListByParent fetches one page of a nested resource (allocations
	// under a node, eggs under a nest, databases under a server).
	ListByParent(ctx context.Context, entity EntityType, parentID string, page, perPage int) ([]Item, Pagination, error)

	// Get fetches a single record by its remote id.
	Get(ctx context.Context, entity EntityType, id string) (Item, error)
}
