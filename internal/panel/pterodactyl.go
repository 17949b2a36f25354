// internal/panel/pterodactyl.go
package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"panel-sync-service/internal/settings"
	"panel-sync-service/pkg/models"
)

// requestTimeout bounds every outbound panel request. The panels set no
// contract for slow responses, so a stalled request must not stall a run.
const requestTimeout = 30 * time.Second

// Pterodactyl talks to a Pterodactyl-compatible game/container panel via
// its application API (bearer token, enveloped list responses).
type Pterodactyl struct {
	settings *settings.Store
	client   *http.Client
}

func NewPterodactyl(s *settings.Store) *Pterodactyl {
	return &Pterodactyl{
		settings: s,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

func (p *Pterodactyl) Panel() models.PanelType { return models.PanelPterodactyl }

func (p *Pterodactyl) Configured() bool {
	creds := p.settings.GetMany(settings.KeyPterodactylPanelURL, settings.KeyPterodactylAPIKey)
	return creds[settings.KeyPterodactylPanelURL] != "" && creds[settings.KeyPterodactylAPIKey] != ""
}

func (p *Pterodactyl) credentials() (baseURL, apiKey string, err error) {
	creds := p.settings.GetMany(settings.KeyPterodactylPanelURL, settings.KeyPterodactylAPIKey)
	baseURL = creds[settings.KeyPterodactylPanelURL]
	apiKey = creds[settings.KeyPterodactylAPIKey]
	if baseURL == "" || apiKey == "" {
		return "", "", ErrNotConfigured
	}
	return baseURL, apiKey, nil
}

func pterodactylResource(entity EntityType) (string, error) {
	switch entity {
	case EntityLocations:
		return "locations", nil
	case EntityNodes:
		return "nodes", nil
	case EntityNests:
		return "nests", nil
	case EntityServers:
		return "servers", nil
	case EntityUsers:
		return "users", nil
	}
	return "", fmt.Errorf("%w: %s has no top-level listing", ErrUnsupported, entity)
}

func pterodactylNestedResource(entity EntityType, parentID string) (string, error) {
	switch entity {
	case EntityAllocations:
		return fmt.Sprintf("nodes/%s/allocations", parentID), nil
	case EntityEggs:
		return fmt.Sprintf("nests/%s/eggs", parentID), nil
	case EntityDatabases:
		return fmt.Sprintf("servers/%s/databases", parentID), nil
	}
	return "", fmt.Errorf("%w: %s is not nested", ErrUnsupported, entity)
}

func (p *Pterodactyl) List(ctx context.Context, entity EntityType, page, perPage int) ([]Item, Pagination, error) {
	resource, err := pterodactylResource(entity)
	if err != nil {
		return nil, Pagination{}, err
	}
	return p.list(ctx, entity, resource, page, perPage)
}

func (p *Pterodactyl) ListByParent(ctx context.Context, entity EntityType, parentID string, page, perPage int) ([]Item, Pagination, error) {
	resource, err := pterodactylNestedResource(entity, parentID)
	if err != nil {
		return nil, Pagination{}, err
	}
	return p.list(ctx, entity, resource, page, perPage)
}

func (p *Pterodactyl) Get(ctx context.Context, entity EntityType, id string) (Item, error) {
	resource, err := pterodactylResource(entity)
	if err != nil {
		return Item{}, err
	}
	body, err := p.request(ctx, fmt.Sprintf("/api/application/%s/%s", resource, id), nil)
	if err != nil {
		return Item{}, err
	}
	var envelope struct {
		Attributes map[string]any `json:"attributes"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Item{}, fmt.Errorf("%w: malformed response: %v", ErrUnreachable, err)
	}
	return pterodactylItem(entity, envelope.Attributes), nil
}

// list response envelope of the application API:
//
//	{"object":"list","data":[{"object":"...","attributes":{...}}],
//	 "meta":{"pagination":{"total":..,"per_page":..,"current_page":..,"total_pages":..}}}
func (p *Pterodactyl) list(ctx context.Context, entity EntityType, resource string, page, perPage int) ([]Item, Pagination, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	body, err := p.request(ctx, "/api/application/"+resource, query)
	if err != nil {
		return nil, Pagination{}, err
	}

	var envelope struct {
		Data []struct {
			Attributes map[string]any `json:"attributes"`
		} `json:"data"`
		Meta struct {
			Pagination Pagination `json:"pagination"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, Pagination{}, fmt.Errorf("%w: malformed response: %v", ErrUnreachable, err)
	}

	items := make([]Item, 0, len(envelope.Data))
	for _, record := range envelope.Data {
		items = append(items, pterodactylItem(entity, record.Attributes))
	}
	return items, envelope.Meta.Pagination, nil
}

func (p *Pterodactyl) request(ctx context.Context, path string, query url.Values) ([]byte, error) {
	baseURL, apiKey, err := p.credentials()
	if err != nil {
		return nil, err
	}

	endpoint := baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return body, nil
}

// pterodactylItem splits raw attributes into the canonical fields the
// reconciler understands plus panel-specific metadata for the property
// side tables.
func pterodactylItem(entity EntityType, attrs map[string]any) Item {
	item := Item{
		ID:         attrString(attrs, "id"),
		Attributes: map[string]any{},
		Metadata:   map[string]string{},
	}

	switch entity {
	case EntityLocations:
		copyAttrs(attrs, item.Attributes, "short", "long")
	case EntityNodes:
		copyAttrs(attrs, item.Attributes, "name", "fqdn", "memory", "disk", "maintenance_mode")
		item.Attributes["location"] = attrString(attrs, "location_id")
	case EntityAllocations:
		copyAttrs(attrs, item.Attributes, "ip", "port", "assigned")
		item.Attributes["node"] = attrString(attrs, "node_id")
		if assigned, ok := attrs["assigned"].(bool); ok && assigned {
			item.Attributes["server"] = attrString(attrs, "server_id")
		}
	case EntityNests:
		copyAttrs(attrs, item.Attributes, "name", "description")
	case EntityEggs:
		copyAttrs(attrs, item.Attributes, "name")
		item.Attributes["nest"] = attrString(attrs, "nest")
		metaString(attrs, item.Metadata, "docker_image")
		metaString(attrs, item.Metadata, "startup")
		if script, ok := attrs["script"].(map[string]any); ok {
			metaString(script, item.Metadata, "container", "script_container")
			metaString(script, item.Metadata, "entry", "script_entry")
		}
	case EntityServers:
		copyAttrs(attrs, item.Attributes, "uuid", "name", "status", "suspended")
		item.Attributes["user"] = attrString(attrs, "user")
		item.Attributes["node"] = attrString(attrs, "node")
		item.Attributes["egg"] = attrString(attrs, "egg")
		item.Attributes["allocation"] = attrString(attrs, "allocation")
		if limits, ok := attrs["limits"].(map[string]any); ok {
			copyAttrs(limits, item.Attributes, "memory", "disk", "cpu")
			if oom, ok := limits["oom_disabled"].(bool); ok {
				item.Metadata["oom_disabled"] = strconv.FormatBool(oom)
			}
		}
		if container, ok := attrs["container"].(map[string]any); ok {
			metaString(container, item.Metadata, "image", "docker_image")
			metaString(container, item.Metadata, "startup_command")
		}
		metaString(attrs, item.Metadata, "external_id")
	case EntityDatabases:
		copyAttrs(attrs, item.Attributes, "database", "username")
		item.Attributes["server"] = attrString(attrs, "server")
		item.Attributes["host"] = attrString(attrs, "host")
	case EntityUsers:
		copyAttrs(attrs, item.Attributes, "username", "email", "first_name", "last_name", "root_admin")
	}

	return item
}

func copyAttrs(src, dst map[string]any, keys ...string) {
	for _, key := range keys {
		if value, ok := src[key]; ok && value != nil {
			dst[key] = value
		}
	}
}

// metaString copies a string attribute into the metadata map, optionally
// under a different key.
func metaString(src map[string]any, dst map[string]string, key string, as ...string) {
	value, ok := src[key].(string)
	if !ok || value == "" {
		return
	}
	name := key
	if len(as) > 0 {
		name = as[0]
	}
	dst[name] = value
}

// attrString renders a remote identifier that may arrive as a JSON number
// or a string (ids are numeric on Pterodactyl, UUIDs elsewhere).
func attrString(attrs map[string]any, key string) string {
	switch v := attrs[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int:
		return strconv.Itoa(v)
	case json.Number:
		return v.String()
	}
	return ""
}
