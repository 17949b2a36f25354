// internal/panel/virtfusion.go
package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"panel-sync-service/internal/settings"
	"panel-sync-service/pkg/models"
)

// VirtFusion talks to a VirtFusion-compatible VPS panel. The panel only
// knows servers, hypervisors and users; hypervisors are mirrored into the
// nodes target, everything else is unsupported and skipped.
type VirtFusion struct {
	settings *settings.Store
	client   *http.Client
}

func NewVirtFusion(s *settings.Store) *VirtFusion {
	return &VirtFusion{
		settings: s,
		client:   &http.Client{Timeout: requestTimeout},
	}
}

func (v *VirtFusion) Panel() models.PanelType { return models.PanelVirtFusion }

func (v *VirtFusion) Configured() bool {
	creds := v.settings.GetMany(settings.KeyVirtFusionPanelURL, settings.KeyVirtFusionAPIKey)
	return creds[settings.KeyVirtFusionPanelURL] != "" && creds[settings.KeyVirtFusionAPIKey] != ""
}

func (v *VirtFusion) credentials() (baseURL, apiKey string, err error) {
	creds := v.settings.GetMany(settings.KeyVirtFusionPanelURL, settings.KeyVirtFusionAPIKey)
	baseURL = creds[settings.KeyVirtFusionPanelURL]
	apiKey = creds[settings.KeyVirtFusionAPIKey]
	if baseURL == "" || apiKey == "" {
		return "", "", ErrNotConfigured
	}
	return baseURL, apiKey, nil
}

func virtFusionResource(entity EntityType) (string, error) {
	switch entity {
	case EntityServers:
		return "servers", nil
	case EntityNodes:
		return "hypervisors", nil
	case EntityUsers:
		return "users", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupported, entity)
}

func (v *VirtFusion) List(ctx context.Context, entity EntityType, page, perPage int) ([]Item, Pagination, error) {
	resource, err := virtFusionResource(entity)
	if err != nil {
		return nil, Pagination{}, err
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("results", strconv.Itoa(perPage))

	body, err := v.request(ctx, "/api/v1/"+resource, query)
	if err != nil {
		return nil, Pagination{}, err
	}

	var envelope struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Total       int `json:"total"`
			PerPage     int `json:"per_page"`
			CurrentPage int `json:"current_page"`
			LastPage    int `json:"last_page"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, Pagination{}, fmt.Errorf("%w: malformed response: %v", ErrUnreachable, err)
	}

	items := make([]Item, 0, len(envelope.Data))
	for _, record := range envelope.Data {
		items = append(items, virtFusionItem(entity, record))
	}
	pagination := Pagination{
		Total:       envelope.Meta.Total,
		PerPage:     envelope.Meta.PerPage,
		CurrentPage: envelope.Meta.CurrentPage,
		TotalPages:  envelope.Meta.LastPage,
	}
	return items, pagination, nil
}

// ListByParent: VirtFusion has no nested sync resources.
func (v *VirtFusion) ListByParent(ctx context.Context, entity EntityType, parentID string, page, perPage int) ([]Item, Pagination, error) {
	return nil, Pagination{}, fmt.Errorf("%w: %s", ErrUnsupported, entity)
}

func (v *VirtFusion) Get(ctx context.Context, entity EntityType, id string) (Item, error) {
	resource, err := virtFusionResource(entity)
	if err != nil {
		return Item{}, err
	}
	body, err := v.request(ctx, fmt.Sprintf("/api/v1/%s/%s", resource, id), nil)
	if err != nil {
		return Item{}, err
	}
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Item{}, fmt.Errorf("%w: malformed response: %v", ErrUnreachable, err)
	}
	return virtFusionItem(entity, envelope.Data), nil
}

func (v *VirtFusion) request(ctx context.Context, path string, query url.Values) ([]byte, error) {
	baseURL, apiKey, err := v.credentials()
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

	resp, err := v.client.Do(req)
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

// virtFusionItem maps the VPS panel's flat records onto the same canonical
// attribute keys the reconciler reads for the game panel.
func virtFusionItem(entity EntityType, record map[string]any) Item {
	item := Item{
		ID:         attrString(record, "id"),
		Attributes: map[string]any{},
		Metadata:   map[string]string{},
	}

	switch entity {
	case EntityNodes:
		copyAttrs(record, item.Attributes, "name")
		item.Attributes["fqdn"] = attrString(record, "hostname")
		if enabled, ok := record["enabled"].(bool); ok {
			item.Attributes["maintenance_mode"] = !enabled
		}
		if resources, ok := record["resources"].(map[string]any); ok {
			copyAttrs(resources, item.Attributes, "memory", "disk")
		}
	case EntityServers:
		copyAttrs(record, item.Attributes, "uuid", "name", "suspended")
		item.Attributes["status"] = attrString(record, "state")
		if owner, ok := record["owner"].(map[string]any); ok {
			item.Attributes["user"] = attrString(owner, "id")
		}
		item.Attributes["node"] = attrString(record, "hypervisorId")
		if settingsBlock, ok := record["settings"].(map[string]any); ok {
			if resources, ok := settingsBlock["resources"].(map[string]any); ok {
				copyAttrs(resources, item.Attributes, "memory", "cpu")
				if storage, ok := resources["storage"]; ok {
					item.Attributes["disk"] = storage
				}
			}
		}
		// commissionStatus arrives as a bare number.
		if status := attrString(record, "commissionStatus"); status != "" {
			item.Metadata["commission_status"] = status
		}
		if network, ok := record["network"].(map[string]any); ok {
			metaString(network, item.Metadata, "primaryIp", "primary_ip")
		}
	case EntityUsers:
		copyAttrs(record, item.Attributes, "email")
		item.Attributes["username"] = attrString(record, "name")
		if admin, ok := record["admin"].(bool); ok {
			item.Attributes["root_admin"] = admin
		}
	}

	return item
}
