package panel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"panel-sync-service/internal/settings"
)

func configureVirtFusion(t *testing.T, s *settings.Store, baseURL string) {
	t.Helper()
	if err := s.Set(settings.KeyVirtFusionPanelURL, baseURL); err != nil {
		t.Fatalf("set url: %v", err)
	}
	if err := s.Set(settings.KeyVirtFusionAPIKey, "vf_test_token"); err != nil {
		t.Fatalf("set key: %v", err)
	}
}

func TestVirtFusionListParsesEnvelope(t *testing.T) {
	var gotPath, gotAuth, gotResults string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotResults = r.URL.Query().Get("results")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{
					"id": float64(7), "uuid": "a1b2", "name": "vps-7",
					"state": "complete", "hypervisorId": float64(3),
					"owner": map[string]any{"id": float64(12)},
					"settings": map[string]any{
						"resources": map[string]any{
							"memory": float64(4096), "cpu": float64(2), "storage": float64(80),
						},
					},
					"commissionStatus": float64(1),
					"network":          map[string]any{"primaryIp": "203.0.113.9"},
				},
			},
			"meta": map[string]any{"total": 1, "per_page": 50, "current_page": 1, "last_page": 1},
		})
	}))
	defer server.Close()

	s := newTestSettings(t)
	configureVirtFusion(t, s, server.URL)
	client := NewVirtFusion(s)

	items, pagination, err := client.List(context.Background(), EntityServers, 1, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if gotPath != "/api/v1/servers" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer vf_test_token" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotResults != "50" {
		t.Errorf("results = %q", gotResults)
	}
	if pagination.Total != 1 || pagination.TotalPages != 1 {
		t.Errorf("pagination = %+v", pagination)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d", len(items))
	}

	item := items[0]
	if item.ID != "7" {
		t.Errorf("id = %q", item.ID)
	}
	// The flat VPS record must land on the same canonical keys the game
	// panel uses, so the reconciler never knows which product it mirrors.
	if item.Attributes["status"] != "complete" {
		t.Errorf("status = %v", item.Attributes["status"])
	}
	if item.Attributes["user"] != "12" {
		t.Errorf("user = %v", item.Attributes["user"])
	}
	if item.Attributes["node"] != "3" {
		t.Errorf("node = %v", item.Attributes["node"])
	}
	if item.Attributes["disk"] != float64(80) {
		t.Errorf("disk = %v", item.Attributes["disk"])
	}
	if item.Metadata["commission_status"] != "1" {
		t.Errorf("commission_status = %q", item.Metadata["commission_status"])
	}
	if item.Metadata["primary_ip"] != "203.0.113.9" {
		t.Errorf("primary_ip = %q", item.Metadata["primary_ip"])
	}
}

func TestVirtFusionHypervisorsBecomeNodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/hypervisors" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{
					"id": float64(3), "name": "hv-3", "hostname": "hv3.example.com",
					"enabled": false,
					"resources": map[string]any{
						"memory": float64(262144), "disk": float64(4096000),
					},
				},
			},
			"meta": map[string]any{"total": 1, "per_page": 50, "current_page": 1, "last_page": 1},
		})
	}))
	defer server.Close()

	s := newTestSettings(t)
	configureVirtFusion(t, s, server.URL)
	client := NewVirtFusion(s)

	items, _, err := client.List(context.Background(), EntityNodes, 1, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d", len(items))
	}
	item := items[0]
	if item.Attributes["fqdn"] != "hv3.example.com" {
		t.Errorf("fqdn = %v", item.Attributes["fqdn"])
	}
	if item.Attributes["maintenance_mode"] != true {
		t.Errorf("disabled hypervisor should mirror as maintenance_mode, got %v", item.Attributes["maintenance_mode"])
	}
	if item.Attributes["memory"] != float64(262144) {
		t.Errorf("memory = %v", item.Attributes["memory"])
	}
}

func TestVirtFusionUnsupportedEntities(t *testing.T) {
	s := newTestSettings(t)
	configureVirtFusion(t, s, "http://127.0.0.1:1")
	client := NewVirtFusion(s)

	for _, entity := range []EntityType{EntityLocations, EntityAllocations, EntityNests, EntityEggs, EntityDatabases} {
		if _, _, err := client.List(context.Background(), entity, 1, 50); !errors.Is(err, ErrUnsupported) {
			t.Errorf("List(%s) err = %v, want ErrUnsupported", entity, err)
		}
	}
	if _, _, err := client.ListByParent(context.Background(), EntityAllocations, "1", 1, 50); !errors.Is(err, ErrUnsupported) {
		t.Errorf("ListByParent err = %v, want ErrUnsupported", err)
	}
}

func TestVirtFusionNotConfigured(t *testing.T) {
	s := newTestSettings(t)
	client := NewVirtFusion(s)
	if client.Configured() {
		t.Fatal("unconfigured client reports Configured")
	}
	if _, _, err := client.List(context.Background(), EntityServers, 1, 50); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}
