package models

import "time"

// PanelType identifies which external control panel a mirrored row came from.
type PanelType string

const (
	PanelPterodactyl PanelType = "pterodactyl"
	PanelVirtFusion  PanelType = "virtfusion"
)

// Mirrored panel entities. Each row's natural key is the remote panel's own
// identifier scoped by panel type, so two panels can never collide. Rows are
// created on first sight and updated on later syncs; they are never deleted
// automatically — removal on the remote side shows up as a status flag.

type Location struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Panel     PanelType `json:"panel" gorm:"type:varchar(20);not null;uniqueIndex:idx_locations_panel_remote"`
	RemoteID  string    `json:"remote_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_locations_panel_remote"`
	Short     string    `json:"short" gorm:"type:varchar(100)"`
	Long      string    `json:"long" gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Location) TableName() string { return "locations" }

type Node struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	Panel            PanelType `json:"panel" gorm:"type:varchar(20);not null;uniqueIndex:idx_nodes_panel_remote"`
	RemoteID         string    `json:"remote_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_nodes_panel_remote"`
	Name             string    `json:"name" gorm:"type:varchar(255);not null"`
	FQDN             string    `json:"fqdn" gorm:"type:varchar(255)"`
	LocationRemoteID string    `json:"location_remote_id" gorm:"type:varchar(64);index"`
	MemoryMB         int64     `json:"memory_mb"`
	DiskMB           int64     `json:"disk_mb"`
	Maintenance      bool      `json:"maintenance" gorm:"not null;default:false"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Node) TableName() string { return "nodes" }

type Allocation struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	Panel          PanelType `json:"panel" gorm:"type:varchar(20);not null;uniqueIndex:idx_allocations_panel_remote"`
	RemoteID       string    `json:"remote_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_allocations_panel_remote"`
	NodeRemoteID   string    `json:"node_remote_id" gorm:"type:varchar(64);index"`
	IP             string    `json:"ip" gorm:"type:varchar(45)"`
	Port           int       `json:"port"`
	Assigned       bool      `json:"assigned" gorm:"not null;default:false"`
	ServerRemoteID *string   `json:"server_remote_id,omitempty" gorm:"type:varchar(64)"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Allocation) TableName() string { return "allocations" }

type Nest struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Panel       PanelType `json:"panel" gorm:"type:varchar(20);not null;uniqueIndex:idx_nests_panel_remote"`
	RemoteID    string    `json:"remote_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_nests_panel_remote"`
	Name        string    `json:"name" gorm:"type:varchar(255);not null"`
	Description string    `json:"description" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Nest) TableName() string { return "nests" }

type Egg struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Panel        PanelType `json:"panel" gorm:"type:varchar(20);not null;uniqueIndex:idx_eggs_panel_remote"`
	RemoteID     string    `json:"remote_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_eggs_panel_remote"`
	NestRemoteID string    `json:"nest_remote_id" gorm:"type:varchar(64);index"`
	Name         string    `json:"name" gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Egg) TableName() string { return "eggs" }

type Server struct {
	ID                 uint      `json:"id" gorm:"primaryKey"`
	Panel              PanelType `json:"panel" gorm:"type:varchar(20);not null;uniqueIndex:idx_servers_panel_remote"`
	RemoteID           string    `json:"remote_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_servers_panel_remote"`
	UUID               string    `json:"uuid" gorm:"type:varchar(36);index"`
	Name               string    `json:"name" gorm:"type:varchar(255);not null"`
	Status             string    `json:"status" gorm:"type:varchar(30)"`
	Suspended          bool      `json:"suspended" gorm:"not null;default:false"`
	OwnerRemoteID      string    `json:"owner_remote_id" gorm:"type:varchar(64);index"`
	NodeRemoteID       string    `json:"node_remote_id" gorm:"type:varchar(64);index"`
	EggRemoteID        string    `json:"egg_remote_id" gorm:"type:varchar(64)"`
	AllocationRemoteID string    `json:"allocation_remote_id" gorm:"type:varchar(64)"`
	MemoryMB           int64     `json:"memory_mb"`
	DiskMB             int64     `json:"disk_mb"`
	CPUPercent         int64     `json:"cpu_percent"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (Server) TableName() string { return "servers" }

type ServerDatabase struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	Panel          PanelType `json:"panel" gorm:"type:varchar(20);not null;uniqueIndex:idx_server_databases_panel_remote"`
	RemoteID       string    `json:"remote_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_server_databases_panel_remote"`
	ServerRemoteID string    `json:"server_remote_id" gorm:"type:varchar(64);index"`
	Name           string    `json:"name" gorm:"type:varchar(255)"`
	Username       string    `json:"username" gorm:"type:varchar(255)"`
	Host           string    `json:"host" gorm:"type:varchar(255)"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (ServerDatabase) TableName() string { return "server_databases" }

type PanelUser struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Panel     PanelType `json:"panel" gorm:"type:varchar(20);not null;uniqueIndex:idx_panel_users_panel_remote"`
	RemoteID  string    `json:"remote_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_panel_users_panel_remote"`
	Username  string    `json:"username" gorm:"type:varchar(100);index"`
	Email     string    `json:"email" gorm:"type:varchar(255);index"`
	FirstName *string   `json:"first_name,omitempty" gorm:"type:varchar(100)"`
	LastName  *string   `json:"last_name,omitempty" gorm:"type:varchar(100)"`
	Admin     bool      `json:"admin" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (PanelUser) TableName() string { return "panel_users" }

// Property side tables: sparse (entity id, key) → value rows for attributes
// that only exist on some panel types. Absence of a row means "unset", not
// false or zero.

type ServerProperty struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	ServerID  uint      `json:"server_id" gorm:"not null;uniqueIndex:idx_server_properties_key"`
	Key       string    `json:"key" gorm:"type:varchar(100);not null;uniqueIndex:idx_server_properties_key"`
	Value     string    `json:"value" gorm:"type:text"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ServerProperty) TableName() string { return "server_properties" }

type EggProperty struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	EggID     uint      `json:"egg_id" gorm:"not null;uniqueIndex:idx_egg_properties_key"`
	Key       string    `json:"key" gorm:"type:varchar(100);not null;uniqueIndex:idx_egg_properties_key"`
	Value     string    `json:"value" gorm:"type:text"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (EggProperty) TableName() string { return "egg_properties" }
