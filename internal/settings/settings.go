// internal/settings/settings.go
package settings

import (
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"panel-sync-service/pkg/models"

	"gorm.io/gorm"
)

// Well-known setting keys.
const (
	KeyAutoSyncEnabled     = "auto_sync_enabled"
	KeySyncInterval        = "sync_interval"
	KeyCacheTimeout        = "cache_timeout"
	KeyAllocationBatchSize = "allocation_batch_size"
	KeySyncWebhookURL      = "sync_webhook_url"

	KeyPterodactylPanelURL = "pterodactyl_panel_url"
	KeyPterodactylAPIKey   = "pterodactyl_api_key"
	KeyVirtFusionPanelURL  = "virtfusion_panel_url"
	KeyVirtFusionAPIKey    = "virtfusion_api_key"
)

// DefaultCacheTTL is used until the cache_timeout setting has been read
// for the first time. The TTL value cannot come from the cache it governs,
// so the very first read always uses this hard default.
const DefaultCacheTTL = 60 * time.Second

// ttlRefreshInterval is how often the background refresher re-reads
// cache_timeout straight from the database.
const ttlRefreshInterval = time.Minute

var ErrSettingNotFound = errors.New("setting not found")

type cacheEntry struct {
	value   string
	expires time.Time
}

// Store provides typed access to the key/value settings table with a
// per-entry TTL cache in front of it. Reads are concurrent-safe; writes
// invalidate the affected key before returning.
type Store struct {
	db *gorm.DB

	mu    sync.RWMutex
	cache map[string]cacheEntry
	ttl   time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

func NewStore(db *gorm.DB) *Store {
	s := &Store{
		db:    db,
		cache: make(map[string]cacheEntry),
		ttl:   DefaultCacheTTL,
		stop:  make(chan struct{}),
	}
	go s.refreshTTLLoop()
	return s
}

// Close stops the background TTL refresher.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Get returns the raw string value for key, from cache when fresh.
func (s *Store) Get(key string) (string, error) {
	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.value, nil
	}

	value, err := s.fetch(key)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.cache[key] = cacheEntry{value: value, expires: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return value, nil
}

// GetDefault returns the value for key, or fallback when the key is absent.
func (s *Store) GetDefault(key, fallback string) string {
	value, err := s.Get(key)
	if err != nil {
		return fallback
	}
	return value
}

// GetBool parses the value as the strings "true"/"false" (strconv rules).
func (s *Store) GetBool(key string, fallback bool) bool {
	value, err := s.Get(key)
	if err != nil {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

// GetInt parses the value as a base-10 integer.
func (s *Store) GetInt(key string, fallback int) int {
	value, err := s.Get(key)
	if err != nil {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

// GetMany resolves several keys at once; absent keys are omitted from the
// result rather than reported as errors.
func (s *Store) GetMany(keys ...string) map[string]string {
	result := make(map[string]string, len(keys))
	var misses []string

	s.mu.RLock()
	now := time.Now()
	for _, key := range keys {
		if entry, ok := s.cache[key]; ok && now.Before(entry.expires) {
			result[key] = entry.value
		} else {
			misses = append(misses, key)
		}
	}
	s.mu.RUnlock()

	if len(misses) == 0 {
		return result
	}

	var rows []models.Setting
	if err := s.db.Where("key IN ?", misses).Find(&rows).Error; err != nil {
		log.Printf("❌ [SETTINGS] batch read failed: %v", err)
		return result
	}

	s.mu.Lock()
	expires := time.Now().Add(s.ttl)
	for _, row := range rows {
		result[row.Key] = row.Value
		s.cache[row.Key] = cacheEntry{value: row.Value, expires: expires}
	}
	s.mu.Unlock()
	return result
}

// Set writes the value through to the database and invalidates the cache
// entry before returning.
func (s *Store) Set(key, value string) error {
	row := models.Setting{Key: key, Value: value}

	var existing models.Setting
	err := s.db.Where("key = ?", key).First(&existing).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		err = s.db.Create(&row).Error
	case err == nil:
		err = s.db.Model(&existing).Update("value", value).Error
	}
	if err != nil {
		return fmt.Errorf("failed to write setting %q: %w", key, err)
	}

	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	return nil
}

func (s *Store) fetch(key string) (string, error) {
	var row models.Setting
	if err := s.db.Where("key = ?", key).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", ErrSettingNotFound
		}
		return "", fmt.Errorf("failed to read setting %q: %w", key, err)
	}
	return row.Value, nil
}

// refreshTTLLoop re-reads cache_timeout directly from the database so the
// TTL is never resolved through the cache it controls.
func (s *Store) refreshTTLLoop() {
	ticker := time.NewTicker(ttlRefreshInterval)
	defer ticker.Stop()

	s.refreshTTL()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.refreshTTL()
		}
	}
}

func (s *Store) refreshTTL() {
	value, err := s.fetch(KeyCacheTimeout)
	if err != nil {
		return
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 1 {
		return
	}
	s.mu.Lock()
	s.ttl = time.Duration(seconds) * time.Second
	s.mu.Unlock()
}
