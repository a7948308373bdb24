package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// AllowedDomainsKey holds the JSON array of origins allowed to call the
// gated endpoints. The entry "*" allows every origin.
const AllowedDomainsKey = "allowed_domains"

// Wildcard allows any origin when present in the allow-list.
const Wildcard = "*"

// Entry is a key/value row of the config table.
type Entry struct {
	Key   string `gorm:"primaryKey"`
	Value string `gorm:"not null"`
}

func (Entry) TableName() string {
	return "config"
}

// ErrSettingNotFound is returned when a key has no row.
var ErrSettingNotFound = errors.New("setting not found")

// GetSetting retrieves a setting value from the database
func GetSetting(dbConn *gorm.DB, key string) (string, error) {
	var entry Entry
	result := dbConn.Where("key = ?", key).First(&entry)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return "", ErrSettingNotFound
	}
	if result.Error != nil {
		return "", result.Error
	}
	return entry.Value, nil
}

// CreateOrUpdateSetting writes a setting, creating the row if needed
func CreateOrUpdateSetting(logger *slog.Logger, dbConn *gorm.DB, key, value string) error {
	return sqlite.PerformWrite(logger, dbConn, func(tx *gorm.DB) error {
		err := tx.Exec(`
			INSERT INTO config (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value).Error
		if err != nil {
			return fmt.Errorf("failed to upsert setting %s: %w", key, err)
		}
		return nil
	})
}

// GetAllowedOrigins decodes the allow-list. A missing row is an empty list;
// a row that is not a JSON array of strings is an error.
func GetAllowedOrigins(dbConn *gorm.DB) ([]string, error) {
	value, err := GetSetting(dbConn, AllowedDomainsKey)
	if errors.Is(err, ErrSettingNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read allowed origins: %w", err)
	}

	var origins []string
	if err := json.Unmarshal([]byte(value), &origins); err != nil {
		return nil, fmt.Errorf("failed to decode allowed origins: %w", err)
	}
	return origins, nil
}

// SaveAllowedOrigins replaces the allow-list. Entries are trimmed, trailing
// slashes dropped and duplicates removed.
func SaveAllowedOrigins(logger *slog.Logger, dbConn *gorm.DB, origins []string) error {
	cleaned := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" || slices.Contains(cleaned, origin) {
			continue
		}
		cleaned = append(cleaned, origin)
	}

	encoded, err := json.Marshal(cleaned)
	if err != nil {
		return fmt.Errorf("failed to encode allowed origins: %w", err)
	}
	return CreateOrUpdateSetting(logger, dbConn, AllowedDomainsKey, string(encoded))
}

// OriginPolicy answers whether a request origin is allow-listed. The decoded
// list is kept for ttl; a zero ttl reads the config row on every call.
type OriginPolicy struct {
	dbConn *gorm.DB
	logger *slog.Logger
	cache  *cache.Cache[string, []string]
}

// NewOriginPolicy creates a policy reading the allow-list from dbConn.
func NewOriginPolicy(dbConn *gorm.DB, logger *slog.Logger, ttl time.Duration) *OriginPolicy {
	policy := &OriginPolicy{dbConn: dbConn, logger: logger}
	if ttl > 0 {
		policy.cache = cache.NewCache[string, []string](logger, ttl, func(string) ([]string, error) {
			return GetAllowedOrigins(dbConn)
		})
	}
	return policy
}

// Origins returns the current allow-list.
func (p *OriginPolicy) Origins() ([]string, error) {
	if p.cache == nil {
		return GetAllowedOrigins(p.dbConn)
	}
	return p.cache.Get(AllowedDomainsKey)
}

// Allows reports whether origin may call a gated endpoint. Any failure to
// read or decode the list denies.
func (p *OriginPolicy) Allows(origin string) bool {
	origins, err := p.Origins()
	if err != nil {
		p.logger.Error("Failed to load allowed origins", slog.Any("error", err))
		return false
	}
	return slices.Contains(origins, Wildcard) || slices.Contains(origins, origin)
}

// Invalidate drops the cached list so the next check reads the database.
func (p *OriginPolicy) Invalidate() {
	if p.cache != nil {
		p.cache.Clear()
	}
}
