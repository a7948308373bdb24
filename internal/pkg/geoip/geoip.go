// Package geoip resolves visitor countries from a GeoLite2 database.
package geoip

import (
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// Lookup wraps a GeoLite2 country reader. A nil *Lookup or one without a
// database resolves every address to "".
type Lookup struct {
	mu     sync.RWMutex
	reader *geoip2.Reader
	path   string
	logger *slog.Logger
}

// Open loads the database at path. GeoIP is optional: an empty path or a
// missing file produces a disabled Lookup, never an error.
func Open(path string, logger *slog.Logger) *Lookup {
	l := &Lookup{path: path, logger: logger}
	l.reader = l.open()
	return l
}

func (l *Lookup) open() *geoip2.Reader {
	if l.path == "" {
		l.logger.Debug("GeoIP database path not configured - GeoIP features disabled")
		return nil
	}

	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		l.logger.Info("GeoLite2 database not found - GeoIP features disabled",
			slog.String("path", l.path),
			slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		return nil
	} else if err != nil {
		l.logger.Warn("Error checking GeoLite2 database file",
			slog.String("path", l.path),
			slog.Any("error", err))
		return nil
	}

	reader, err := geoip2.Open(l.path)
	if err != nil {
		l.logger.Error("Failed to open GeoLite2 database",
			slog.String("path", l.path),
			slog.Any("error", err))
		return nil
	}

	l.logger.Info("GeoLite2 database initialized successfully", slog.String("path", l.path))
	return reader
}

// Enabled reports whether a database is loaded.
func (l *Lookup) Enabled() bool {
	if l == nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reader != nil
}

// Country returns the ISO code for address, or "" when unknown.
func (l *Lookup) Country(address string) string {
	if l == nil {
		return ""
	}
	ip := net.ParseIP(address)
	if ip == nil {
		return ""
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.reader == nil {
		return ""
	}

	record, err := l.reader.Country(ip)
	if err != nil {
		l.logger.Debug("GeoIP lookup failed", slog.String("ip", address), slog.Any("error", err))
		return ""
	}
	return record.Country.IsoCode
}

// Reload reopens the database from disk, e.g. after a new download.
func (l *Lookup) Reload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reader != nil {
		l.reader.Close()
	}
	l.reader = l.open()
}

// Close releases the reader.
func (l *Lookup) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.reader == nil {
		return nil
	}
	err := l.reader.Close()
	l.reader = nil
	return err
}
