package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"visitorstats/internal"
	"visitorstats/internal/config"
	"visitorstats/internal/counters"
	"visitorstats/internal/database"
	"visitorstats/internal/settings"
)

// Secrets wired into CreateTestApp.
const (
	TestSalt   = "test-salt"
	TestAPIKey = "test-api-key"
)

// FixedNow is a stable reference instant for tests that need deterministic timestamps.
var FixedNow = time.Date(2024, time.March, 15, 12, 30, 0, 0, time.UTC)

func init() {
	// config.GetConfig reads the environment once, so this must run before any test touches it
	if os.Getenv("VISITORSTATS_ENV") == "" {
		os.Setenv("VISITORSTATS_ENV", config.Test)
	}
}

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDB creates a test database with every model migrated and the
// global stats row bootstrapped. Calls within the same root test share the
// same database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Use root test name for caching to handle closure issues where
	// setup functions capture the outer t while t.Run has subtest t
	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", rootName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	// One connection keeps concurrent writers from tripping over shared-cache table locks
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("testsupport: failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}
	if err := counters.Bootstrap(db); err != nil {
		t.Fatalf("testsupport: failed to bootstrap counters: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB.Close()
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()

	cfg := config.GetConfig()

	// SAFETY CHECK: Ensure we're in test environment
	if cfg.Environment != config.Test {
		t.Fatalf("CRITICAL: Tests must run in test environment! Current: %s. Set VISITORSTATS_ENV=test", cfg.Environment)
	}

	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// CleanAllTables clears all non-system tables in the database, including the
// global stats row.
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)

	if len(tableNames) == 0 {
		return
	}

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tableNames {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// AllowOrigins stores origins as the allow-list.
func AllowOrigins(t *testing.T, db *gorm.DB, origins ...string) {
	t.Helper()
	require.NoError(t, settings.SaveAllowedOrigins(GetLogger(), db, origins))
}

// TestConfig returns a private copy of the test configuration with
// deterministic secrets.
func TestConfig() *config.Config {
	cfg := *config.GetConfig()
	cfg.Environment = config.Test
	cfg.Salt = TestSalt
	cfg.APIKey = TestAPIKey
	cfg.Timezone = "UTC"
	return &cfg
}

// CreateTestApp creates a Fiber app with every route mounted against db.
// Zero-valued fields of opts fall back to the defaults MountRoutes picks,
// except Config, which defaults to TestConfig().
func CreateTestApp(t *testing.T, db *gorm.DB, opts internal.RouteOptions) *fiber.App {
	t.Helper()

	if opts.Config == nil {
		opts.Config = TestConfig()
	}
	if opts.Origins == nil {
		// Tests change the allow-list between requests, so skip the decode cache
		opts.Origins = settings.NewOriginPolicy(db, GetLogger(), 0)
	}

	cfg := internal.NewServerConfig()
	cfg.Config = opts.Config
	cfg.Logger = GetLogger()
	cfg.DBManager = NewTestDBManager(db)

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountRoutes(srv, opts)
	return srv.App()
}
