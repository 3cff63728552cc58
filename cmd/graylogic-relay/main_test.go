package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/audit"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-relay/migrations"
)

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv(configEnvVar, "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want loading config error", err)
	}
}

// TestRun_MissingDatabasePath verifies validation rejects an enabled
// database without a path before anything is started.
func TestRun_MissingDatabasePath(t *testing.T) {
	configPath := writeConfig(t, `
node:
  name: test-relay
output:
  backend: memory
database:
  enabled: true
  path: ""
api:
  enabled: false
`)
	t.Setenv(configEnvVar, configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with empty database path")
	}
	if !strings.Contains(err.Error(), "database.path") {
		t.Errorf("run() error = %v, want mention of database.path", err)
	}
}

// TestRun_ShutdownBeforeBroker verifies run returns cleanly when the
// context ends while the link or broker is still unreachable, and that
// the event store was created and migrated on the way.
func TestRun_ShutdownBeforeBroker(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "relay.db")
	configPath := writeConfig(t, `
node:
  name: test-relay
wifi:
  backend: host
  poll_interval: 20ms
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1
    client_id: "test-relay"
  connect_timeout: 200ms
  retry:
    interval: 50ms
output:
  backend: memory
database:
  enabled: true
  path: "`+dbPath+`"
api:
  enabled: false
logging:
  level: error
`)
	t.Setenv(configEnvVar, configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v, want nil on shutdown", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

// TestRun_PrunesExpiredEvents verifies events older than the configured
// retention are removed at startup while recent ones stay.
func TestRun_PrunesExpiredEvents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "relay.db")
	seedEvents(t, dbPath,
		audit.Entry{Type: "seed.expired", Source: "test", CreatedAt: time.Now().Add(-72 * time.Hour)},
		audit.Entry{Type: "seed.recent", Source: "test", CreatedAt: time.Now().Add(-time.Minute)},
	)

	configPath := writeConfig(t, `
node:
  name: test-relay
wifi:
  backend: host
  poll_interval: 20ms
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1
    client_id: "test-relay"
  connect_timeout: 200ms
  retry:
    interval: 50ms
output:
  backend: memory
database:
  enabled: true
  path: "`+dbPath+`"
  retention: 24h
  prune_interval: 1h
api:
  enabled: false
logging:
  level: error
`)
	t.Setenv(configEnvVar, configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v, want nil on shutdown", err)
	}

	db, err := database.Open(config.DatabaseConfig{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	res, err := audit.NewSQLiteRepository(db.DB).List(context.Background(), audit.Filter{Type: "seed.expired"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 0 {
		t.Errorf("expired entries = %d, want 0", res.Total)
	}
	res, err = audit.NewSQLiteRepository(db.DB).List(context.Background(), audit.Filter{Type: "seed.recent"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 {
		t.Errorf("recent entries = %d, want 1", res.Total)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv(configEnvVar, "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv(configEnvVar, expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestClientID(t *testing.T) {
	fixed := config.MQTTBrokerConfig{ClientID: "esp32_mqtt"}
	if got := clientID(fixed); got != "esp32_mqtt" {
		t.Errorf("clientID() = %q, want %q", got, "esp32_mqtt")
	}

	unique := config.MQTTBrokerConfig{ClientID: "esp32_mqtt", UniqueClientID: true}
	a, b := clientID(unique), clientID(unique)
	if !strings.HasPrefix(a, "esp32_mqtt-") || len(a) != len("esp32_mqtt-")+8 {
		t.Errorf("clientID() = %q, want esp32_mqtt- plus 8 characters", a)
	}
	if a == b {
		t.Errorf("clientID() returned %q twice, want distinct suffixes", a)
	}
}

func seedEvents(t *testing.T, path string, entries ...audit.Entry) {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: path, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := audit.NewSQLiteRepository(db.DB)
	for i := range entries {
		if err := repo.Create(context.Background(), &entries[i]); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}
