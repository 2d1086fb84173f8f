package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/last-emo-boy/watchdog-core/pkg/config"
)

// DB represents the database connection.
type DB struct {
	*sqlx.DB
	config *config.Config
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(cfg *config.Config) (*DB, error) {
	dbPath := cfg.Server.Database.Path

	if dbPath == ":memory:" {
		db, err := sqlx.Connect("sqlite", ":memory:?_pragma=foreign_keys(1)")
		if err != nil {
			return nil, fmt.Errorf("failed to connect to in-memory database: %w", err)
		}

		database := &DB{DB: db, config: cfg}
		if err := database.InitSchema(); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
		return database, nil
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	connStr := dbPath + "?_pragma=foreign_keys(1)"
	if cfg.Server.Database.WALMode {
		connStr += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=cache_size(1000)"
	}

	db, err := sqlx.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	dbWrapper := &DB{DB: db, config: cfg}
	if err := dbWrapper.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return dbWrapper, nil
}

// InitSchema initializes the database schema: nodes and their samples,
// indexed per spec.md §3 — (node_id, created_at desc) for per-node range
// scans and (created_at desc) for fleet-wide range scans.
func (db *DB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		node_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		endpoint_url TEXT NOT NULL,
		method TEXT NOT NULL DEFAULT 'GET',
		headers TEXT NOT NULL DEFAULT '{}',
		body TEXT NOT NULL DEFAULT '',
		check_interval_ms INTEGER NOT NULL,
		expected_status_codes TEXT NOT NULL DEFAULT '[200,201,204]',
		failure_threshold INTEGER NOT NULL DEFAULT 3,
		status TEXT NOT NULL DEFAULT 'active',
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		last_check_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS samples (
		sample_id TEXT PRIMARY KEY,
		node_id TEXT NOT NULL,
		status_code INTEGER NOT NULL,
		status_text TEXT NOT NULL DEFAULT '',
		response_time_ms INTEGER NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (node_id) REFERENCES nodes(node_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_user_id ON nodes(user_id);
	CREATE INDEX IF NOT EXISTS idx_nodes_status ON nodes(status);
	CREATE INDEX IF NOT EXISTS idx_samples_node_created ON samples(node_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_samples_created ON samples(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_samples_node_success ON samples(node_id, success);

	CREATE TRIGGER IF NOT EXISTS update_nodes_timestamp
		AFTER UPDATE ON nodes
		BEGIN
			UPDATE nodes SET updated_at = CURRENT_TIMESTAMP WHERE node_id = NEW.node_id;
		END;
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// HealthCheck performs a health check on the database.
func (db *DB) HealthCheck() error {
	var result int
	if err := db.Get(&result, "SELECT 1"); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// GetStats returns database statistics.
func (db *DB) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	for _, table := range []string{"nodes", "samples"} {
		var count int
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
		if err := db.Get(&count, query); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats[table+"_count"] = count
	}

	var pages, pageSize int
	if err := db.Get(&pages, "PRAGMA page_count"); err == nil {
		if err := db.Get(&pageSize, "PRAGMA page_size"); err == nil {
			stats["database_size_bytes"] = pages * pageSize
		}
	}

	var walMode string
	if err := db.Get(&walMode, "PRAGMA journal_mode"); err == nil {
		stats["journal_mode"] = walMode
	}

	return stats, nil
}

// NodeRepository returns a new node repository.
func (db *DB) NodeRepository() *NodeRepository {
	return NewNodeRepository(db)
}

// SampleRepository returns a new sample repository.
func (db *DB) SampleRepository() *SampleRepository {
	return NewSampleRepository(db)
}
