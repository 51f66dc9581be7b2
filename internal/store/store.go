// Package store persists interview sessions, per-user global contexts, and
// generated training instances in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"expertmine/internal/logging"
)

// Store is the SQLite-backed persistence layer. It implements
// types.SessionWriter and types.GlobalContextStore.
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	vectorExt bool // sqlite-vec vec0 virtual tables available
}

// NewStore initializes the SQLite database at the given path.
func NewStore(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewStore")
	defer timer.Stop()

	logging.Store("Initializing store at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected, ANN search enabled")
	} else {
		logging.StoreDebug("sqlite-vec extension not available, using linear vector scan")
	}

	logging.Store("Store initialization complete")
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	sessionsTable := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		tab_id TEXT NOT NULL,
		status TEXT NOT NULL,
		exchanges_json TEXT NOT NULL,
		pending_question TEXT,
		skills_json TEXT NOT NULL,
		workflows_json TEXT NOT NULL,
		metrics_json TEXT NOT NULL,
		context TEXT,
		generation_ready BOOLEAN DEFAULT FALSE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	`

	globalContextsTable := `
	CREATE TABLE IF NOT EXISTS global_contexts (
		user_id TEXT PRIMARY KEY,
		context TEXT,
		skills_json TEXT NOT NULL,
		workflows_json TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`

	instancesTable := `
	CREATE TABLE IF NOT EXISTS instances (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		tags_json TEXT NOT NULL,
		category TEXT,
		difficulty TEXT,
		confidence REAL,
		quality_score REAL,
		skills_json TEXT NOT NULL,
		workflows_json TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_instances_session ON instances(session_id);
	CREATE INDEX IF NOT EXISTS idx_instances_quality ON instances(quality_score);
	`

	// Embeddings stored as JSON arrays; vec0 mirror maintained when available.
	instanceVectorsTable := `
	CREATE TABLE IF NOT EXISTS instance_vectors (
		instance_id TEXT PRIMARY KEY,
		embedding TEXT NOT NULL,
		dims INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	for _, table := range []string{
		sessionsTable,
		globalContextsTable,
		instancesTable,
		instanceVectorsTable,
	} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if err := RunMigrations(s.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Store("Closing store database connection")
	return s.db.Close()
}

// DB returns the underlying connection, mainly for tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// detectVecExtension probes for vec0 virtual table support.
func (s *Store) detectVecExtension() {
	if s.db == nil {
		return
	}
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
	}
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// GetStats returns row counts per table.
func (s *Store) GetStats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	for _, table := range []string{"sessions", "global_contexts", "instances", "instance_vectors"} {
		var count int64
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			logging.StoreDebug("Table %s count failed: %v", table, err)
			continue
		}
		stats[table] = count
	}
	return stats, nil
}
