// Package store provides transactional persistence for the workflow control
// plane: workflows, runs, approvals, artifacts, connectors, secrets, and the
// model preset catalog, backed by an embedded SQLite database.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DBFilename is the fixed name of the embedded database file within the
// configured data directory.
const DBFilename = "dara_control_plane.db"

// Workflow is immutable after creation: schema is stored as a JSON blob and
// never mutated.
type Workflow struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Schema    string `gorm:"not null"` // JSON encoding of workflow.Schema
	CreatedAt string `gorm:"not null"`
}

// Run is the mutable run state machine row. See internal/engine for the
// transition logic; Store only persists rows.
type Run struct {
	ID          string `gorm:"primaryKey"`
	WorkflowID  string `gorm:"not null;index"`
	Status      string `gorm:"not null"`
	CurrentStep int    `gorm:"not null"`
	Input       string // JSON, nullable
	CreatedAt   string `gorm:"not null"`
	UpdatedAt   string `gorm:"not null"`
}

// Approval is keyed by id for targeted updates, but gate satisfaction is
// queried by (RunID, PayloadHash) per the fingerprint policy (spec.md §4.G.3).
type Approval struct {
	ID          string `gorm:"primaryKey"`
	RunID       string `gorm:"not null;index"`
	ActionType  string `gorm:"not null"`
	PayloadHash string `gorm:"not null;index"`
	Status      string `gorm:"not null"`
	DecidedBy   *string
	DecidedAt   *string
}

// Artifact is an append-only record of a file written to disk for a run.
type Artifact struct {
	ID        string `gorm:"primaryKey"`
	RunID     string `gorm:"not null;index"`
	Path      string `gorm:"not null"`
	Type      string `gorm:"not null"`
	CreatedAt string `gorm:"not null"`
}

// Connector is a cached record of a successful connect() call.
type Connector struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Status    string `gorm:"not null"`
	Metadata  string // JSON
	CreatedAt string `gorm:"not null"`
}

// Secret holds a ciphertext value; plaintext is never persisted.
type Secret struct {
	ID        string `gorm:"primaryKey"`
	Scope     string `gorm:"not null;index"`
	Name      string `gorm:"not null"`
	Value     string `gorm:"not null"` // ciphertext
	CreatedAt string `gorm:"not null"`
}

// ModelPreset is a named preset-to-model mapping.
type ModelPreset struct {
	Name  string `gorm:"primaryKey"`
	Model string `gorm:"not null"`
}

// ModelPresetState holds the single "active" preset selection row, keyed by
// a fixed id since there is always exactly one.
type ModelPresetState struct {
	ID           string `gorm:"primaryKey"`
	ActivePreset string `gorm:"not null"`
}

// Store is a single-writer, many-reader wrapper around a gorm/SQLite
// connection. Writers are serialized with a process-wide mutex because the
// engine's correctness depends on read-modify-write atomicity of a run row
// (spec.md §4.A) — SQLite itself already serializes writers at the database
// level, but the explicit lock keeps multi-statement read-then-write
// sequences (e.g. "is there an approved row? if not, insert one") atomic
// from the engine's point of view.
type Store struct {
	db      *gorm.DB
	writeMu sync.Mutex
}

// Open creates (or reuses) the SQLite database under dataDir and migrates
// its schema. Migration is additive and idempotent, mirroring the Python
// store's CREATE TABLE IF NOT EXISTS statements.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", dataDir, err)
	}
	dbPath := filepath.Join(dataDir, DBFilename)

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	if err := db.AutoMigrate(
		&Workflow{},
		&Run{},
		&Approval{},
		&Artifact{},
		&Connector{},
		&Secret{},
		&ModelPreset{},
		&ModelPresetState{},
	); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Tx runs f inside a transaction, committing on a nil return and rolling
// back otherwise. Nested calls are not supported — f must not call Tx again
// on the same Store.
func (s *Store) Tx(f func(tx *gorm.DB) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.db.Transaction(f)
}

// DB returns the underlying gorm handle for read-only list/get queries,
// which are permitted outside a transaction per spec.md §4.A.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Now returns the current time as an ISO-8601 UTC string, the timestamp
// format used throughout the data model. The fraction always has nine
// digits, so timestamps sort chronologically as strings.
func Now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
