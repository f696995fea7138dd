package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Sentinel errors returned by the repository
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// DB represents the database connection with pooling
type DB struct {
	*sql.DB
	pool     *ConnectionPool
	prepared map[string]*sql.Stmt
	mutex    sync.RWMutex
}

// ConnectionPool manages database connection pooling
type ConnectionPool struct {
	db           *sql.DB
	maxOpenConns int
	maxIdleConns int
	maxLifetime  time.Duration
}

// NewConnectionPool applies pool limits to db
func NewConnectionPool(db *sql.DB, maxOpen, maxIdle int, maxLifetime time.Duration) *ConnectionPool {
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	return &ConnectionPool{
		db:           db,
		maxOpenConns: maxOpen,
		maxIdleConns: maxIdle,
		maxLifetime:  maxLifetime,
	}
}

// GetStats returns connection pool statistics
func (cp *ConnectionPool) GetStats() map[string]interface{} {
	stats := cp.db.Stats()

	return map[string]interface{}{
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"max_open_connections": cp.maxOpenConns,
		"max_idle_connections": cp.maxIdleConns,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}

// NewDB opens (creating if needed) the sqlite database under dataDir and migrates it
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "idea_forge.db")

	// immediate transactions so concurrent writers queue on busy_timeout
	// instead of failing lock upgrades
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pool := NewConnectionPool(db, 8, 4, 5*time.Minute)

	database := &DB{
		DB:       db,
		pool:     pool,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := database.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := database.initPreparedStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize prepared statements: %w", err)
	}

	slog.Info("Database initialized",
		"path", dbPath,
		"max_open_conns", pool.maxOpenConns,
		"max_idle_conns", pool.maxIdleConns)

	return database, nil
}

func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			invited_by TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		// score stays NULL until analyzed; status tells unscored from failed
		`CREATE TABLE IF NOT EXISTS ideas (
			id TEXT PRIMARY KEY,
			author_id TEXT NOT NULL,
			text TEXT NOT NULL,
			score REAL,
			status TEXT NOT NULL DEFAULT 'unscored',
			tags TEXT NOT NULL DEFAULT '[]',
			language TEXT NOT NULL DEFAULT '',
			analysis TEXT NOT NULL DEFAULT '{}',
			remix_parent_id TEXT REFERENCES ideas(id),
			remix_chain_depth INTEGER NOT NULL DEFAULT 0 CHECK (remix_chain_depth >= 0),
			remix_count INTEGER NOT NULL DEFAULT 0 CHECK (remix_count >= 0),
			is_seed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS modules (
			id TEXT PRIMARY KEY,
			module_type TEXT NOT NULL,
			content TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '[]',
			created_by TEXT NOT NULL DEFAULT '',
			quality_score REAL NOT NULL DEFAULT 0 CHECK (quality_score >= 0),
			usage_count INTEGER NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
			embedding BLOB,
			version INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS module_combinations (
			id TEXT PRIMARY KEY,
			module_ids TEXT NOT NULL,
			novelty_score REAL NOT NULL,
			complementarity_score REAL NOT NULL,
			marketability_score REAL NOT NULL,
			overall_score REAL NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,

		// append-only; influence_scores is a projection of this table
		`CREATE TABLE IF NOT EXISTS influence_score_entries (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			action_type TEXT NOT NULL,
			points INTEGER NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			reference_id TEXT,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS influence_scores (
			user_id TEXT PRIMARY KEY,
			total_score INTEGER NOT NULL DEFAULT 0,
			weekly_score INTEGER NOT NULL DEFAULT 0,
			monthly_score INTEGER NOT NULL DEFAULT 0,
			week_start TEXT NOT NULL,
			month_start TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS user_streaks (
			user_id TEXT PRIMARY KEY,
			current_streak INTEGER NOT NULL DEFAULT 0 CHECK (current_streak >= 0),
			max_streak INTEGER NOT NULL DEFAULT 0 CHECK (max_streak >= current_streak),
			last_submission_date TEXT,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS user_badges (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			badge_type TEXT NOT NULL,
			awarded_at DATETIME NOT NULL,
			UNIQUE(user_id, badge_type)
		)`,

		`CREATE TABLE IF NOT EXISTS daily_challenges (
			challenge_date TEXT PRIMARY KEY,
			keyword TEXT NOT NULL,
			theme TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS invitations (
			code TEXT PRIMARY KEY,
			inviter_id TEXT NOT NULL,
			invitee_id TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME NOT NULL,
			accepted_at DATETIME
		)`,

		`CREATE INDEX IF NOT EXISTS idx_ideas_author_created ON ideas(author_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_ideas_parent ON ideas(remix_parent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ideas_score ON ideas(score)`,
		`CREATE INDEX IF NOT EXISTS idx_modules_missing_embedding ON modules(id) WHERE embedding IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_combinations_created ON module_combinations(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_user_created ON influence_score_entries(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_total ON influence_scores(total_score DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_badges_user ON user_badges(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_invitations_inviter ON invitations(inviter_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// Hot-path statements. Use them inside a transaction via tx.StmtContext.
const (
	stmtInsertLedgerEntry    = "insert_ledger_entry"
	stmtUpsertInfluenceScore = "upsert_influence_score"
	stmtGetInfluenceScore    = "get_influence_score"
	stmtGetIdea              = "get_idea"
)

func (db *DB) initPreparedStatements() error {
	statements := map[string]string{
		stmtInsertLedgerEntry: `INSERT INTO influence_score_entries
			(id, user_id, action_type, points, description, reference_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,

		// additive upsert; a window rolls over when the stored start differs
		stmtUpsertInfluenceScore: `INSERT INTO influence_scores
			(user_id, total_score, weekly_score, monthly_score, week_start, month_start, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				total_score = total_score + excluded.total_score,
				weekly_score = CASE WHEN week_start = excluded.week_start
					THEN weekly_score + excluded.weekly_score ELSE excluded.weekly_score END,
				monthly_score = CASE WHEN month_start = excluded.month_start
					THEN monthly_score + excluded.monthly_score ELSE excluded.monthly_score END,
				week_start = excluded.week_start,
				month_start = excluded.month_start,
				updated_at = excluded.updated_at`,

		stmtGetInfluenceScore: `SELECT user_id, total_score, weekly_score, monthly_score,
			week_start, month_start, updated_at
			FROM influence_scores WHERE user_id = ?`,

		stmtGetIdea: `SELECT ` + ideaColumns + ` FROM ideas WHERE id = ?`,
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, query := range statements {
		stmt, err := db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		db.prepared[name] = stmt

		slog.Debug("Prepared statement initialized", "name", name)
	}

	return nil
}

// GetPreparedStatement retrieves a prepared statement
func (db *DB) GetPreparedStatement(name string) (*sql.Stmt, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	stmt, exists := db.prepared[name]
	if !exists {
		return nil, fmt.Errorf("prepared statement %s not found", name)
	}

	return stmt, nil
}

// WithTx runs fn in a transaction, committing on nil and rolling back otherwise
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("Failed to roll back transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetPoolStats returns database connection pool statistics
func (db *DB) GetPoolStats() map[string]interface{} {
	return db.pool.GetStats()
}

// Close closes the prepared statements and the connection
func (db *DB) Close() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, stmt := range db.prepared {
		if err := stmt.Close(); err != nil {
			slog.Warn("Failed to close prepared statement", "name", name, "error", err)
		}
	}
	db.prepared = make(map[string]*sql.Stmt)

	return db.DB.Close()
}
