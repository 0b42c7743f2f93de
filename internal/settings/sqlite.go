// ABOUTME: SQLite backend for server definitions using modernc.org/sqlite.
// ABOUTME: Stores args and env as JSON columns with automatic schema creation.

package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "settings", "backend", BackendSQLite)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite settings store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS servers (
			name       TEXT PRIMARY KEY,
			command    TEXT NOT NULL DEFAULT '',
			args_json  TEXT NOT NULL DEFAULT '[]',
			env_json   TEXT NOT NULL DEFAULT '{}',
			url        TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// List returns every definition sorted by name.
func (s *SQLiteStore) List(ctx context.Context) ([]ServerDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, command, args_json, env_json, url FROM servers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying servers: %w", err)
	}
	defer rows.Close()

	var defs []ServerDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating servers: %w", err)
	}
	return defs, nil
}

// Get returns one definition.
func (s *SQLiteStore) Get(ctx context.Context, name string) (ServerDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, command, args_json, env_json, url FROM servers WHERE name = ?`, name)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ServerDefinition{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return def, err
}

// Create adds a definition.
func (s *SQLiteStore) Create(ctx context.Context, def ServerDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	args, env, err := encodeColumns(def)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO servers (name, command, args_json, env_json, url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, def.Name, def.Command, args, env, def.URL, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrServerExists, def.Name)
		}
		return fmt.Errorf("inserting server: %w", err)
	}

	s.logger.Info("server created", "server", def.Name)
	return nil
}

// Update replaces an existing definition.
func (s *SQLiteStore) Update(ctx context.Context, def ServerDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	args, env, err := encodeColumns(def)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE servers SET command = ?, args_json = ?, env_json = ?, url = ?, updated_at = ?
		WHERE name = ?
	`, def.Command, args, env, def.URL, time.Now().UTC().Format(time.RFC3339), def.Name)
	if err != nil {
		return fmt.Errorf("updating server: %w", err)
	}
	if err := requireOneRow(result, def.Name); err != nil {
		return err
	}

	s.logger.Info("server updated", "server", def.Name)
	return nil
}

// Delete removes a definition.
func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM servers WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting server: %w", err)
	}
	if err := requireOneRow(result, name); err != nil {
		return err
	}

	s.logger.Info("server deleted", "server", name)
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row scanner) (ServerDefinition, error) {
	var def ServerDefinition
	var argsRaw, envRaw string
	if err := row.Scan(&def.Name, &def.Command, &argsRaw, &envRaw, &def.URL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ServerDefinition{}, err
		}
		return ServerDefinition{}, fmt.Errorf("scanning server: %w", err)
	}
	if err := json.Unmarshal([]byte(argsRaw), &def.Args); err != nil {
		return ServerDefinition{}, fmt.Errorf("decoding args of %s: %w", def.Name, err)
	}
	if err := json.Unmarshal([]byte(envRaw), &def.Env); err != nil {
		return ServerDefinition{}, fmt.Errorf("decoding env of %s: %w", def.Name, err)
	}
	if len(def.Args) == 0 {
		def.Args = nil
	}
	if len(def.Env) == 0 {
		def.Env = nil
	}
	return def, nil
}

func encodeColumns(def ServerDefinition) (string, string, error) {
	args := def.Args
	if args == nil {
		args = []string{}
	}
	env := def.Env
	if env == nil {
		env = map[string]string{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", "", fmt.Errorf("encoding args: %w", err)
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return "", "", fmt.Errorf("encoding env: %w", err)
	}
	return string(argsJSON), string(envJSON), nil
}

func requireOneRow(result sql.Result, name string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
