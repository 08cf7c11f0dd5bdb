// Package migrate applies the embedded schema migrations with goose.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

const defaultMigrationsTable = "schema_migrations"

// ErrNoDatabase is returned when the manager has no connection to work on.
var ErrNoDatabase = errors.New("migrate: database connection required")

// goose keeps its dialect, table and filesystem in package state.
var gooseMu sync.Mutex

// Manager executes goose migrations from a filesystem, by default the embedded one.
type Manager struct {
	db    *sql.DB
	fsys  fs.FS
	dir   string
	table string
	log   zerolog.Logger
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.table = name
		}
	}
}

// WithLogger routes goose output through log.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// NewManager constructs a Manager reading migrations from dir inside fsys.
// A nil fsys reads dir from disk.
func NewManager(db *sql.DB, fsys fs.FS, dir string, opts ...Option) *Manager {
	m := &Manager{
		db:    db,
		fsys:  fsys,
		dir:   dir,
		table: defaultMigrationsTable,
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	return m.run(func() error {
		return goose.UpContext(ctx, m.db, m.dir)
	})
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) error {
	return m.run(func() error {
		return goose.DownContext(ctx, m.db, m.dir)
	})
}

// Version returns the current schema version.
func (m *Manager) Version(ctx context.Context) (int64, error) {
	var v int64
	err := m.run(func() error {
		var err error
		v, err = goose.GetDBVersionContext(ctx, m.db)
		return err
	})
	return v, err
}

// MigrationStatus describes one known migration.
type MigrationStatus struct {
	Version int64
	Name    string
	Applied bool
}

// Status lists the known migrations in order and marks the applied ones.
func (m *Manager) Status(ctx context.Context) ([]MigrationStatus, error) {
	var out []MigrationStatus
	err := m.run(func() error {
		current, err := goose.GetDBVersionContext(ctx, m.db)
		if err != nil {
			return err
		}
		migrations, err := goose.CollectMigrations(m.dir, 0, goose.MaxVersion)
		if err != nil {
			return err
		}
		for _, mig := range migrations {
			out = append(out, MigrationStatus{
				Version: mig.Version,
				Name:    filepath.Base(mig.Source),
				Applied: mig.Version <= current,
			})
		}
		return nil
	})
	return out, err
}

func (m *Manager) run(fn func() error) error {
	if m.db == nil {
		return ErrNoDatabase
	}
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(m.fsys)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(gooseLogger{log: m.log})
	goose.SetTableName(m.table)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := fn(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// gooseLogger bridges goose's Printf-style logging to zerolog.
type gooseLogger struct {
	log zerolog.Logger
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error().Str("component", "goose").Msg(fmt.Sprintf(format, v...))
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.log.Info().Str("component", "goose").Msg(fmt.Sprintf(format, v...))
}
