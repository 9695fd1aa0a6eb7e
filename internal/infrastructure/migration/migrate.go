package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/csr/ledger/migrations"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// MigrationsTable holds golang-migrate's version row.
const MigrationsTable = "ledger_schema_migrations"

// Source is a flat directory of NNNNNN_name.{up,down}.sql files.
type Source struct {
	Name string
	FS   fs.FS
	Path string
}

func EmbeddedSource() Source {
	return Source{Name: "embedded", FS: migrations.FS, Path: "."}
}

func DirSource(dir string) Source {
	return Source{Name: dir, FS: os.DirFS(dir), Path: "."}
}

// Migrator drives golang-migrate against the ledger database.
type Migrator struct {
	m      *migrate.Migrate
	source Source
	logger *zap.Logger
}

// Status is the schema state reported by the CLI.
type Status struct {
	Version uint     `json:"version"`
	Dirty   bool     `json:"dirty"`
	Pending []string `json:"pending"`
}

func New(db *sql.DB, src Source, logger *zap.Logger) (*Migrator, error) {
	files, err := iofs.New(src.FS, src.Path)
	if err != nil {
		return nil, fmt.Errorf("migration source %s: %w", src.Name, err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", files, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrate instance: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{m: m, source: src, logger: logger.Named("migrate")}, nil
}

// apply runs op and logs the resulting version. ErrNoChange is not an error.
func (m *Migrator) apply(op string, run func() error) error {
	m.logger.Info("migration started", zap.String("op", op))
	switch err := run(); {
	case errors.Is(err, migrate.ErrNoChange):
		m.logger.Info("schema already current", zap.String("op", op))
		return nil
	case err != nil:
		return fmt.Errorf("migration %s: %w", op, err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	m.logger.Info("migration finished",
		zap.String("op", op),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

func (m *Migrator) Up() error   { return m.apply("up", m.m.Up) }
func (m *Migrator) Down() error { return m.apply("down", m.m.Down) }

// Steps moves n migrations forward, or back when n is negative.
func (m *Migrator) Steps(n int) error {
	return m.apply(fmt.Sprintf("step %+d", n), func() error { return m.m.Steps(n) })
}

// Goto migrates up or down until version is the applied one.
func (m *Migrator) Goto(version uint) error {
	return m.apply(fmt.Sprintf("goto %d", version), func() error { return m.m.Migrate(version) })
}

// Drop removes every table in the database, not only ledger ones.
func (m *Migrator) Drop() error {
	m.logger.Warn("dropping all tables")
	if err := m.m.Drop(); err != nil {
		return fmt.Errorf("migration drop: %w", err)
	}
	return nil
}

// Version is 0 with no error when nothing has been applied yet.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migration version: %w", err)
	}
	return version, dirty, nil
}

func (m *Migrator) Status() (Status, error) {
	version, dirty, err := m.Version()
	if err != nil {
		return Status{}, err
	}
	files, err := ListMigrations(m.source.FS)
	if err != nil {
		return Status{}, err
	}
	return Status{Version: version, Dirty: dirty, Pending: PendingAfter(files, version)}, nil
}

// Force records version as applied without running anything. Use it to
// clear the dirty flag after repairing a failed migration by hand.
func (m *Migrator) Force(version int) error {
	m.logger.Warn("forcing migration version", zap.Int("version", version))
	if err := m.m.Force(version); err != nil {
		return fmt.Errorf("migration force %d: %w", version, err)
	}
	return nil
}

func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}
