package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/csr/ledger/internal/infrastructure/config"
	"github.com/csr/ledger/internal/infrastructure/logger"
	"github.com/csr/ledger/internal/infrastructure/migration"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const usage = `csr ledger schema migrations

usage: migrate [-path dir] [-log-level level] [-yes] <command> [args]

commands:
  up                 apply every pending migration
  down               roll back every migration
  step <n>           apply n migrations, negative n rolls back
  goto <version>     migrate up or down to version
  version, status    print the applied version and pending files
  drop               drop every table (asks for -yes)
  force <version>    record version as applied after a dirty run
  create <name> [d]  write an empty up/down pair (needs -path)
  list               print the available migrations

Migrations are embedded in the binary unless -path is given. The database
is configured like the server: LEDGER_DATABASE_HOST, LEDGER_DATABASE_PORT,
LEDGER_DATABASE_USER, LEDGER_DATABASE_PASSWORD, LEDGER_DATABASE_DBNAME,
LEDGER_DATABASE_SSLMODE.`

var errUsage = errors.New("bad usage")

// dbCommands need a live connection; the rest only touch migration files.
var dbCommands = map[string]func(m *migration.Migrator, args []string, log *zap.Logger) error{
	"up":   func(m *migration.Migrator, _ []string, _ *zap.Logger) error { return m.Up() },
	"down": func(m *migration.Migrator, _ []string, _ *zap.Logger) error { return m.Down() },
	"step": func(m *migration.Migrator, args []string, _ *zap.Logger) error {
		n, err := intArg(args)
		if err != nil {
			return err
		}
		return m.Steps(n)
	},
	"force": func(m *migration.Migrator, args []string, _ *zap.Logger) error {
		v, err := intArg(args)
		if err != nil {
			return err
		}
		return m.Force(v)
	},
	"goto": func(m *migration.Migrator, args []string, _ *zap.Logger) error {
		v, err := intArg(args)
		if err != nil {
			return err
		}
		if v < 0 {
			return fmt.Errorf("%w: version must not be negative", errUsage)
		}
		return m.Goto(uint(v))
	},
	"drop": func(m *migration.Migrator, _ []string, _ *zap.Logger) error {
		if !*confirmDrop {
			return fmt.Errorf("%w: drop deletes every table, rerun with -yes", errUsage)
		}
		return m.Drop()
	},
	"status": func(m *migration.Migrator, _ []string, log *zap.Logger) error {
		st, err := m.Status()
		if err != nil {
			return err
		}
		log.Info("migration status",
			zap.Uint("version", st.Version),
			zap.Bool("dirty", st.Dirty),
			zap.Strings("pending", st.Pending),
		)
		return nil
	},
}

var confirmDrop = flag.Bool("yes", false, "confirm drop")

func init() {
	dbCommands["version"] = dbCommands["status"]
}

func main() {
	path := flag.String("path", "", "migrations directory (default: embedded set)")
	level := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	command, args := flag.Arg(0), flag.Args()[1:]

	logCfg := logger.Defaults("development")
	logCfg.Level = *level
	logCfg.Service = "ledger-migrate"
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync(log) }()

	if err := run(command, args, *path, log); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
		}
		log.Error("migrate failed", zap.String("command", command), zap.Error(err))
		_ = logger.Sync(log)
		os.Exit(1)
	}
}

func run(command string, args []string, path string, log *zap.Logger) error {
	src := migration.EmbeddedSource()
	if path != "" {
		src = migration.DirSource(path)
	}

	switch command {
	case "create":
		return create(path, args, log)
	case "list":
		return list(src, log)
	}

	fn, ok := dbCommands[command]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	m, err := migration.New(db, src, log)
	if err != nil {
		return err
	}
	defer m.Close()

	log.Info("running migration command", zap.String("command", command), zap.String("source", src.Name))
	return fn(m, args, log)
}

func create(path string, args []string, log *zap.Logger) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: create needs a name", errUsage)
	}
	if path == "" {
		return fmt.Errorf("%w: create writes files, pass -path", errUsage)
	}
	description := ""
	if len(args) > 1 {
		description = args[1]
	}
	created, err := migration.CreateMigration(path, args[0], description)
	if err != nil {
		return err
	}
	log.Info("migration created",
		zap.Uint("version", created.Version),
		zap.String("up", created.UpPath),
		zap.String("down", created.DownPath),
	)
	return nil
}

func list(src migration.Source, log *zap.Logger) error {
	files, err := migration.ListMigrations(src.FS)
	if err != nil {
		return err
	}
	log.Info("available migrations", zap.Int("count", len(files)))
	for _, f := range files {
		fmt.Println(f.Base())
	}
	return nil
}

func intArg(args []string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%w: missing numeric argument", errUsage)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", errUsage, args[0])
	}
	return n, nil
}
