package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

type DBConfig struct {
	Dialect         Dialect
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to the configured database, applies pending migrations and
// returns a ready adapter.
func Open(ctx context.Context, cfg DBConfig) (*SQLAdapter, error) {
	driverName, dsn, err := normalizeDSN(cfg.Dialect, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if err := Migrate(driverName, dsn, cfg.Dialect); err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Dialect, err)
	}

	if cfg.Dialect == DialectSQLite {
		// single writer avoids SQLITE_BUSY on upgrade from read to write lock
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Dialect, err)
	}

	return NewSQLAdapter(db, cfg.Dialect), nil
}

// Migrate applies the embedded migrations of the dialect. It uses its own
// connection because closing the migrator closes the database it was given.
func Migrate(driverName, dsn string, dialect Dialect) error {
	source, err := iofs.New(migrationsFS, "migrations/"+string(dialect))
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	dsn, err = migrationDSN(dialect, dsn)
	if err != nil {
		return err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return fmt.Errorf("open %s for migrations: %w", dialect, err)
	}

	var m *migrate.Migrate
	switch dialect {
	case DialectMySQL:
		driver, err := migratemysql.WithInstance(db, &migratemysql.Config{})
		if err != nil {
			db.Close()
			return fmt.Errorf("create mysql migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", source, "mysql", driver)
		if err != nil {
			db.Close()
			return fmt.Errorf("create migrator: %w", err)
		}
	case DialectSQLite:
		driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
		if err != nil {
			db.Close()
			return fmt.Errorf("create sqlite migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", source, "sqlite", driver)
		if err != nil {
			db.Close()
			return fmt.Errorf("create migrator: %w", err)
		}
	default:
		db.Close()
		return fmt.Errorf("unsupported dialect %q", dialect)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// migrationDSN enables multi-statement execution for MySQL migration files.
// The application pool keeps it off.
func migrationDSN(dialect Dialect, dsn string) (string, error) {
	if dialect != DialectMySQL {
		return dsn, nil
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.MultiStatements = true
	return cfg.FormatDSN(), nil
}

func normalizeDSN(dialect Dialect, dsn string) (driverName, normalized string, err error) {
	switch dialect {
	case DialectMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		return "mysql", cfg.FormatDSN(), nil
	case DialectSQLite:
		params := "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
		if strings.Contains(dsn, "?") {
			return "sqlite", dsn + "&" + params, nil
		}
		return "sqlite", dsn + "?" + params, nil
	default:
		return "", "", fmt.Errorf("unsupported dialect %q", dialect)
	}
}
