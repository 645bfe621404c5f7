// MeterDB stores decoded meter readings and their hourly and daily rollups.
// The ingestion process writes to it; other processes open it read-only.
package meterdb

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/sirupsen/logrus"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var ErrDatabaseMissing = errors.New("meterdb: database does not exist")

type MeterDB struct {
	db       *sql.DB
	path     string
	readonly bool
	log      *logrus.Entry
}

// Open opens or creates the database at path and applies pending migrations.
func Open(path string) (*MeterDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	m, err := open(path, false)
	if err != nil {
		return nil, err
	}
	if err := m.migrate(); err != nil {
		m.Close()
		return nil, err
	}
	// one writer connection avoids SQLITE_BUSY between our own connections
	m.db.SetMaxOpenConns(1)
	return m, nil
}

// OpenReadonly opens an existing database. Every statement on it is refused
// by SQLite if it would write.
func OpenReadonly(path string) (*MeterDB, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseMissing, path)
	}
	return open(path, true)
}

func open(path string, readonly bool) (*MeterDB, error) {
	db, err := sql.Open("sqlite", dsn(path, readonly))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Verify connection
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	return &MeterDB{
		db:       db,
		path:     path,
		readonly: readonly,
		log:      logrus.WithFields(logrus.Fields{"component": "meterdb", "path": path}),
	}, nil
}

func dsn(path string, readonly bool) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	if readonly {
		q.Set("mode", "ro")
		q.Add("_pragma", "query_only(1)")
	}
	// ? # and % in the path would otherwise end or garble the URI
	return "file:" + (&url.URL{Path: path}).EscapedPath() + "?" + q.Encode()
}

func (m *MeterDB) migrate() error {
	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(
		m.db,
		migrationFS,
		"migrations",
	)

	// MigrateUpCh reports failures only through its own log
	var name string
	err := m.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'readings'`).Scan(&name)
	if err != nil {
		return fmt.Errorf("migrations did not create the readings table: %w", err)
	}
	return nil
}

func (m *MeterDB) DB() *sql.DB {
	return m.db
}

func (m *MeterDB) Path() string {
	return m.path
}

func (m *MeterDB) Close() error {
	return m.db.Close()
}
