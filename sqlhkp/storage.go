/*
   Hockeypuck - OpenPGP key server
   Copyright (C) 2012-2014  Casey Marshall

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as published by
   the Free Software Foundation, version 3.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package sqlhkp implements the HKP key repository on relational databases
// through database/sql. PostgreSQL is reached with either lib/pq
// ("postgres") or pgx ("pgx"); SQLite ("sqlite3") serves single-node
// installs and tests.
package sqlhkp

import (
	"context"
	"database/sql"
	"embed"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"

	hkpstorage "hkps/hkp/storage"
)

//go:embed migrations/*/*.sql
var migrations embed.FS

// goose keeps its file system and dialect in package globals.
var migrateMu sync.Mutex

type storage struct {
	db     *sqlx.DB
	driver string

	mu        sync.Mutex
	listeners []func(hkpstorage.KeyChange) error
}

var _ hkpstorage.Storage = (*storage)(nil)

// Dial returns storage connected to the given data source with the named
// driver: "postgres", "pgx" or "sqlite3".
func Dial(driver, dsn string) (hkpstorage.Storage, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if driver == "sqlite3" {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}
	st, err := New(db)
	if err != nil {
		db.Close()
		return nil, errors.WithStack(err)
	}
	return st, nil
}

// New returns an HKP storage implementation on an open database, migrating
// its schema to the latest version.
func New(db *sqlx.DB) (hkpstorage.Storage, error) {
	driver := db.DriverName()
	dir, err := migrationDir(driver)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	st := &storage{
		db:     db,
		driver: driver,
	}
	err = st.migrate(driver, dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to migrate schema")
	}
	return st, nil
}

func migrationDir(driver string) (string, error) {
	switch driver {
	case "postgres", "pgx":
		return "migrations/postgres", nil
	case "sqlite3":
		return "migrations/sqlite3", nil
	}
	return "", errors.Errorf("unsupported database driver %q", driver)
}

func (st *storage) migrate(dialect, dir string) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()
	goose.SetBaseFS(migrations)
	goose.SetLogger(log.StandardLogger())
	err := goose.SetDialect(dialect)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(goose.Up(st.db.DB, dir))
}

func (st *storage) Close() error {
	return st.db.Close()
}

// inTx runs f in a transaction, committing if it returns nil.
func (st *storage) inTx(ctx context.Context, f func(tx *sqlx.Tx) error) (retErr error) {
	tx, err := st.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		if retErr != nil {
			tx.Rollback()
		} else {
			retErr = errors.WithStack(tx.Commit())
		}
	}()
	return f(tx)
}

func (st *storage) Subscribe(f func(hkpstorage.KeyChange) error) {
	st.mu.Lock()
	st.listeners = append(st.listeners, f)
	st.mu.Unlock()
}

func (st *storage) Notify(change hkpstorage.KeyChange) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	log.Debugf("%v", change)
	for _, f := range st.listeners {
		err := f(change)
		if err != nil {
			log.WithFields(log.Fields{
				"change": change,
				"error":  err,
			}).Warning("key change listener failed")
		}
	}
	return nil
}

// timestamp normalizes times to the stored precision.
func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func timestampPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	ts := timestamp(*t)
	return &ts
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
