// Package pgtest runs a throwaway postgres cluster per test, for gocheck
// integration suites of the SQL key repository.
package pgtest

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	gc "gopkg.in/check.v1"
)

// EnvVar names the environment variable that turns postgres suites on.
const EnvVar = "POSTGRES_TESTS"

const (
	readyAttempts = 40
	readyInterval = 50 * time.Millisecond
)

// template cluster, created by initdb once per test binary and copied
// for each test.
var (
	templateDir = filepath.Join(os.TempDir(), "pgtestdata-hkps")
	bindir      string
	initOnce    sync.Once
	initErr     error
)

// Enabled reports whether postgres integration suites were requested.
func Enabled() bool {
	return os.Getenv(EnvVar) != ""
}

type PGSuite struct {
	// Driver is the database/sql driver used to reach the cluster,
	// "postgres" unless set before SetUpTest.
	Driver string
	// DSN connects to the postgres database of the running cluster.
	DSN string
	Dir string

	cmd *exec.Cmd
	dbs []*sqlx.DB
}

// SetUpTest starts postgres on a unix socket in a fresh copy of the
// template cluster.
func (s *PGSuite) SetUpTest(c *gc.C) {
	initOnce.Do(func() { initErr = initTemplate() })
	c.Assert(initErr, gc.IsNil, gc.Commentf("initdb"))
	if s.Driver == "" {
		s.Driver = "postgres"
	}

	var err error
	s.Dir, err = os.MkdirTemp("", "pgtest")
	c.Assert(err, gc.IsNil)
	err = exec.Command("cp", "-a", templateDir+"/.", s.Dir).Run()
	c.Assert(err, gc.IsNil, gc.Commentf("copying template cluster"))

	conf, err := os.OpenFile(filepath.Join(s.Dir, "postgresql.conf"), os.O_APPEND|os.O_WRONLY, 0666)
	c.Assert(err, gc.IsNil)
	_, err = fmt.Fprintf(conf, "\nfsync = off\nlisten_addresses = ''\nunix_socket_directories = '%s'\n", s.Dir)
	c.Assert(err, gc.IsNil)
	c.Assert(conf.Close(), gc.IsNil)

	s.DSN = "host=" + s.Dir + " dbname=postgres sslmode=disable"
	s.cmd = exec.Command(filepath.Join(bindir, "postgres"), "-D", s.Dir)
	c.Assert(s.cmd.Start(), gc.IsNil, gc.Commentf("starting postgres"))
	c.Log("started postgres in ", s.Dir)

	c.Assert(s.waitReady(), gc.IsNil)
}

func (s *PGSuite) waitReady() error {
	sock := filepath.Join(s.Dir, ".s.PGSQL.5432")
	var err error
	for n := 0; n < readyAttempts; n++ {
		time.Sleep(readyInterval)
		if _, err = os.Stat(sock); err != nil {
			continue
		}
		var db *sqlx.DB
		db, err = sqlx.Open(s.Driver, s.DSN)
		if err != nil {
			continue
		}
		err = db.Ping()
		db.Close()
		if err == nil {
			return nil
		}
	}
	return fmt.Errorf("postgres in %s not ready: %v", s.Dir, err)
}

// Open returns a connection pool to the cluster, closed on TearDownTest.
func (s *PGSuite) Open(c *gc.C) *sqlx.DB {
	db, err := sqlx.Open(s.Driver, s.DSN)
	c.Assert(err, gc.IsNil)
	s.dbs = append(s.dbs, db)
	return db
}

// TearDownTest stops postgres and removes its data directory.
func (s *PGSuite) TearDownTest(c *gc.C) {
	for _, db := range s.dbs {
		db.Close()
	}
	s.dbs = nil
	if s.cmd == nil {
		return
	}
	c.Assert(s.cmd.Process.Signal(os.Interrupt), gc.IsNil)
	c.Assert(s.cmd.Wait(), gc.IsNil)
	c.Assert(os.RemoveAll(s.Dir), gc.IsNil)
	s.cmd = nil
}

func initTemplate() error {
	out, err := exec.Command("pg_config", "--bindir").Output()
	if exitErr, ok := err.(*exec.ExitError); ok {
		return fmt.Errorf("pg_config: %s", exitErr.Stderr)
	} else if err != nil {
		return err
	}
	bindir = string(bytes.TrimSpace(out))

	err = os.Mkdir(templateDir, 0777)
	if os.IsExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	err = exec.Command(filepath.Join(bindir, "initdb"), "-D", templateDir).Run()
	if err != nil {
		os.RemoveAll(templateDir)
		return fmt.Errorf("initdb: %v", err)
	}
	return nil
}
