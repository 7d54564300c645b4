package db

import (
	"database/sql"
	"fmt"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

// DefaultDSN keeps the case store in process memory. Persistence durability
// is out of scope; point the DSN at a file path to keep data across runs.
const DefaultDSN = ":memory:"

// memSeq names each in-memory store so two Opens in one process get
// independent databases.
var memSeq atomic.Int64

type Config struct {
	DSN string
}

// Open opens the SQLite database with foreign keys on. Each Open of the
// default DSN gets its own named in-memory database; the shared cache only
// spans connections to that name.
func Open(cfg Config) (*sql.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = DefaultDSN
	}
	if dsn == DefaultDSN {
		dsn = fmt.Sprintf("file:caseflow-mem-%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", memSeq.Add(1))
	} else {
		dsn = fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", dsn)
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single writer connection preserves the per-case append order without
	// SQLITE_BUSY retries.
	conn.SetMaxOpenConns(1)
	return conn, nil
}
