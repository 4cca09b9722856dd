package sqlstore

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"
)

func init() {
	// Cache the WASM-compiled SQLite module to skip ~200ms of JIT on every
	// process start. Falls back to an in-memory cache if the cache dir
	// cannot be created.
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		if c, err := wazero.NewCompilationCacheWithDir(filepath.Join(userCache, "issuepilot", "wasm")); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

// openSQLite opens an embedded SQLite database with the pragmas the store
// depends on: foreign keys, a generous busy timeout, and WAL for file-backed
// databases. In-memory databases get a single shared connection — SQLite
// isolates :memory: per connection by default, which would make the pool
// see different databases.
func openSQLite(path string) (*sql.DB, error) {
	var connStr string
	inMemory := path == ":memory:" || strings.Contains(path, "mode=memory")
	switch {
	case path == ":memory:":
		connStr = "file:pilotmem?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)"
	case strings.HasPrefix(path, "file:"):
		connStr = path
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, err
		}
		connStr = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, err
	}
	if inMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	return db, nil
}
