// Package factory creates storage backends from a connection string.
package factory

import (
	"context"
	"fmt"
	"strings"

	"github.com/issuepilot/issuepilot/internal/storage"
	"github.com/issuepilot/issuepilot/internal/storage/memory"
	"github.com/issuepilot/issuepilot/internal/storage/sqlstore"
)

// Open selects a backend from the --db connection string:
//
//	memory               in-process store (dev/tests)
//	path/to/pilot.db     embedded SQLite (default backend)
//	sqlite:path          embedded SQLite, explicit
//	mysql://DSN          MySQL server (go-sql-driver DSN after the scheme)
//	dolt://DSN           Dolt sql-server; speaks the MySQL protocol
//
// An empty string opens SQLite at the default path supplied by the caller's
// config layer, so Open never invents file locations itself.
func Open(ctx context.Context, conn string) (storage.Store, error) {
	conn = strings.TrimSpace(conn)
	switch {
	case conn == "":
		return nil, fmt.Errorf("storage connection string is empty")
	case conn == "memory":
		return memory.New(), nil
	case strings.HasPrefix(conn, "sqlite:"):
		return sqlstore.New(ctx, sqlstore.DialectSQLite, strings.TrimPrefix(conn, "sqlite:"))
	case strings.HasPrefix(conn, "mysql://"):
		return sqlstore.New(ctx, sqlstore.DialectMySQL, strings.TrimPrefix(conn, "mysql://"))
	case strings.HasPrefix(conn, "dolt://"):
		return sqlstore.New(ctx, sqlstore.DialectMySQL, strings.TrimPrefix(conn, "dolt://"))
	default:
		// Bare path: embedded SQLite.
		return sqlstore.New(ctx, sqlstore.DialectSQLite, conn)
	}
}
