//go:build cgo

package database

import (
	_ "github.com/mattn/go-sqlite3" // cgo-backed SQLite driver
)

// driverName is the database/sql driver registered for this build. The
// cgo build uses mattn/go-sqlite3, which links against the real SQLite C
// library and supports a few PRAGMAs (like defensive mode) the pure-Go
// driver doesn't.
const driverName = "sqlite3"

// dsnPragmas renders the PRAGMA portion of the connection DSN using
// mattn/go-sqlite3's query-parameter syntax: bare key=value pairs, no
// wrapping parens.
func dsnPragmas(profile DatabaseProfile) string {
	pragmas := "?_journal_mode=WAL"

	switch profile {
	case ProfileLedger:
		pragmas += "&_synchronous=FULL"
		pragmas += "&_auto_vacuum=none"
	case ProfileCache:
		pragmas += "&_synchronous=OFF"
		pragmas += "&_auto_vacuum=full"
		pragmas += "&_temp_store=MEMORY"
	case ProfileStandard:
		pragmas += "&_synchronous=NORMAL"
		pragmas += "&_auto_vacuum=incremental"
		pragmas += "&_temp_store=MEMORY"
	}

	pragmas += "&_foreign_keys=1"
	pragmas += "&_busy_timeout=5000"
	pragmas += "&cache=shared"

	return pragmas
}
