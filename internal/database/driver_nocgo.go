//go:build !cgo

package database

import (
	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// driverName is the database/sql driver registered for this build. Without
// cgo we fall back to modernc.org/sqlite, a pure-Go translation of SQLite
// that needs no C toolchain to cross-compile.
const driverName = "sqlite"

// dsnPragmas renders the PRAGMA portion of the connection DSN using
// modernc.org/sqlite's _pragma=name(value) query-parameter syntax.
func dsnPragmas(profile DatabaseProfile) string {
	pragmas := "?_pragma=journal_mode(WAL)"

	switch profile {
	case ProfileLedger:
		pragmas += "&_pragma=synchronous(FULL)"
		pragmas += "&_pragma=auto_vacuum(NONE)"
	case ProfileCache:
		pragmas += "&_pragma=synchronous(OFF)"
		pragmas += "&_pragma=auto_vacuum(FULL)"
		pragmas += "&_pragma=temp_store(MEMORY)"
	case ProfileStandard:
		pragmas += "&_pragma=synchronous(NORMAL)"
		pragmas += "&_pragma=auto_vacuum(INCREMENTAL)"
		pragmas += "&_pragma=temp_store(MEMORY)"
	}

	pragmas += "&_pragma=foreign_keys(1)"
	pragmas += "&_pragma=wal_autocheckpoint(1000)"
	pragmas += "&_pragma=cache_size(-64000)"

	return pragmas
}
