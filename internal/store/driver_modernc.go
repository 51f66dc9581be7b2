//go:build !(sqlite_vec && cgo)

package store

import (
	_ "modernc.org/sqlite"
)

// Pure-Go driver. No extension loading, vector search falls back to a
// linear cosine scan.
const driverName = "sqlite"
