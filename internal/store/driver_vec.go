//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

// cgo driver with sqlite-vec registered as an auto-loadable extension,
// enabling vec0 virtual tables for ANN search over instance embeddings.
const driverName = "sqlite3"

func init() {
	vec.Auto()
}
