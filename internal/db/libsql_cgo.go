//go:build cgo

package db

// go-libsql only builds with cgo; it registers the "libsql" driver used by
// openRemote.
import _ "github.com/tursodatabase/go-libsql"
