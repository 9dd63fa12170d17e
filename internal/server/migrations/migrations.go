// Package migrations embeds the goose SQL migrations for every supported
// database driver. Each driver has its own directory; the schemas are kept
// equivalent so repositories can share one portable SQL dialect.
package migrations

import (
	"embed"
	"fmt"
)

//go:embed postgres/*.sql sqlite/*.sql
var Migrations embed.FS

// Dir returns the migration directory and goose dialect for a driver name
// as used in configuration ("postgres" or "sqlite").
func Dir(driver string) (dir string, dialect string, err error) {
	switch driver {
	case "postgres":
		return "postgres", "pgx", nil
	case "sqlite":
		return "sqlite", "sqlite3", nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", driver)
	}
}
