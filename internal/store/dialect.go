package store

import (
	"fmt"
	"strings"
)

// dialect captures the column types that differ between backends.
type dialect struct {
	name       string
	driverName string // database/sql driver name
	timestamp  string
	boolean    string
	bigint     string
}

var dialects = map[string]dialect{
	"sqlite": {
		name:       "sqlite",
		driverName: "sqlite",
		timestamp:  "DATETIME",
		boolean:    "BOOLEAN",
		bigint:     "INTEGER",
	},
	"postgres": {
		name:       "postgres",
		driverName: "pgx",
		timestamp:  "TIMESTAMP",
		boolean:    "BOOLEAN",
		bigint:     "BIGINT",
	},
	"mysql": {
		name:       "mysql",
		driverName: "mysql",
		timestamp:  "DATETIME(6)",
		boolean:    "BOOLEAN",
		bigint:     "BIGINT",
	},
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return dialects["sqlite"], nil
	case "postgres", "postgresql", "pgx":
		return dialects["postgres"], nil
	case "mysql", "mariadb":
		return dialects["mysql"], nil
	}
	return dialect{}, fmt.Errorf("unsupported store driver %q", driver)
}

// render substitutes the dialect's column types into a DDL template.
func (d dialect) render(ddl string) string {
	return strings.NewReplacer(
		"{ts}", d.timestamp,
		"{bool}", d.boolean,
		"{bigint}", d.bigint,
	).Replace(ddl)
}
