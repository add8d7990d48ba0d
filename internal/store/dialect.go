package store

import (
	"fmt"
	"strings"
)

// dialect captures the differences between the supported SQL backends.
type dialect struct {
	name       string
	driver     string
	idColumn   string
	typeByKind map[columnKind]string
	numbered   bool
}

var (
	postgresDialect = dialect{
		name:     "postgres",
		driver:   "pgx",
		idColumn: "id BIGSERIAL PRIMARY KEY",
		typeByKind: map[columnKind]string{
			kindText:  "TEXT",
			kindTime:  "TIMESTAMPTZ",
			kindCount: "BIGINT",
			kindBool:  "BOOLEAN",
		},
		numbered: true,
	}

	sqliteDialect = dialect{
		name:     "sqlite",
		driver:   "sqlite",
		idColumn: "id INTEGER PRIMARY KEY AUTOINCREMENT",
		typeByKind: map[columnKind]string{
			kindText:  "TEXT",
			kindTime:  "TIMESTAMP",
			kindCount: "INTEGER",
			kindBool:  "BOOLEAN",
		},
	}
)

func (d dialect) columnType(k columnKind) string {
	return d.typeByKind[k]
}

// placeholder returns the bind marker for the n-th (1-based) argument.
func (d dialect) placeholder(n int) string {
	if d.numbered {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (d dialect) placeholders(from, count int) string {
	marks := make([]string, count)
	for i := range marks {
		marks[i] = d.placeholder(from + i)
	}
	return strings.Join(marks, ", ")
}

// parseDatabaseURL picks a dialect and driver DSN for databaseURL.
func parseDatabaseURL(databaseURL string) (dialect, string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgresDialect, databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		dsn := strings.TrimPrefix(databaseURL, "sqlite://")
		if dsn == "" {
			return dialect{}, "", fmt.Errorf("sqlite url %q has no path", databaseURL)
		}
		return sqliteDialect, dsn, nil
	case strings.HasPrefix(databaseURL, "file:"), databaseURL == ":memory:":
		return sqliteDialect, databaseURL, nil
	default:
		return dialect{}, "", fmt.Errorf("unsupported database url %q: want postgres://, sqlite:// or file:", databaseURL)
	}
}
