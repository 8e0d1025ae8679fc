package sqlstore

import "fmt"

// Open dispatches to OpenPostgres or OpenSQLite based on driver, matching
// config.DatabaseConfig.Driver ("postgres" or "sqlite", default "sqlite").
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "", "sqlite":
		if dsn == "" {
			dsn = "orionmind.db"
		}
		return OpenSQLite(dsn)
	case "postgres":
		return OpenPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
