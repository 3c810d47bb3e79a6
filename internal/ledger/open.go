package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OpenStore connects to the configured backend: "postgres" with a pgx
// connection string, or "sqlite3" with a file path or ":memory:". The
// schema is not migrated.
func OpenStore(ctx context.Context, driver, url string) (Store, error) {
	switch driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to reach postgres: %w", err)
		}
		return NewPostgresStore(pool), nil
	case "sqlite3":
		return OpenSQLite(url)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
