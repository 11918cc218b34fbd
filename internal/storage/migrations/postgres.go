package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"shielded-risk/internal/storage/postgres"
)

// RunPostgresMigrations applies the embedded schema files in lexical order.
// Every file is written to be idempotent (CREATE TABLE IF NOT EXISTS and
// friends), so re-running at startup is safe.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := fs.Glob(PostgresFS, "postgres/*.sql")
	if err != nil {
		return fmt.Errorf("list embedded postgres migrations: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := fs.ReadFile(PostgresFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		sql := strings.TrimSpace(string(data))
		if sql == "" {
			continue
		}
		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}

	return nil
}
