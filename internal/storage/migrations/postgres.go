package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"regime-precursor-lab/internal/storage/postgres"
)

// RunPostgresMigrations applies the embedded relational schema in lexical
// order: runs, flip events, signature results, alert params. Every file is
// idempotent, so reapplying on startup is safe.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, file := range files {
		data, err := fs.ReadFile(PostgresFS, "postgres/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		// pgx accepts a multi-statement file in a single Exec
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}

	return nil
}
