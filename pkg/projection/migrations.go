package projection

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/authapp/iamcore/pkg/eventstore/sqlite/migrate"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func runMigrations(db *sql.DB) error {
	m := migrate.New(db, "projection_schema_migrations")

	if err := m.LoadFromFS(migrationsFS, "migrations"); err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := m.Up(); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
