package identity

import (
	"context"
	"database/sql"
	"io/fs"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"
)

func init() {
	persistence.RegisterModel((*User)(nil))
	persistence.RegisterModel((*Profile)(nil))
	persistence.RegisterModel((*Role)(nil))
	persistence.RegisterModel((*Permission)(nil))
	persistence.RegisterModel((*RolePermission)(nil))
	persistence.RegisterModel((*UserRole)(nil))
	persistence.RegisterModel((*RefreshSession)(nil))
	persistence.RegisterModel((*ProofToken)(nil))
}

// OpenDatabase opens the configured store, runs the packaged migrations,
// and returns a ready bun handle. Only the sqlite shim driver is opened
// here; callers on PostgreSQL open their own *sql.DB and use Bootstrap.
func OpenDatabase(ctx context.Context, cfg DatabaseConfig, logger Logger) (*bun.DB, error) {
	db, err := sql.Open(sqliteshim.ShimName, cfg.GetDSN())
	if err != nil {
		return nil, err
	}

	return Bootstrap(ctx, cfg, db, sqlitedialect.New(), logger)
}

// Bootstrap wires an already opened *sql.DB into the persistence client,
// validates and applies migrations, and returns the bun handle.
func Bootstrap(ctx context.Context, cfg DatabaseConfig, db *sql.DB, dialect schema.Dialect, logger Logger) (*bun.DB, error) {
	client, err := persistence.New(cfg, db, dialect)
	if err != nil {
		return nil, err
	}

	migrations, err := fs.Sub(GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return nil, err
	}

	client.RegisterDialectMigrations(
		migrations,
		persistence.WithDialectSourceLabel("data/sql/migrations"),
		persistence.WithValidationTargets("postgres", "sqlite"),
	)

	if err := client.ValidateDialects(ctx); err != nil {
		return nil, err
	}

	if err := client.Migrate(ctx); err != nil {
		return nil, err
	}

	normalizeLogger(logger).Info("database ready: driver %s", cfg.GetDriver())

	return client.DB(), nil
}
