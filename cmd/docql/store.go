package main

import (
	"context"
	"database/sql"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pthm/docql"
	"github.com/pthm/docql/internal/cli"
	"github.com/pthm/docql/internal/definitions"
)

// loadDefinitions reads the definitions file named by the flag or config.
func loadDefinitions(flagPath string) (*definitions.Set, error) {
	path := resolveString(flagPath, cfg.Queries)
	set, err := definitions.Load(path, cfg.Schema)
	if err != nil {
		return nil, cli.DefinitionsError("loading definitions", err)
	}
	slog.Info("definitions loaded", "path", path, "queries", len(set.Names()), "documents", len(set.Documents()))
	return set, nil
}

// newStore builds a store over the definitions' mapping. db may be nil for
// commands that only compile.
func newStore(set *definitions.Set, db *sql.DB) (*docql.Store, error) {
	conv, err := cfg.Conventions()
	if err != nil {
		return nil, cli.ConfigError("serializer conventions", err)
	}
	opts := []docql.Option{
		docql.WithMapping(set.Registry),
		docql.WithConfig(docql.Config{
			Conventions:  conv,
			SearchConfig: cfg.SearchConfig,
			Tenant:       cfg.Tenant,
		}),
		docql.WithLogger(slog.Default()),
	}
	if db != nil {
		opts = append(opts, docql.WithQuerier(db))
	}
	s, err := docql.NewStore(opts...)
	if err != nil {
		return nil, cli.DefinitionsError("building store", err)
	}
	return s, nil
}

// resolveDSN gets the database DSN from flag or config.
func resolveDSN(flagDSN string) (string, error) {
	if flagDSN != "" {
		return flagDSN, nil
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return "", cli.ConfigError("database configuration", err)
	}
	if dsn == "" {
		return "", cli.ConfigError("database URL is required (use --db or set in config)", nil)
	}
	return dsn, nil
}

// openDB connects through the pgx stdlib driver and checks the connection.
func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, cli.DBConnectError("connecting to database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, cli.DBConnectError("connecting to database", err)
	}
	return db, nil
}
