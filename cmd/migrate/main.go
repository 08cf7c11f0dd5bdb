package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"dinehub.org/internal/auth"
	"dinehub.org/internal/migrate"
	"dinehub.org/internal/obs"
	"dinehub.org/internal/store/pg"
)

func main() {
	_ = godotenv.Load()
	var (
		dsn    = flag.String("dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN")
		table  = flag.String("table", "goose_db_version", "migration history table")
		tenant = flag.String("tenant", "", "tenant to seed system roles into (seed-roles)")
	)
	flag.Parse()
	logger := obs.NewLogger(os.Getenv("LOG_LEVEL"), "console")

	if *dsn == "" {
		logger.Fatal().Msg("missing DSN: provide via -dsn or DATABASE_URL")
	}
	if flag.NArg() == 0 {
		logger.Fatal().Msg("usage: migrate [up|down|status|seed-roles -tenant ID]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), pg.Migrations, pg.MigrationsDir,
		migrate.WithMigrationsTable(*table),
		migrate.WithLogger(logger),
	)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		err = printStatus(ctx, mgr)
	case "seed-roles":
		err = seedRoles(ctx, store, *tenant, logger)
	default:
		logger.Fatal().Str("command", cmd).Msg("unknown command")
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", cmd).Msg("migrate failed")
	}
}

func printStatus(ctx context.Context, mgr *migrate.Manager) error {
	rows, err := mgr.Status(ctx)
	if err != nil {
		return err
	}
	for _, r := range rows {
		state := "pending"
		if r.Applied {
			state = "applied"
		}
		fmt.Printf("%05d  %-8s %s\n", r.Version, state, r.Name)
	}
	return nil
}

func seedRoles(ctx context.Context, store *pg.Store, tenant string, logger zerolog.Logger) error {
	if tenant == "" {
		return errors.New("seed-roles: -tenant is required")
	}
	roles := auth.NewRoleStore(store, auth.DefaultCatalog(), auth.WithRoleLogger(logger))
	seeded, err := roles.SeedSystemRoles(ctx, tenant)
	if err != nil {
		return err
	}
	for _, r := range seeded {
		logger.Info().Str("tenant_id", tenant).Str("slug", r.Slug).Str("role_id", r.ID).Msg("system role created")
	}
	return nil
}
