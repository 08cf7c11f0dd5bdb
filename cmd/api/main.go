package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"dinehub.org/internal/audit"
	"dinehub.org/internal/auth"
	"dinehub.org/internal/cache"
	"dinehub.org/internal/config"
	"dinehub.org/internal/httpapi"
	"dinehub.org/internal/ids"
	"dinehub.org/internal/migrate"
	"dinehub.org/internal/obs"
	"dinehub.org/internal/store/memory"
	"dinehub.org/internal/store/pg"
	"dinehub.org/internal/sweeper"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// backend is what both store implementations provide.
type backend interface {
	auth.RoleRepository
	auth.AssignmentRepository
	auth.TokenRepository
	auth.UserDirectory
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("auth service stopped")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probes := make(map[string]httpapi.ReadyProbe)

	repo, closeRepo, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()
	probes["db"] = repo

	var revocations auth.RevocationCache
	if cfg.RedisURL != "" {
		client, rc, err := cache.Connect(ctx, cfg.RedisURL, 5*time.Second)
		if err != nil {
			return err
		}
		defer client.Close()
		revocations = rc
		probes["redis"] = rc
	} else {
		revocations = cache.NewMemory(time.Minute)
	}

	sinks := []audit.Option{audit.WithSink(audit.NewLogSink(logger.With().Str("component", "audit").Logger()))}
	if len(cfg.KafkaBrokers) > 0 {
		w := audit.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
		defer w.Close()
		sinks = append(sinks, audit.WithSink(audit.NewKafkaSink(w)))
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaAuditTopic).Msg("kafka audit sink enabled")
	}
	recorder := audit.NewRecorder(sinks...)

	catalog := auth.DefaultCatalog()
	roles := auth.NewRoleStore(repo, catalog,
		auth.WithStrictPermissions(cfg.Auth.StrictPermissions),
		auth.WithRoleAudit(recorder),
		auth.WithRoleLogger(logger),
	)
	assignments := auth.NewAssignmentStore(repo, repo,
		auth.WithAssignmentAudit(recorder),
		auth.WithAssignmentLogger(logger),
	)
	resolver := auth.NewResolver(catalog, repo, assignments)

	signer, err := newSigner(cfg)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenService(signer, repo, resolver, repo,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAudience(cfg.Auth.Audience),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
		auth.WithRevocationCache(revocations),
		auth.WithAudit(recorder),
		auth.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer tokens.Drain()

	if cfg.InMemory() {
		if err := bootstrap(ctx, cfg.Bootstrap, repo.(*memory.Store), roles, assignments, logger); err != nil {
			return err
		}
	}

	api, err := httpapi.New(httpapi.Deps{
		Tokens:      tokens,
		Roles:       roles,
		Assignments: assignments,
		Resolver:    resolver,
		Users:       repo,
		Probes:      probes,
		Logger:      logger,
		Version:     version,
		CORSOrigins: cfg.CORSOrigins,
		RateBurst:   cfg.RateLimitBurst,
		RateRPS:     cfg.RateLimitRPS,
	})
	if err != nil {
		return err
	}
	defer api.Close()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := httpapi.NewGRPCServer(tokens, probes, logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	runner := sweeper.New(assignments, tokens, sweeper.Config{
		Interval:     cfg.Sweep.Interval,
		ExpiredGrace: cfg.Sweep.ExpiredGrace,
		RevokedDays:  cfg.Sweep.RevokedDays,
	}, sweeper.WithLogger(logger))

	errCh := make(chan error, 3)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Info().Str("addr", cfg.GRPCAddr).Msg("grpc server starting")
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("sweeper: %w", err)
		}
	}()
	go watchReadiness(ctx, grpcSrv, 15*time.Second)

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err = <-errCh:
		logger.Error().Err(err).Msg("component failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn().Err(serr).Msg("http shutdown")
	}
	grpcSrv.Shutdown()
	logger.Info().Msg("stopped")
	return err
}

func openBackend(ctx context.Context, cfg config.Config, logger zerolog.Logger) (backend, func(), error) {
	if cfg.InMemory() {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory store")
		return memory.New(), func() {}, nil
	}
	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	if cfg.DBAutoMigrate {
		mgr := migrate.NewManager(store.DB(), pg.Migrations, pg.MigrationsDir, migrate.WithLogger(logger))
		if err := mgr.Up(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
	}
	return store, func() { _ = store.Close() }, nil
}

// watchReadiness keeps the gRPC health status in line with the backing services.
func watchReadiness(ctx context.Context, srv *httpapi.GRPCServer, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_ = srv.CheckReadiness(pctx)
		cancel()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func newSigner(cfg config.Config) (*auth.Signer, error) {
	if cfg.UseRS256() {
		return auth.NewRS256Signer(cfg.Auth.RSAPrivateKey, cfg.Auth.RSAPublicKey, cfg.Auth.KeyID)
	}
	return auth.NewHS256Signer(cfg.Auth.SigningKey)
}

// bootstrap seeds system roles and an owner account so a fresh in-memory process can be logged into.
func bootstrap(ctx context.Context, bc config.BootstrapConfig, users *memory.Store, roles *auth.RoleStore, assignments *auth.AssignmentStore, logger zerolog.Logger) error {
	if bc.Tenant == "" || bc.Email == "" || bc.Password == "" {
		return nil
	}
	hash, err := auth.HashPassword(bc.Password)
	if err != nil {
		return err
	}
	user := auth.User{
		ID:           ids.New(),
		TenantID:     bc.Tenant,
		Email:        bc.Email,
		PasswordHash: hash,
		Status:       auth.UserStatusActive,
		CreatedAt:    time.Now().UTC(),
	}
	users.PutUser(user)

	seeded, err := roles.SeedSystemRoles(ctx, bc.Tenant)
	if err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}
	for _, r := range seeded {
		if r.Slug != auth.SystemRoleOwner {
			continue
		}
		if _, err := assignments.Assign(ctx, bc.Tenant, user.ID, r.ID, auth.AssignOptions{Notes: "bootstrap"}); err != nil {
			return fmt.Errorf("assign owner: %w", err)
		}
	}
	logger.Info().Str("tenant_id", bc.Tenant).Str("user_id", user.ID).Msg("bootstrap owner created")
	return nil
}
