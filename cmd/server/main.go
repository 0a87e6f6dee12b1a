// Copyright 2026 The FirmGate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/firmgate/firmgate/internal/audit"
	"github.com/firmgate/firmgate/internal/authz"
	"github.com/firmgate/firmgate/internal/config"
	"github.com/firmgate/firmgate/internal/guard"
	"github.com/firmgate/firmgate/internal/identity"
	"github.com/firmgate/firmgate/internal/leak"
	"github.com/firmgate/firmgate/internal/observability/logger"
	"github.com/firmgate/firmgate/internal/observability/metrics"
	"github.com/firmgate/firmgate/internal/observability/tracing"
	"github.com/firmgate/firmgate/internal/scope"
	"github.com/firmgate/firmgate/internal/store/postgres"
	transportHTTP "github.com/firmgate/firmgate/internal/transport/http"
	"github.com/firmgate/firmgate/internal/verify"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting firmgate server")

	// Phase: CLI Commands
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if len(os.Args) > 1 && os.Args[1] == "bootstrap" {
		if err := runBootstrap(cfg); err != nil {
			fmt.Printf("Bootstrap failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Initialize context
	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter and the tenant isolation counters
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}
	counters, err := metrics.NewIsolationCounters(meter)
	if err != nil {
		slog.Error("failed to register isolation counters", logger.Error(err))
	}

	// Initialize database
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Initialize audit trail and scope engine
	auditLogger := audit.NewRecorder(postgres.NewAuditStore(db))
	engine := scope.NewEngine(scope.DefaultRules(), auditLogger)

	// Scope rules are configuration; a gap here means some entity type
	// would silently fail closed on every request. The required list is
	// independent of the registry, so a dropped rule cannot hide itself.
	// Refuse to start.
	if err := engine.SelfCheck(scope.RequiredEntityTypes()...); err != nil {
		slog.Error("scope rule self-check failed", logger.Error(err))
		os.Exit(1)
	}

	// Initialize repositories
	principalRepo := postgres.NewPrincipalRepository(db, engine)
	firmRepo := postgres.NewFirmRepository(db, engine)
	projectRepo := postgres.NewProjectRepository(db, engine)
	workItemRepo := postgres.NewWorkItemRepository(db, engine)
	documentRepo := postgres.NewDocumentRepository(db, engine)

	// Initialize authorization
	resolver, err := authz.NewResolver()
	if err != nil {
		slog.Error("role configuration is broken", logger.Error(err))
		os.Exit(1)
	}

	guardReader := postgres.NewGuardReader(db)
	checker := guard.NewChecker(guardReader)
	validator := guard.NewValidator(checker, guardReader)

	// Initialize services
	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
	tokenIssuer := identity.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	identityService := identity.NewService(
		principalRepo,
		passwordHasher,
		tokenIssuer,
		resolver,
		auditLogger,
		cfg.Security.LockoutMaxAttempts,
		cfg.Security.LockoutDuration,
	)

	verifier := verify.NewRunner(engine, postgres.NewVerifyStore(db), auditLogger, scope.RequiredEntityTypes())

	// The leak detector is a development aid; it never runs in production.
	var detector *leak.Detector
	if !cfg.Production() && cfg.LeakDetector.Enabled {
		detector = leak.NewDetector(auditLogger)
		slog.Info("response leak detector enabled")
	}

	// Rate Limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(transportHTTP.Deps{
		IdentityService: identityService,
		Resolver:        resolver,
		Engine:          engine,
		Checker:         checker,
		Validator:       validator,
		Principals:      principalRepo,
		Firms:           firmRepo,
		Projects:        projectRepo,
		WorkItems:       workItemRepo,
		Documents:       documentRepo,
		AuditLogger:     auditLogger,
		AuditReader:     postgres.NewAuditStore(db),
		Verifier:        verifier,
		Counters:        counters,
	})

	// Create router
	router := transportHTTP.NewRouter(handler, rateLimiter, detector)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}

// runBootstrap provisions the initial superadmin from the environment. It
// is idempotent: an already-provisioned email is left untouched.
func runBootstrap(cfg *config.Config) error {
	email := os.Getenv("BOOTSTRAP_SUPERADMIN_EMAIL")
	password := os.Getenv("BOOTSTRAP_SUPERADMIN_PASSWORD")
	if email == "" || password == "" {
		return fmt.Errorf("BOOTSTRAP_SUPERADMIN_EMAIL and BOOTSTRAP_SUPERADMIN_PASSWORD are required")
	}

	ctx := context.Background()
	db, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	auditLogger := audit.NewRecorder(postgres.NewAuditStore(db))
	engine := scope.NewEngine(scope.DefaultRules(), auditLogger)
	principalRepo := postgres.NewPrincipalRepository(db, engine)

	resolver, err := authz.NewResolver()
	if err != nil {
		return err
	}

	passwordHasher := identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
	tokenIssuer := identity.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	identityService := identity.NewService(
		principalRepo,
		passwordHasher,
		tokenIssuer,
		resolver,
		auditLogger,
		cfg.Security.LockoutMaxAttempts,
		cfg.Security.LockoutDuration,
	)

	p, err := identityService.Provision(ctx, email, password, nil, authz.RoleSuperadmin)
	if errors.Is(err, identity.ErrPrincipalAlreadyExists) {
		fmt.Printf("Superadmin %s already provisioned.\n", email)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("Superadmin %s provisioned (%s).\n", email, p.ID)
	return nil
}

func connect(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	return postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
}
