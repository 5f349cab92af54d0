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

	"github.com/datagate-labs/datagate-go/internal/platform/auditlog"
	"github.com/datagate-labs/datagate-go/internal/platform/auth"
	"github.com/datagate-labs/datagate-go/internal/platform/env"
	"github.com/datagate-labs/datagate-go/internal/platform/httpserver"
	"github.com/datagate-labs/datagate-go/internal/platform/objectstore"
	platformpg "github.com/datagate-labs/datagate-go/internal/platform/postgres"
	"github.com/datagate-labs/datagate-go/internal/platform/policy"
	repopg "github.com/datagate-labs/datagate-go/internal/repo/postgres"
	"github.com/datagate-labs/datagate-go/internal/service/doi"
	"github.com/datagate-labs/datagate-go/internal/tenancy"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("REGISTRY_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("REGISTRY_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := platformpg.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := platformpg.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBuckets(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}

	registrarCfg, err := doi.RegistrarConfigFromEnv()
	if err != nil {
		logger.Error("invalid doi registrar config", "error", err)
		os.Exit(2)
	}
	registrar, err := doi.NewRegistrarClient(registrarCfg)
	if err != nil {
		logger.Error("doi registrar client init failed", "error", err)
		os.Exit(2)
	}

	users, err := buildUserProvider()
	if err != nil {
		logger.Error("invalid user directory config", "error", err)
		os.Exit(2)
	}
	guard := tenancy.NewGuard(users)

	store := repopg.NewStore(db)
	api := newRegistryAPI(logger, store, guard, registrar)
	api.db = db
	api.objects = storeClient
	api.objectCfg = storeCfg

	if policyFile := env.String("DATAGATE_POLICY_FILE", ""); policyFile != "" {
		raw, err := os.ReadFile(policyFile)
		if err != nil {
			logger.Error("policy file unreadable", "path", policyFile, "error", err)
			os.Exit(2)
		}
		spec, err := policy.ParseSpec(raw)
		if err != nil {
			logger.Error("invalid policy spec", "path", policyFile, "error", err)
			os.Exit(2)
		}
		api.policy = &spec
		logger.Info("policy spec loaded", "path", policyFile, "rules", len(spec.Rules))
	}

	publicMux := http.NewServeMux()
	api.register(publicMux)

	var authenticator auth.Authenticator
	switch authCfg.Mode {
	case auth.ModeOIDC:
		oidcService, err := auth.NewOIDCService(ctx, authCfg)
		if err != nil {
			logger.Error("oidc init failed", "error", err)
			os.Exit(1)
		}
		login, err := oidcService.LoginHandler()
		if err != nil {
			logger.Error("oidc login handler init failed", "error", err)
			os.Exit(2)
		}
		callback, err := oidcService.CallbackHandler()
		if err != nil {
			logger.Error("oidc callback handler init failed", "error", err)
			os.Exit(2)
		}
		publicMux.HandleFunc("GET /auth/login", login)
		publicMux.HandleFunc("GET /auth/callback", callback)
		publicMux.HandleFunc("GET /auth/logout", oidcService.LogoutHandler())
		publicMux.HandleFunc("GET /auth/session", oidcService.SessionHandler())
		authenticator = oidcService
	default:
		authenticator = auth.NewDevAuthenticator(authCfg)
	}

	internalAuthSecret := env.String("DATAGATE_INTERNAL_AUTH_SECRET", "")
	headersAuth, err := auth.NewInternalHeadersAuthenticator(internalAuthSecret)
	if err != nil {
		logger.Error("invalid internal auth config", "error", err)
		os.Exit(2)
	}
	internalMux := http.NewServeMux()
	api.registerInternal(internalMux)

	authorizer := auth.MethodRoleAuthorizer()
	auditDeny := func(ctx context.Context, event auth.DenyEvent) error {
		auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
		defer cancel()
		return auditlog.InsertAuthDeny(auditCtx, db, "registry", event)
	}

	publicHandler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		Authorize:     authorizer,
		Audit:         auditDeny,
		SkipPrefixes:  []string{"/auth/"},
	}.Wrap(publicMux)

	internalHandler := auth.Middleware{
		Logger:        logger,
		Authenticator: headersAuth,
		Authorize:     authorizer,
		Audit:         auditDeny,
	}.Wrap(internalMux)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("registry"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"registry",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return objectstore.CheckBuckets(checkCtx, storeClient, storeCfg)
				},
			},
		),
	)
	mux.Handle("/internal/", internalHandler)
	mux.Handle("/", publicHandler)

	cfg := httpserver.Config{
		Service:         "registry",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "registry", mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// buildUserProvider wires the tenancy guard to the user directory when one
// is configured, and to the caller's token claims otherwise.
func buildUserProvider() (tenancy.UserProvider, error) {
	if env.String("USER_DIRECTORY_URL", "") == "" {
		return claimsProvider{}, nil
	}
	cfg, err := tenancy.DirectoryConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return tenancy.NewDirectoryClient(cfg)
}

// claimsProvider surfaces the authenticated identity's tenancy claims as the
// membership record.
type claimsProvider struct{}

func (claimsProvider) FetchUser(ctx context.Context, id string) (tenancy.User, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return tenancy.User{}, fmt.Errorf("no authenticated identity for user %s", id)
	}
	return tenancy.User{
		ID:        identity.Subject,
		Email:     identity.Email,
		Tenancies: identity.Tenancies,
	}, nil
}
