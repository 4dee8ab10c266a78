package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"otp-signin/captcha"
	"otp-signin/config"
	"otp-signin/delivery"
	"otp-signin/flowtoken"
	"otp-signin/kratos"
	"otp-signin/locale"
	"otp-signin/metrics"
	"otp-signin/signin"
	"otp-signin/tenant"
)

// App holds the application's dependencies and state, like the router and the sign-in flow.
type App struct {
	Router http.Handler

	cfg        *config.Config
	logger     *slog.Logger
	flow       *signin.Flow
	tokens     *flowtoken.Codec
	translator *locale.Translator
	tenants    *tenant.Resolver
	sessions   SessionVerifier
	metrics    *metrics.Metrics
	redis      redis.UniversalClient
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	ErrorType string         `json:"type"`
	Attribute map[string]any `json:"attribute"`
}

// New creates a new App instance, configures dependencies, and sets up the router.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Centralize template parsing at startup for efficiency.
	delivery.ParseAllTemplates()

	a := &App{cfg: cfg, logger: logger}

	store, err := a.configureStore(ctx)
	if err != nil {
		return nil, err
	}

	keys, err := configureKeys(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.tokens = flowtoken.NewCodec(keys, cfg.FlowTTL)

	oryClient := kratos.NewClient(cfg.KratosPublicURL)
	a.sessions = kratos.NewSessions(oryClient)

	var verifier captcha.Verifier = captcha.Disabled{}
	if cfg.TurnstileSecretKey != "" {
		verifier = captcha.NewTurnstile(cfg.TurnstileSecretKey, cfg.TurnstileVerifyURL)
	} else {
		logger.Warn("captcha verification disabled: TURNSTILE_SECRET_KEY is empty")
	}
	actions := captcha.NewGuard(verifier, kratos.NewAuthenticator(oryClient, logger), logger)

	a.metrics = metrics.New()
	a.flow = signin.NewFlow(store, actions, signin.Options{
		PendingTimeout: cfg.PendingTimeout,
		Observer:       a.metrics,
		Logger:         logger,
	})

	if a.translator, err = locale.New(cfg.DefaultLanguage); err != nil {
		return nil, err
	}
	a.tenants = tenant.NewResolver(cfg.CoachingHostList())

	a.Router = delivery.NewRouter(a)
	return a, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Router,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("server listening", "addr", a.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if a.redis != nil {
		_ = a.redis.Close()
	}
	return err
}

func (a *App) configureStore(ctx context.Context) (signin.Store, error) {
	if a.cfg.FlowStore != "redis" {
		return signin.NewMemoryStore(a.cfg.FlowTTL), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	a.redis = rdb
	return signin.NewRedisStore(rdb, a.cfg.RedisPrefix, a.cfg.FlowTTL), nil
}

// configureKeys loads the JWK set that signs flow cookies. A URL wins over a file.
func configureKeys(ctx context.Context, cfg *config.Config) (flowtoken.KeySource, error) {
	if cfg.FlowJWKSURL != "" {
		return flowtoken.NewRemoteKeys(ctx, cfg.FlowJWKSURL, 5*time.Minute)
	}
	return flowtoken.ReadKeyFile(cfg.FlowJWKSFile)
}

func (a *App) SignInFlow() *signin.Flow { return a.flow }

func (a *App) FlowTokens() *flowtoken.Codec { return a.tokens }

func (a *App) Translator() *locale.Translator { return a.translator }

func (a *App) TenantMiddleware(next http.Handler) http.Handler {
	return a.tenants.Middleware(next)
}

func (a *App) MetricsHandler() http.Handler { return a.metrics.Handler() }

func (a *App) Logger() *slog.Logger { return a.logger }

// Settings exposes the rendering-relevant configuration.
func (a *App) Settings() delivery.Settings {
	return delivery.Settings{
		TurnstileSiteKey: a.cfg.TurnstileSiteKey,
		CookieSecure:     a.cfg.CookieSecure,
		FlowTTL:          a.cfg.FlowTTL,
		AfterLoginPath:   a.cfg.AfterLoginPath,
	}
}
