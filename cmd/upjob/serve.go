package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Upreak/Upjobv1-sub001/internal/access"
	"github.com/Upreak/Upjobv1-sub001/internal/config"
	"github.com/Upreak/Upjobv1-sub001/internal/httpapi"
	appMiddleware "github.com/Upreak/Upjobv1-sub001/internal/middleware"
	"github.com/Upreak/Upjobv1-sub001/internal/notify"
	"github.com/Upreak/Upjobv1-sub001/internal/observability"
	"github.com/Upreak/Upjobv1-sub001/internal/pages"
	"github.com/Upreak/Upjobv1-sub001/internal/ratelimit"
	"github.com/Upreak/Upjobv1-sub001/internal/realtime"
	"github.com/Upreak/Upjobv1-sub001/internal/resume"
	"github.com/Upreak/Upjobv1-sub001/internal/scheduler"
	"github.com/Upreak/Upjobv1-sub001/internal/session"
	"github.com/Upreak/Upjobv1-sub001/internal/store"
	"github.com/Upreak/Upjobv1-sub001/internal/validation"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const serviceName = "upjob"

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

// loadConfig reads the config and installs the process logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	return cfg, nil
}

// loadRules loads the access table and refuses to start when any handler
// group would be mounted without a rule in front of it.
func loadRules(path string) (*access.Table, error) {
	table, err := access.LoadRules(path)
	if err != nil {
		return nil, err
	}
	protected := append(httpapi.ProtectedPrefixes(), pages.Prefixes()...)
	if err := table.MustCover(protected...); err != nil {
		return nil, err
	}
	return table, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	table, err := loadRules(cfg.RulesPath)
	if err != nil {
		return err
	}
	slog.Info("access rules loaded", "path", cfg.RulesPath, "rules", len(table.Rules()))

	if cfg.JWT.PublicKeyPath == "" {
		return errors.New("JWT_PUBLIC_KEY_PATH not set")
	}
	pubKey, err := session.LoadRSAPublicKey(cfg.JWT.PublicKeyPath)
	if err != nil {
		return fmt.Errorf("failed to load JWT public key: %w", err)
	}

	shutdownTelemetry, promHandler, tracer, err := observability.Setup(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("failed to set up observability: %w", err)
	}
	defer shutdownTelemetry()
	gateRecorder, err := observability.NewGateRecorder("/api")
	if err != nil {
		return err
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("connected to redis", "addr", cfg.Redis.Addr)

	resolver := session.NewJWTResolver(pubKey, session.Options{
		Issuer:      cfg.JWT.Issuer,
		Revocations: session.NewRedisRevocations(redisClient),
		Leeway:      cfg.JWT.Leeway,
	})

	db, err := store.OpenPostgres(cfg.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("db connect failed: %w", err)
	}
	repo := store.New(db)
	if err := repo.Migrate(ctx); err != nil {
		return fmt.Errorf("db init failed: %w", err)
	}

	validator, err := validation.New()
	if err != nil {
		return err
	}

	var mailer notify.Notifier = notify.Nop{}
	if cfg.SMTP.Enabled() {
		mailer = notify.NewEmailNotifier(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		slog.Info("status emails enabled", "smtp_host", cfg.SMTP.Host)
	}
	notifier := notify.NewAsync(mailer, 2, 256, 30*time.Second)
	defer notifier.Close()

	var resumes resume.Store
	if cfg.S3.Bucket != "" {
		s3Store, err := resume.NewS3Store(resume.S3Options{
			Bucket:   cfg.S3.Bucket,
			Region:   cfg.S3.Region,
			Endpoint: cfg.S3.Endpoint,
			TTL:      cfg.S3.PresignTTL,
		})
		if err != nil {
			return err
		}
		resumes = s3Store
	}

	api := httpapi.NewServer(repo, table, validator, httpapi.Options{
		Notifier: notifier,
		Resumes:  resumes,
		Hub:      realtime.NewHub(cfg.AllowedOrigins),
		StatsTTL: cfg.StatsCacheTTL,
	})
	pageHandler, err := pages.New(cfg.SigninURL)
	if err != nil {
		return err
	}

	var limiter *ratelimit.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(redisClient, "rl:api", ratelimit.LimiterConfig{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst})
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(observability.MetricsAndTracingMiddleware(tracer, serviceName))
	r.Use(appMiddleware.CorrelationID)
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", appMiddleware.CorrelationHeader},
			ExposedHeaders:   []string{appMiddleware.CorrelationHeader, "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(appMiddleware.Gate(table, resolver, appMiddleware.GateOptions{
		APIPrefix:  "/api",
		OnDecision: gateRecorder.Record,
	}))

	r.Handle("/metrics", promHandler)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware(ratelimit.KeyByUserOrIP))
		}
		api.RegisterRoutes(r)
	})
	pageHandler.RegisterRoutes(r)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("route not found", "method", r.Method, "path", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "not found", "code": http.StatusNotFound})
	})

	jobs, err := scheduler.New(repo, cfg.CloseJobsCron)
	if err != nil {
		return err
	}
	jobs.Start()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("upjob starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stopCh:
		slog.Info("shutdown signal received")
	case err := <-errCh:
		slog.Error("server listen error", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	jobs.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
		return err
	}
	slog.Info("server shut down gracefully")
	return nil
}
