package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/healthassist/internal/config"
	"github.com/ehr/healthassist/internal/domain/identity"
	"github.com/ehr/healthassist/internal/domain/portal"
	"github.com/ehr/healthassist/internal/domain/records"
	"github.com/ehr/healthassist/internal/domain/symptom"
	"github.com/ehr/healthassist/internal/platform/auth"
	"github.com/ehr/healthassist/internal/platform/blobstore"
	"github.com/ehr/healthassist/internal/platform/middleware"
	"github.com/ehr/healthassist/internal/platform/session"
	"github.com/ehr/healthassist/internal/platform/telemetry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "healthassist-server",
		Short: "AI healthcare assistant",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(predictCmd())
	rootCmd.AddCommand(modelCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func predictCmd() *cobra.Command {
	var symptoms string
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict a condition from comma separated symptoms",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			clf, err := symptom.Load(cfg.ModelPath, cfg.VectorizerPath)
			if err != nil {
				return err
			}
			condition, err := clf.Predict(symptoms)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), condition)
			return nil
		},
	}
	cmd.Flags().StringVar(&symptoms, "symptoms", "", "comma separated symptoms, e.g. \"fever, cough\"")
	cmd.MarkFlagRequired("symptoms")
	return cmd
}

func modelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Classifier model utilities",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "inspect",
		Short: "Load the model artifacts and print what they contain",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			clf, err := symptom.Load(cfg.ModelPath, cfg.VectorizerPath)
			if err != nil {
				return err
			}
			info := clf.Describe()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Model:      %s\n", cfg.ModelPath)
			fmt.Fprintf(out, "Vectorizer: %s\n", cfg.VectorizerPath)
			fmt.Fprintf(out, "Features:   %d\n", info.Features)
			fmt.Fprintf(out, "Trees:      %d\n", info.Trees)
			fmt.Fprintf(out, "Classes:    %s\n", strings.Join(info.Classes, ", "))
			return nil
		},
	})
	return cmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV"))

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Classifier
	clf, err := symptom.Load(cfg.ModelPath, cfg.VectorizerPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load classifier")
	}
	info := clf.Describe()
	logger.Info().
		Int("features", info.Features).
		Int("trees", info.Trees).
		Strs("classes", info.Classes).
		Msg("classifier loaded")

	// Sessions
	key, randomKey, err := resolveSessionKey(cfg.SessionSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("session key error")
	}
	if randomKey {
		logger.Warn().Msg("SESSION_SECRET not set; using random key (sessions will not survive restart)")
	}

	ctx := context.Background()
	store, closeStore, err := newSessionStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create session store")
	}
	defer closeStore()
	logger.Info().Str("store", cfg.SessionStore).Msg("session store ready")

	e, err := newServer(cfg, logger, clf, store, key)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer wires the stores, services and portal into an echo instance.
func newServer(cfg *config.Config, logger zerolog.Logger, clf *symptom.Classifier, store session.Store, key []byte) (*echo.Echo, error) {
	renderer, err := portal.NewRenderer()
	if err != nil {
		return nil, err
	}

	users := identity.NewService(identity.NewUserRepoMemory())
	blobs := blobstore.NewInMemoryBlobStore(middleware.ParseLimit(cfg.MaxUploadSize))
	recordSvc := records.NewService(records.NewRecordRepoMemory(), users, blobs, auth.AllowAll{})

	sessions := session.NewManager(session.ManagerConfig{
		Store:   store,
		Key:     key,
		TTL:     cfg.SessionTTL,
		Secure:  !cfg.IsDev(),
		Logger:  logger,
		Skipper: auth.PublicSkipper,
	})

	metrics := telemetry.NewProvider()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = renderer
	e.HTTPErrorHandler = portal.HTTPErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.MetricsMiddleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.MaxUploadSize))
	e.Use(echomw.CSRFWithConfig(echomw.CSRFConfig{
		TokenLookup:    "form:_csrf",
		CookieName:     "_csrf",
		CookiePath:     "/",
		CookieHTTPOnly: true,
		CookieSecure:   !cfg.IsDev(),
		CookieSameSite: http.SameSiteLaxMode,
		Skipper:        auth.PublicSkipper,
	}))
	e.Use(sessions.Middleware())

	e.GET("/health", func(c echo.Context) error {
		info := clf.Describe()
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"classes": len(info.Classes),
			"trees":   info.Trees,
		})
	})
	e.GET("/metrics", metrics.PrometheusHandler())

	portal.NewHandler(portal.Config{
		Users:                 users,
		Records:               recordSvc,
		Classifier:            clf,
		Sessions:              sessions,
		Metrics:               metrics,
		Logger:                logger,
		MedicationSummarySize: cfg.MedicationSummarySize,
	}).RegisterRoutes(e)

	return e, nil
}

// newSessionStore returns the configured store and a function releasing it.
func newSessionStore(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		rs, err := session.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { rs.Close() }, nil
	case config.SessionStoreMemory, "":
		return session.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown session store %q", cfg.SessionStore)
}

// resolveSessionKey returns the session signing key from SESSION_SECRET
// (hex-encoded) or generates a random 32-byte key. The second return value is
// true when a random key was generated.
func resolveSessionKey(envValue string) ([]byte, bool, error) {
	if envValue != "" {
		decoded, err := hex.DecodeString(envValue)
		if err != nil {
			return nil, false, fmt.Errorf("invalid SESSION_SECRET hex value: %w", err)
		}
		return decoded, false, nil
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random session key: %w", err)
	}
	return key, true, nil
}
