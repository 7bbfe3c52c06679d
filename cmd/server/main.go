// Package main provides the back-office identity server entry point.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/northbeam/backoffice/server/internal/api"
	"github.com/northbeam/backoffice/server/internal/auth"
	"github.com/northbeam/backoffice/server/internal/config"
	"github.com/northbeam/backoffice/server/internal/crypto"
	"github.com/northbeam/backoffice/server/internal/scim"
	"github.com/northbeam/backoffice/server/internal/sso"
	"github.com/northbeam/backoffice/server/internal/store"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cfg := config.FromEnv()

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting backoffice server", "version", version, "listen_addr", cfg.ListenAddr, "base_url", cfg.BaseURL)

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required")
		os.Exit(1)
	}
	if cfg.StateSecret == "" {
		logger.Error("SSO_STATE_SECRET is required")
		os.Exit(1)
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// Initialize store with PostgreSQL
	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("database initialized", "url", maskDatabaseURL(cfg.DatabaseURL))

	// Client secrets at rest
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		logger.Error("failed to initialize encryptor", "error", err)
		os.Exit(1)
	}
	if encryptor == nil {
		logger.Warn("ENCRYPTION_KEY is not set - client secrets will be stored in plaintext")
	}

	// Login-flow state cookies
	codec, err := sso.NewStateCodec(cfg.StateSecret)
	if err != nil {
		logger.Error("failed to initialize state codec", "error", err)
		os.Exit(1)
	}

	// Initialize JWT manager
	jwtManager := auth.NewJWTManager(auth.JWTConfig{
		Secret: []byte(cfg.JWTSecret),
		Expiry: cfg.SessionTTL,
	})

	// Initialize authorizer
	authorizer, err := auth.NewAuthorizer()
	if err != nil {
		logger.Error("failed to initialize authorizer", "error", err)
		os.Exit(1)
	}

	// Identity providers
	providers := sso.NewRegistry()
	providers.Register(sso.ProtocolOIDC, sso.NewOIDCProvider())

	linker := sso.NewLinker(st, logger, sso.WithGlobalGroupMapping(cfg.GlobalGroupMapping))
	emitter := sso.NewEmitter(st.Queries(), logger)
	ssoService := sso.NewService(st, providers, codec, encryptor, linker, jwtManager, emitter, cfg.SessionTTL, logger)

	// SCIM provisioning
	tokenService := scim.NewTokenService(st)
	scimHandler := scim.NewHandler(st, tokenService, cfg.ScimRateLimit, logger)

	apiServer := api.NewServer(st, ssoService, providers, tokenService, jwtManager, authorizer, encryptor, cfg.BaseURL, logger)

	mux := http.NewServeMux()
	mux.Handle("/scim/v2/", scimHandler)
	mux.Handle("/", apiServer.Routes())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h2c.NewHandler(securityHeadersMiddleware(mux), &http2.Server{}),
	}

	// Start server
	go func() {
		logger.Info("backoffice server listening", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("backoffice server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// securityHeadersMiddleware adds standard security headers to all responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-XSS-Protection", "0")
		w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// maskDatabaseURL masks the password in a database URL for logging.
func maskDatabaseURL(url string) string {
	for i := 0; i < len(url); i++ {
		if url[i] == ':' && i > 10 {
			for j := i + 1; j < len(url); j++ {
				if url[j] == '@' {
					return url[:i+1] + "***" + url[j:]
				}
			}
		}
	}
	return url
}
