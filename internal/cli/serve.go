package cli

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/courseloom/amvc/internal/server"
	"github.com/spf13/cobra"
)

var (
	serveListen    string
	serveLogLevel  string
	serveLogFormat string
	serveTLSCert   string
	serveTLSKey    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the amvc HTTP server",
	Long: `Start the amvc HTTP API on the workspace's module database.

Bearer token authentication is required for all API endpoints; manage
tokens with "amvc tokens". The admin token is read from AMVC_ADMIN_TOKEN
and enables the /admin/ token endpoints over HTTP.

Examples:
  amvc serve
  amvc serve --listen 0.0.0.0:8580
  amvc serve --tls-cert server.crt --tls-key server.key`,
	Run: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveListen, "listen", envOrDefault("AMVC_LISTEN", ""), "Listen address (host:port), default from config")
	f.StringVar(&serveLogLevel, "log-level", envOrDefault("AMVC_LOG_LEVEL", ""), "Log level (debug|info|warn|error)")
	f.StringVar(&serveLogFormat, "log-format", envOrDefault("AMVC_LOG_FORMAT", ""), "Log format (json|text)")
	f.StringVar(&serveTLSCert, "tls-cert", os.Getenv("AMVC_TLS_CERT"), "TLS certificate file")
	f.StringVar(&serveTLSKey, "tls-key", os.Getenv("AMVC_TLS_KEY"), "TLS key file")
}

func runServe(_ *cobra.Command, _ []string) {
	c := initContextWithMigrations()
	defer c.Close()

	if serveListen == "" {
		serveListen = c.Config.ListenAddr
	}
	if serveLogLevel == "" {
		serveLogLevel = c.Config.LogLevel
	}
	if serveLogFormat == "" {
		serveLogFormat = c.Config.LogFormat
	}

	logger := newLogger(serveLogLevel, serveLogFormat)

	tokens, err := server.NewBoltTokenStore(c.Config.TokenDBPath())
	if err != nil {
		exitError("failed to open token store: %v", err)
	}
	defer tokens.Close()

	cfg := server.DefaultServerConfig()
	cfg.AdminToken = os.Getenv("AMVC_ADMIN_TOKEN")

	srv := &http.Server{
		Addr:              serveListen,
		Handler:           server.Handler(c.Store, tokens, cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return context.Background() },
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting amvc server", "listen", serveListen, "db", c.Config.DatabasePath())
		var err error
		if serveTLSCert != "" && serveTLSKey != "" {
			err = srv.ListenAndServeTLS(serveTLSCert, serveTLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

// newLogger builds a slog logger from level and format names.
func newLogger(levelName, format string) *slog.Logger {
	var level slog.Level
	switch levelName {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// envOrDefault returns the value of the environment variable key, or defaultVal if unset.
func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
