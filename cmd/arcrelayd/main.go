// arcrelayd is the ArcRelay proxy server. It terminates inbound GIS client
// requests, matches them against a configured resource table, injects
// per-resource credentials, applies sliding-window rate limits, and forwards
// to the upstream service.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arcrelay/arcrelay/internal/adminauth"
	"github.com/arcrelay/arcrelay/internal/broker"
	"github.com/arcrelay/arcrelay/internal/config"
	"github.com/arcrelay/arcrelay/internal/httpapi"
	"github.com/arcrelay/arcrelay/internal/meterstore"
	"github.com/arcrelay/arcrelay/internal/proxy"
	"github.com/arcrelay/arcrelay/internal/ratelimit"
	"github.com/arcrelay/arcrelay/internal/resource"
	"github.com/arcrelay/arcrelay/internal/staticassets"
	"github.com/arcrelay/arcrelay/internal/tlsconfig"
	"github.com/arcrelay/arcrelay/internal/upstream"
)

// validateEnv checks that critical environment variables have valid values
// before anything is wired against them.
func validateEnv() []string {
	var errs []string

	if addr := os.Getenv("ARCRELAY_LISTEN_ADDR"); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Sprintf("ARCRELAY_LISTEN_ADDR=%q: must be host:port (%v)", addr, err))
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		if _, err := net.LookupPort("tcp", port); err != nil {
			errs = append(errs, fmt.Sprintf("PORT=%q: must be a valid port number", port))
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		if _, err := url.Parse(dbURL); err != nil {
			errs = append(errs, fmt.Sprintf("DATABASE_URL: invalid URL (%v)", err))
		}
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		if _, _, err := net.SplitHostPort(v); err != nil {
			if _, err := url.Parse("http://" + v); err != nil {
				errs = append(errs, fmt.Sprintf("S3_ENDPOINT=%q: must be a valid endpoint", v))
			}
		}
	}
	if v := os.Getenv("REFRESH_CRON"); v != "" {
		if _, err := parseCronProbe(v); err != nil {
			errs = append(errs, fmt.Sprintf("REFRESH_CRON=%q: %v", v, err))
		}
	}

	return errs
}

// parseCronProbe is a light sanity check on REFRESH_CRON — full validation
// happens inside meterstore.NewRefresher/Start, this just catches an empty
// field count early so the error message references the right env var.
func parseCronProbe(spec string) (string, error) {
	if strings.HasPrefix(spec, "@") {
		return spec, nil
	}
	if len(strings.Fields(spec)) != 5 {
		return "", fmt.Errorf("must be a 5-field cron expression or an @every directive")
	}
	return spec, nil
}

// warnDefaultCredentials logs a warning when Postgres credentials embedded
// in DATABASE_URL appear to be well-known defaults.
func warnDefaultCredentials() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return
	}
	u, err := url.Parse(dbURL)
	if err != nil || u.User == nil {
		return
	}
	user := u.User.Username()
	pass, _ := u.User.Password()
	if (user == "arcrelay" && pass == "arcrelay") || (user == "postgres" && pass == "postgres") {
		slog.Warn("database credentials appear to be defaults — change these for production deployments", "user", user)
	}
}

func main() {
	// Built-in healthcheck for scratch containers (no wget/curl available).
	// Usage: /arcrelayd healthcheck
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		resp, err := http.Get("http://localhost:8080/health")
		if err != nil {
			os.Exit(1)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	baseHandler := slog.NewJSONHandler(os.Stdout, nil)
	logger := slog.New(httpapi.NewContextHandler(baseHandler))
	slog.SetDefault(logger)

	if errs := validateEnv(); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("invalid environment variable", "error", e)
		}
		os.Exit(1)
	}

	configPath := config.ResolvePath()
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	if configPath != "" {
		slog.Info("config loaded", "path", configPath, "resources", len(cfg.Resources), "referrers", len(cfg.Referrers))
	} else {
		slog.Warn("no config file found, running with zero resources (every request falls through to synthetic pass-through or 404)")
	}

	resources, referrers, err := cfg.Build()
	if err != nil {
		slog.Error("failed to build resource table from config", "error", err)
		os.Exit(1)
	}
	store := resource.NewStore(resources, referrers)

	srv := httpapi.NewServer()
	srv.Store = store
	srv.ListenPrefixes = cfg.ListenPrefixes
	srv.PingPath = cfg.PingPath
	srv.StatusPath = cfg.StatusPath
	srv.MustMatch = cfg.MustMatch
	srv.CORSOrigins = cfg.CORSOrigins

	// The upstream client is shared by the Token Broker and Forwarder — one
	// HTTP/2-aware transport for every configured resource's upstream, with
	// optional mTLS material for upstreams that require a client cert.
	httpClient, err := upstream.NewClient(60*time.Second, upstream.TLSConfigFromEnv())
	if err != nil {
		slog.Error("failed to build upstream HTTP client", "error", err)
		os.Exit(1)
	}

	// Wire the durable meter store when DATABASE_URL is set; otherwise fall
	// back to an in-memory one so rate-capped resources still work on a
	// single replica without Postgres.
	var (
		pool      *pgxpool.Pool
		closePool func()
	)
	var rateStore ratelimit.MeterStore
	var counterStore httpapi.CounterStore
	var refresherBacking interface {
		EnsureRow(ctx context.Context, resourceURL, referrerKey string) error
		DropAll(ctx context.Context) error
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		ctx := context.Background()

		var poolErr error
		pool, poolErr = meterstore.NewPool(ctx, dbURL)
		if poolErr != nil {
			slog.Error("failed to connect to database", "error", poolErr)
			os.Exit(1)
		}
		closePool = func() { pool.Close() }

		if err := meterstore.Migrate(ctx, pool); err != nil {
			slog.Error("failed to run meterstore migrations", "error", err)
			os.Exit(1)
		}

		pg := meterstore.NewPostgresStore(pool)
		rateStore = pg
		counterStore = pg
		refresherBacking = pg
		srv.DBHealth = meterstore.NewHealthChecker(pool)
		slog.Info("postgres meter store initialized")
	} else {
		slog.Warn("DATABASE_URL not set, running with an in-memory meter store (not safe for multi-replica deployments)")
		mem := meterstore.NewMemStore()
		rateStore = mem
		counterStore = mem
		refresherBacking = mem
	}
	srv.MeterCounters = counterStore
	srv.Limiter = ratelimit.New(rateStore)

	refresher := meterstore.NewRefresher(refresherBacking, store.Resources, store.Referrers, os.Getenv("REFRESH_CRON"))
	ctx := context.Background()
	if err := refresher.Start(ctx); err != nil {
		slog.Error("failed to start meter row refresher", "error", err)
		os.Exit(1)
	}
	srv.Refresher = refresher
	slog.Info("meter row refresher started")

	br := broker.New(httpClient)
	bodyCap := proxy.DefaultBodyCap
	srv.Forwarder = proxy.New(httpClient, br, bodyCap)

	// Wire static-asset fallback: S3-compatible if S3_ENDPOINT is set,
	// else a local directory if staticAssetsDir is configured, else none.
	if s3Endpoint := os.Getenv("S3_ENDPOINT"); s3Endpoint != "" {
		s3Bucket := os.Getenv("S3_BUCKET")
		if s3Bucket == "" {
			s3Bucket = "arcrelay"
		}
		s3Store, err := staticassets.NewS3Store(ctx, s3Endpoint, os.Getenv("S3_ACCESS_KEY"), os.Getenv("S3_SECRET_KEY"), s3Bucket, os.Getenv("S3_USE_SSL") == "true")
		if err != nil {
			slog.Error("failed to connect to S3 static asset store", "error", err)
			os.Exit(1)
		}
		srv.StaticStore = s3Store
		srv.AssetHealth = staticassets.NewHealthChecker(s3Store)
		slog.Info("s3 static asset store initialized", "endpoint", s3Endpoint, "bucket", s3Bucket)
	} else if cfg.StaticAssetsDir != "" {
		localStore, err := staticassets.NewLocalStore(cfg.StaticAssetsDir)
		if err != nil {
			slog.Error("failed to open local static asset directory", "error", err)
			os.Exit(1)
		}
		srv.StaticStore = localStore
		slog.Info("local static asset store initialized", "dir", cfg.StaticAssetsDir)
	} else {
		slog.Warn("no static asset store configured, unmatched paths will 404")
	}

	// Admin reload: re-reads config from disk, swaps it into the resource
	// store, and drops+repopulates every meter row so a changed or removed
	// resource cannot leave a stale counter behind (§4.6 Refresh, §12).
	srv.Reload = func(ctx context.Context) error {
		newCfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("reload config: %w", err)
		}
		newResources, newReferrers, err := newCfg.Build()
		if err != nil {
			return fmt.Errorf("build resource table: %w", err)
		}
		store.Swap(newResources, newReferrers)
		refresher.Reload(ctx)
		return nil
	}

	if adminKey := os.Getenv("ARCRELAY_ADMIN_KEY"); adminKey != "" {
		srv.AdminAuth = adminauth.APIKey(adminKey)
		slog.Info("admin reload endpoint requires API key")
	} else {
		srv.AdminAuth = adminauth.Noop()
		slog.Warn("ARCRELAY_ADMIN_KEY not set, admin reload endpoint is unauthenticated")
	}

	warnDefaultCredentials()

	router := httpapi.NewRouter(srv)

	// Listen address: ARCRELAY_LISTEN_ADDR > PORT (legacy) > default
	// 127.0.0.1:8080. Default binds to localhost only — operators must
	// explicitly set 0.0.0.0:8080 for network access.
	addr := "127.0.0.1:8080"
	if listenAddr := os.Getenv("ARCRELAY_LISTEN_ADDR"); listenAddr != "" {
		addr = listenAddr
	} else if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	if strings.HasPrefix(addr, "0.0.0.0") && os.Getenv("ARCRELAY_ADMIN_KEY") == "" {
		slog.Warn("listening on 0.0.0.0 without ARCRELAY_ADMIN_KEY — admin reload is unauthenticated and accessible from the network")
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	errCh := make(chan error, 1)

	tlsCertFile := os.Getenv("TLS_CERT_FILE")
	tlsKeyFile := os.Getenv("TLS_KEY_FILE")
	tlsKeystoreFile := os.Getenv("TLS_KEYSTORE_FILE")

	switch {
	case tlsKeystoreFile != "":
		tc, err := tlsconfig.Load(tlsconfig.Config{
			KeystoreFile:     tlsKeystoreFile,
			KeystorePassword: os.Getenv("TLS_KEYSTORE_PASSWORD"),
		})
		if err != nil {
			slog.Error("failed to load TLS keystore", "error", err)
			os.Exit(1)
		}
		httpServer.TLSConfig = tc
		go func() { errCh <- httpServer.ListenAndServeTLS("", "") }()
		slog.Info("starting arcrelayd (HTTPS, keystore)", "addr", addr, "version", httpapi.Version)
	case tlsCertFile != "" && tlsKeyFile != "":
		go func() { errCh <- httpServer.ListenAndServeTLS(tlsCertFile, tlsKeyFile) }()
		slog.Info("starting arcrelayd (HTTPS)", "addr", addr, "version", httpapi.Version)
	default:
		go func() { errCh <- httpServer.ListenAndServe() }()
		slog.Info("starting arcrelayd", "addr", addr, "version", httpapi.Version)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	// Ordered cleanup: refresher (stops the cron sweep) → database pool.
	if srv.Refresher != nil {
		srv.Refresher.Stop()
		slog.Info("meter row refresher stopped")
	}
	if closePool != nil {
		closePool()
		slog.Info("database pool closed")
	}

	slog.Info("arcrelayd shutdown complete")
}
