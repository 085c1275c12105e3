// Package main is the entry point for the Rocket Search gateway: the server
// that sits between the browser extension and the LLM backend, verifying
// identity tokens, enforcing the daily quota, and relaying answers as
// server-sent events.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mogeko6347/rocket-search-gateway/internal/api"
	"github.com/mogeko6347/rocket-search-gateway/internal/auth"
	"github.com/mogeko6347/rocket-search-gateway/internal/buildinfo"
	"github.com/mogeko6347/rocket-search-gateway/internal/config"
	"github.com/mogeko6347/rocket-search-gateway/internal/kv"
	"github.com/mogeko6347/rocket-search-gateway/internal/logging"
	"github.com/mogeko6347/rocket-search-gateway/internal/ratelimit"
	"github.com/mogeko6347/rocket-search-gateway/internal/upstream"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	fmt.Printf("Rocket Search Gateway Version: %s, Commit: %s, BuiltAt: %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.BuildDate)

	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	flag.Parse()

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	if !filepath.IsAbs(configPath) {
		configPath = filepath.Join(wd, configPath)
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Errorf("failed to load config %s: %v", configPath, err)
		return
	}
	applyEnvOverrides(cfg)

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return
	}
	logging.ApplyLogLevel(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx)
	if err != nil {
		log.Errorf("failed to open state store: %v", err)
		return
	}
	defer func() { _ = store.Close() }()

	certsURL := cfg.Auth.CertsURL
	if certsURL == "" {
		certsURL = config.DefaultCertsURL
	}
	cache := auth.NewVerificationCache(store, cfg.VerificationTTL())
	verifier := auth.NewTokenVerifier(cfg.Auth.ProjectID, auth.NewKeySource(certsURL), cache)

	limiter := ratelimit.New(store, cfg.Quota.DailyLimit, cfg.QuotaWindow())
	if interval := time.Duration(cfg.Quota.CleanupIntervalSeconds) * time.Second; interval > 0 {
		limiter.StartCleanup(ctx, interval)
	}

	provider := upstream.NewClient(cfg)
	server := api.NewServer(cfg, verifier, limiter, provider)

	watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		applyEnvOverrides(newCfg)
		logging.ApplyLogLevel(newCfg)
		limiter.SetLimit(newCfg.Quota.DailyLimit)
		provider.UpdateConfig(newCfg)
		server.ApplyConfig(newCfg)
		log.Info("configuration reloaded")
	})
	if err != nil {
		log.Warnf("config watcher unavailable, hot reload disabled: %v", err)
	} else if err = watcher.Start(ctx); err != nil {
		log.Warnf("config watcher failed to start: %v", err)
	} else {
		defer func() { _ = watcher.Stop() }()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	select {
	case err = <-serveErr:
		if err != nil {
			log.Errorf("server stopped: %v", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err = server.Shutdown(shutdownCtx); err != nil {
			log.Errorf("graceful shutdown failed: %v", err)
		}
	}
}

// applyEnvOverrides lets secrets stay out of the config file.
func applyEnvOverrides(cfg *config.Config) {
	if value := strings.TrimSpace(os.Getenv("UPSTREAM_API_TOKEN")); value != "" {
		cfg.Upstream.APIToken = value
	}
	if value := strings.TrimSpace(os.Getenv("AUTH_PROJECT_ID")); value != "" {
		cfg.Auth.ProjectID = value
	}
}

// openStore selects the durable state backend from the environment: Postgres
// when a DSN is set, S3-compatible object storage when an endpoint is set, a
// local directory when a path is set, and process memory otherwise.
func openStore(ctx context.Context) (kv.Store, error) {
	lookupEnv := func(keys ...string) (string, bool) {
		for _, key := range keys {
			if value, ok := os.LookupEnv(key); ok {
				if trimmed := strings.TrimSpace(value); trimmed != "" {
					return trimmed, true
				}
			}
		}
		return "", false
	}

	if dsn, ok := lookupEnv("PGSTORE_DSN", "pgstore_dsn"); ok {
		table, _ := lookupEnv("PGSTORE_TABLE", "pgstore_table")
		store, err := kv.NewPostgresStore(ctx, kv.PostgresConfig{DSN: dsn, Table: table})
		if err != nil {
			return nil, err
		}
		log.Info("using postgres state store")
		return store, nil
	}

	if endpoint, ok := lookupEnv("OBJECTSTORE_ENDPOINT", "objectstore_endpoint"); ok {
		cfg := kv.ObjectStoreConfig{Endpoint: endpoint, UseSSL: true}
		cfg.AccessKey, _ = lookupEnv("OBJECTSTORE_ACCESS_KEY", "objectstore_access_key")
		cfg.SecretKey, _ = lookupEnv("OBJECTSTORE_SECRET_KEY", "objectstore_secret_key")
		cfg.Bucket, _ = lookupEnv("OBJECTSTORE_BUCKET", "objectstore_bucket")
		cfg.Region, _ = lookupEnv("OBJECTSTORE_REGION", "objectstore_region")
		cfg.Prefix, _ = lookupEnv("OBJECTSTORE_PREFIX", "objectstore_prefix")
		if value, ok2 := lookupEnv("OBJECTSTORE_INSECURE", "objectstore_insecure"); ok2 && value == "true" {
			cfg.UseSSL = false
		}
		if value, ok2 := lookupEnv("OBJECTSTORE_PATH_STYLE", "objectstore_path_style"); ok2 && value == "true" {
			cfg.PathStyle = true
		}
		store, err := kv.NewObjectStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log.Info("using object-storage state store")
		return store, nil
	}

	if dir, ok := lookupEnv("FILESTORE_PATH", "filestore_path"); ok {
		store, err := kv.NewFileStore(dir)
		if err != nil {
			return nil, err
		}
		log.Infof("using file state store at %s", dir)
		return store, nil
	}

	log.Warn("no durable state store configured, quota counters and the token cache reset on restart")
	return kv.NewMemoryStore(), nil
}
