package main

import (
	"io"

	"github.com/saferun/safe-pkgs/internal/audit"
	"github.com/saferun/safe-pkgs/internal/cache"
	"github.com/saferun/safe-pkgs/internal/checks"
	"github.com/saferun/safe-pkgs/internal/config"
	"github.com/saferun/safe-pkgs/internal/httpclient"
	"github.com/saferun/safe-pkgs/internal/logger"
	"github.com/saferun/safe-pkgs/internal/orchestrator"
	"github.com/saferun/safe-pkgs/internal/registry"
	"github.com/saferun/safe-pkgs/internal/registry/cargo"
	"github.com/saferun/safe-pkgs/internal/registry/npm"
	"github.com/saferun/safe-pkgs/internal/registry/osv"
	"github.com/saferun/safe-pkgs/internal/registry/pypi"
)

// env bundles the assembled runtime dependencies every subcommand needs.
// The structured logger always writes to stderr so stdout stays reserved
// for protocol frames and decision JSON.
type env struct {
	orch   *orchestrator.Orchestrator
	cat    *registry.Catalog
	log    *logger.Logger
	closer func() error
}

func buildEnv(w io.Writer) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	client, err := httpclient.New(httpclient.Options{
		HTTPSProxy:         httpsProxy,
		CACertPath:         caCertPath,
		InsecureSkipVerify: insecureSkipTLS,
	})
	if err != nil {
		return nil, err
	}

	cat := registry.NewCatalog()
	cat.Register(npm.New(client))
	cat.Register(cargo.New(client))
	cat.Register(pypi.New(client))

	auditLogger, err := audit.Open(audit.DefaultPath())
	if err != nil {
		return nil, err
	}

	log := logger.NewLogger(w, levelFromFlag(logLevel))

	pkgCache := cache.Open(cache.DefaultPath())
	if fellBack, cacheErr := pkgCache.FellBack(); fellBack {
		log.Warn("cache_fallback", "decision cache store unavailable, falling back to in-memory cache", map[string]interface{}{
			"error": cacheErr.Error(),
		})
	}

	orch := &orchestrator.Orchestrator{
		Catalog:    cat,
		Advisories: osv.New(client),
		Checks:     checks.All(),
		Cache:      pkgCache,
		Audit:      auditLogger,
		Logger:     log,
		Config:     cfg,
	}

	return &env{orch: orch, cat: cat, log: log, closer: auditLogger.Close}, nil
}

func levelFromFlag(level string) logger.Level {
	switch level {
	case "debug":
		return logger.LevelDebug
	case "warn":
		return logger.LevelWarn
	case "error":
		return logger.LevelError
	default:
		return logger.LevelInfo
	}
}
