package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spsquared/PixSim-API/internal/assembly"
	"github.com/spsquared/PixSim-API/internal/config"
	"github.com/spsquared/PixSim-API/internal/httpapi"
	"github.com/spsquared/PixSim-API/internal/mapcatalog"
	"github.com/spsquared/PixSim-API/internal/persist"
	"github.com/spsquared/PixSim-API/internal/pixel"
	"github.com/spsquared/PixSim-API/internal/relay"
	"github.com/spsquared/PixSim-API/internal/relaycrypto"
	"github.com/spsquared/PixSim-API/internal/scripting"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pixsim-api:", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := "config/server.toml"
	if p := os.Getenv("PIXSIM_API_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	var starting atomic.Bool
	starting.Store(true)

	// Room audit persistence is optional: an empty DSN runs the relay with
	// no database at all, per DatabaseConfig's doc comment.
	var audit persist.RoomAuditRepo = persist.NoopRoomAuditRepo{}
	if cfg.Database.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		db, err := persist.NewDB(ctx, cfg.Database, log)
		cancel()
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()

		migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = persist.RunMigrations(migrateCtx, db.Pool)
		migrateCancel()
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		audit = persist.NewPgRoomAuditRepo(db, log)
		log.Info("room audit persistence enabled")
	} else {
		log.Info("no database configured, room audit persistence disabled")
	}

	manifest, err := config.LoadDialectManifest(cfg.Dialects.DialectManifestPath)
	if err != nil {
		return fmt.Errorf("load dialect manifest: %w", err)
	}

	sources := make([]pixel.DialectSource, 0, len(manifest.Dialects))
	for _, d := range manifest.Dialects {
		loader := scripting.NewLoader(d.ID, d.PrimaryURL, d.FallbackURL, cfg.Dialects.CacheDir, true, cfg.Dialects.AllowInsecure, log)
		sources = append(sources, pixel.DialectSource{
			ID:          pixel.DialectId(d.ID),
			ExtractExpr: d.ExtractExpr,
			Loader:      loader,
		})
	}

	converter, err := pixel.NewConverter(cfg.Dialects.LookupTablePath, sources, log)
	if err != nil {
		// An unreadable lookup table makes the whole converter unusable —
		// this is the ExternalFetchError-class failure that latches the
		// process crashed rather than merely leaving one dialect empty.
		return fmt.Errorf("pixel converter: %w", err)
	}
	<-converter.Ready()
	log.Info("pixel converter ready", zap.Any("formats", converter.Formats()))

	catalog, err := mapcatalog.Load(cfg.Dialects.MapsDir, converter, log)
	if err != nil {
		return fmt.Errorf("map catalog: %w", err)
	}

	compiler := assembly.NewCompiler(converter, log)

	keys, err := relaycrypto.Generate()
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}

	broker := relay.NewBroker(cfg.RateLimit, cfg.Network, keys, converter, audit, log)
	defer broker.Close()

	starting.Store(false)

	apiServer := httpapi.NewServer(catalog, compiler, cfg.Dialects.ControllersDir, broker, cfg.Network.UpgradePath, cfg.Network.PingInterval, cfg.Network.IdleTimeout, &starting, log)

	httpServer := &http.Server{
		Addr:         cfg.Network.BindAddress,
		Handler:      apiServer.Routes(),
		ReadTimeout:  cfg.Network.ReadTimeout,
		WriteTimeout: cfg.Network.WriteTimeout,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Network.BindAddress))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
		}
	}()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdownCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serveErrCh:
		log.Error("http server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", zap.Error(err))
	}

	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
