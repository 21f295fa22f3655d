// Package main is the entrypoint for the userservice-go server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MahdiBaghbani/userservice-go/internal/components/chat"
	"github.com/MahdiBaghbani/userservice-go/internal/components/chat/credentials"
	"github.com/MahdiBaghbani/userservice-go/internal/components/chat/rollback"
	"github.com/MahdiBaghbani/userservice-go/internal/components/consultant/provisioning"
	"github.com/MahdiBaghbani/userservice-go/internal/components/identity"
	"github.com/MahdiBaghbani/userservice-go/internal/components/scheduling"
	"github.com/MahdiBaghbani/userservice-go/internal/components/tenant"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/cache"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/config"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/deps"
	httpclient "github.com/MahdiBaghbani/userservice-go/internal/platform/http/client"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/http/server"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/store"

	// Register cache drivers
	_ "github.com/MahdiBaghbani/userservice-go/internal/platform/cache/loader"
	// Register HTTP services
	_ "github.com/MahdiBaghbani/userservice-go/internal/services/loader"
	// Register store drivers
	_ "github.com/MahdiBaghbani/userservice-go/internal/platform/store/memory"
	_ "github.com/MahdiBaghbani/userservice-go/internal/platform/store/sqlite"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	modeFlag := flag.String("mode", "", "Operating mode: strict or dev (overrides config)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	loggingLevel := flag.String("logging-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	loggingAllowSensitive := flag.String("logging-allow-sensitive", "", "Allow sensitive values in logs: true or false (overrides config)")
	identityDriver := flag.String("identity-driver", "", "Identity provider driver: keycloak or memory (overrides config)")
	storeDriver := flag.String("store-driver", "", "Store driver: sqlite or memory (overrides config)")
	storeDataDir := flag.String("store-data-dir", "", "Directory for the sqlite database (overrides config)")
	schedulingEnabled := flag.String("scheduling-enabled", "", "Register consultants with the scheduling service: true or false (overrides config)")
	multitenancy := flag.String("multitenancy", "", "Enable tenant checks and the seat gate: true or false (overrides config)")
	rotationInterval := flag.String("rotation-interval-seconds", "", "Chat credential rotation interval in seconds (overrides config)")
	flag.Parse()

	// Bootstrap logger for config loading errors (uses default level)
	bootstrapLogger := logutil.NewJSON(os.Stdout, "info")

	// Load config with precedence: mode preset -> TOML file -> env secrets -> CLI flags
	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		ModeFlag:   *modeFlag,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:              listenAddr,
			LoggingLevel:            loggingLevel,
			LoggingAllowSensitive:   loggingAllowSensitive,
			IdentityDriver:          identityDriver,
			StoreDriver:             storeDriver,
			StoreDataDir:            storeDataDir,
			SchedulingEnabled:       schedulingEnabled,
			Multitenancy:            multitenancy,
			RotationIntervalSeconds: rotationInterval,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logutil.NewJSON(os.Stdout, cfg.Logging.Level)
	slog.SetDefault(logger)

	// Log effective config with secrets redacted
	logger.Info("effective configuration", "config", cfg.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	httpClient := httpclient.New(&cfg.OutboundHTTP)

	// Local consultant records
	drv, err := store.New(&store.DriverConfig{Driver: cfg.Store.Driver, DataDir: cfg.Store.DataDir})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	if err := drv.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer drv.Close()
	consultants, ok := drv.(store.ConsultantStore)
	if !ok {
		return fmt.Errorf("store driver %q does not persist consultants", drv.Name())
	}

	// Cache (defaults to in-memory if not configured)
	// Passes driver-specific config from [cache.drivers.<driver>] section
	cacheDriver := cfg.Cache.Driver
	if cacheDriver == "" {
		cacheDriver = "memory"
	}
	cacheInstance, err := cache.NewFromConfig(cacheDriver, cfg.Cache.Drivers)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}
	defer cacheInstance.Close()

	idp, err := newIdentityProvider(cfg, httpClient, logger)
	if err != nil {
		return err
	}

	chatClient := chat.NewClient(cfg.Chat.BaseURL, httpClient, logger.With("component", "chat"))

	pool, err := credentials.NewPool(credentials.PoolConfig{
		Client:    chatClient,
		Technical: credentials.Account{Username: cfg.Chat.TechnicalUsername, Password: cfg.Chat.TechnicalPassword},
		System:    credentials.Account{Username: cfg.Chat.SystemUsername, Password: cfg.Chat.SystemPassword},
		Logger:    logger.With("component", "credentials"),
	})
	if err != nil {
		return err
	}
	rotator, err := credentials.NewRotator(credentials.RotatorConfig{
		Pool:     pool,
		Interval: cfg.Chat.RotationInterval(),
		Logger:   logger.With("component", "rotator"),
	})
	if err != nil {
		return err
	}

	provCfg := provisioning.Config{
		Identity:       idp,
		Chat:           chatClient,
		Store:          consultants,
		Multitenancy:   cfg.Tenant.Multitenancy,
		ConsultantRole: cfg.Identity.ConsultantRole,
		GroupChatRole:  cfg.Identity.GroupChatRole,
		DefaultLocale:  cfg.Consultant.DefaultLocale,
		Logger:         logger.With("component", "provisioning"),
	}
	if cfg.Scheduling.Enabled {
		sched, err := scheduling.NewClient(cfg.Scheduling.BaseURL, cfg.Scheduling.APIKey, httpClient, logger)
		if err != nil {
			return err
		}
		provCfg.Scheduling = sched
	}
	if cfg.Tenant.Multitenancy {
		tenants, err := tenant.NewClient(cfg.Tenant.BaseURL, httpClient, logger)
		if err != nil {
			return err
		}
		ttl := time.Duration(cfg.Tenant.SeatCacheTTLSeconds) * time.Second
		provCfg.Seats = tenant.NewSeatGate(tenants, cacheInstance, consultants, ttl, logger)
	}
	prov, err := provisioning.New(provCfg)
	if err != nil {
		return err
	}

	deps.SetDeps(&deps.Deps{
		Config:      cfg,
		Credentials: pool,
		Provisioner: prov,
		Rollback:    rollback.NewCoordinator(chatClient, pool, logger.With("component", "rollback")),
		Store:       consultants,
		Cache:       cacheInstance,
	})

	services, err := server.BuildServices(cfg, logger)
	if err != nil {
		return err
	}
	srv, err := server.New(cfg, logger, services)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		if err := rotator.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	logger.Info("server started, press Ctrl+C to stop")
	return g.Wait()
}

func newIdentityProvider(cfg *config.Config, httpClient *httpclient.Client, logger *slog.Logger) (identity.Provider, error) {
	switch cfg.Identity.Driver {
	case "memory":
		logger.Warn("using in-memory identity provider; accounts are lost on restart")
		return identity.NewMemoryProvider(identity.NewHasher(), logger,
			cfg.Identity.ConsultantRole, cfg.Identity.GroupChatRole), nil
	case "keycloak":
		return identity.NewAdminClient(identity.AdminClientConfig{
			BaseURL:      cfg.Identity.BaseURL,
			Realm:        cfg.Identity.Realm,
			AdminRealm:   cfg.Identity.AdminRealm,
			ClientID:     cfg.Identity.ClientID,
			ClientSecret: cfg.Identity.ClientSecret,
			HTTPClient:   httpClient,
			Logger:       logger.With("component", "identity"),
		})
	default:
		return nil, fmt.Errorf("unknown identity driver: %s", cfg.Identity.Driver)
	}
}
