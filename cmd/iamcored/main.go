// iamcored runs the IAM core as a single binary: the event log, the command
// and query sides, the projection manager and their operational plumbing.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/secrets/localsecrets"

	"github.com/authapp/iamcore/pkg/authz"
	"github.com/authapp/iamcore/pkg/cache"
	"github.com/authapp/iamcore/pkg/command"
	"github.com/authapp/iamcore/pkg/config"
	"github.com/authapp/iamcore/pkg/crypto"
	"github.com/authapp/iamcore/pkg/errs"
	"github.com/authapp/iamcore/pkg/eventbus"
	"github.com/authapp/iamcore/pkg/eventstore"
	"github.com/authapp/iamcore/pkg/eventstore/sqlite"
	"github.com/authapp/iamcore/pkg/logging"
	"github.com/authapp/iamcore/pkg/notification"
	"github.com/authapp/iamcore/pkg/projection"
	"github.com/authapp/iamcore/pkg/query"
	"github.com/authapp/iamcore/pkg/runner"
	"github.com/authapp/iamcore/pkg/static"
	"github.com/authapp/iamcore/pkg/telemetry"
)

// version is stamped by the build.
var version = "dev"

func main() {
	var (
		migrateOnly = flag.Bool("migrate-only", false, "create the schema and exit")
		rebuild     = flag.String("rebuild", "", `rebuild the named projections (comma separated, "all" for every one) and exit`)
	)
	flag.Parse()

	if err := run(context.Background(), *migrateOnly, *rebuild); err != nil {
		log.Fatalf("iamcored: %v", err)
	}
}

func run(ctx context.Context, migrateOnly bool, rebuild string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting iamcored",
		zap.String("version", version),
		zap.String("environment", cfg.Environment))

	if dir := filepath.Dir(cfg.DBPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	store, err := sqlite.New(sqlite.WithDSN(cfg.DBPath))
	if err != nil {
		return err
	}

	if migrateOnly || rebuild != "" {
		defer store.Close()
		return runMaintenance(ctx, cfg, logger, store, migrateOnly, rebuild)
	}

	tel, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:     "iamcored",
		ServiceVersion:  version,
		Environment:     cfg.Environment,
		TraceSampleRate: cfg.TraceSampleRate,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	unregisterDBStats, err := telemetry.RegisterDBStats(tel.Meter("iamcore"), store.DB(), "eventstore")
	if err != nil {
		return err
	}

	crypt, err := loadCrypto(ctx, cfg, logger)
	if err != nil {
		return err
	}
	signingKey, err := loadSigningKey(cfg, logger)
	if err != nil {
		return err
	}

	busCfg := eventbus.DefaultConfig()
	var broker *eventbus.EmbeddedServer
	if cfg.NATSEmbedded {
		broker, err = eventbus.StartEmbeddedServer(cfg.NATSStoreDir)
		if err != nil {
			return err
		}
		busCfg.URL = broker.URL()
		logger.Info("embedded broker started", zap.String("url", busCfg.URL))
	} else if cfg.NATSURL != "" {
		busCfg.URL = cfg.NATSURL
	}
	bus, err := eventbus.New(busCfg)
	if err != nil {
		return err
	}

	es := eventstore.New(store,
		eventstore.WithPublisher(bus),
		eventstore.WithLogger(logger),
		eventstore.WithMetrics(tel.Metrics),
	)

	storage, err := static.OpenStorage(ctx, cfg.StaticBucketURL)
	if err != nil {
		return err
	}

	var (
		queryCache  cache.Cache
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		queryCache = cache.NewRedisCache(redisClient, logger)
	} else {
		queryCache = cache.NewMemoryCache()
	}

	var sender notification.Sender
	if cfg.Environment == logging.EnvProduction {
		sender = notification.NewQueueSender(bus.Conn())
	} else {
		sender = notification.NewLogSender(logger)
	}

	checker := authz.NewDefaultChecker()
	commands := command.New(es,
		command.WithEncryption(crypt),
		command.WithPermissionChecker(checker),
		command.WithStaticStorage(storage),
		command.WithNotifier(sender),
		command.WithLogger(logger),
		command.WithSessionLifetime(cfg.SessionLifetime),
		command.WithTokenSigningKey(signingKey),
	)

	manager, err := projection.NewManager(es, store.DB(), logger,
		projection.WithInterval(cfg.ProjectionInterval),
	)
	if err != nil {
		return err
	}
	if err := manager.Register(ctx, query.Projections()...); err != nil {
		return err
	}
	// Pushed events come back over the stream and wake the handlers, so
	// projections lag by a round trip instead of a poll interval.
	if err := bus.Subscribe("events.>", "iamcored-projections", func(*eventstore.Event) error {
		manager.TriggerAll()
		return nil
	}); err != nil {
		return err
	}

	queries := query.New(es, store.DB(),
		query.WithCache(queryCache),
		query.WithCacheTTL(cfg.CacheTTL),
		query.WithPermissionChecker(checker),
		query.WithLogger(logger),
		query.WithMetrics(tel.Metrics),
	)

	if err := bootstrapInstance(ctx, cfg, commands, logger); err != nil {
		return err
	}

	sampler := telemetry.NewLagSampler(es, manager, tel.Metrics,
		[]string{
			query.UsersProjectionName,
			query.OrgsProjectionName,
			query.SessionsProjectionName,
			query.PersonalAccessTokensProjectionName,
		},
		telemetry.WithSamplerLogger(logger),
	)

	health := newHealthLoop(logger, map[string]func(context.Context) error{
		"database": func(ctx context.Context) error { return store.DB().PingContext(ctx) },
		"queries":  queries.Health,
	})

	services := []runner.Service{
		runner.Funcs{
			ServiceName: "eventstore.sqlite",
			OnStop:      func(context.Context) error { return store.Close() },
		},
		runner.Funcs{
			ServiceName: "telemetry",
			OnStop: func(ctx context.Context) error {
				return errors.Join(unregisterDBStats(), tel.Shutdown(ctx))
			},
		},
	}
	if broker != nil {
		services = append(services, runner.Funcs{
			ServiceName: "eventbus.broker",
			OnStop:      func(context.Context) error { broker.Shutdown(); return nil },
		})
	}
	services = append(services,
		runner.Funcs{
			ServiceName: "eventbus",
			OnStop:      func(context.Context) error { return bus.Close() },
		},
		runner.Funcs{
			ServiceName: "static",
			OnStop:      func(context.Context) error { return storage.Close() },
		},
	)
	if redisClient != nil {
		services = append(services, runner.Funcs{
			ServiceName: "cache.redis",
			OnStop:      func(context.Context) error { return redisClient.Close() },
		})
	}
	services = append(services,
		runner.Funcs{
			ServiceName: "projections",
			OnStart: func(context.Context) error {
				// Handler loops outlive the start context; Stop owns the
				// cancellation.
				manager.Start(context.Background())
				return nil
			},
			OnStop: func(context.Context) error { manager.Stop(); return nil },
		},
		sampler,
		health,
	)

	return runner.New(services, runner.WithLogger(logger)).Run(ctx)
}

// runMaintenance serves the schema and rebuild flags over an exclusive
// store handle, without starting any service.
func runMaintenance(ctx context.Context, cfg config.Config, logger *zap.Logger, store *sqlite.Store, migrateOnly bool, rebuild string) error {
	es := eventstore.New(store, eventstore.WithLogger(logger))
	manager, err := projection.NewManager(es, store.DB(), logger)
	if err != nil {
		return err
	}
	if err := manager.Register(ctx, query.Projections()...); err != nil {
		return err
	}
	if migrateOnly {
		logger.Info("schema ready", zap.String("db", cfg.DBPath))
		return nil
	}

	var names []string
	if rebuild != "all" {
		for _, name := range strings.Split(rebuild, ",") {
			names = append(names, strings.TrimSpace(name))
		}
	}
	if err := manager.Rebuild(ctx, names...); err != nil {
		return err
	}
	logger.Info("projections rebuilt", zap.String("requested", rebuild))
	return nil
}

// loadCrypto builds the secret encryption from the configured master key,
// or from a generated one when the deployment has none.
func loadCrypto(ctx context.Context, cfg config.Config, logger *zap.Logger) (*crypto.AESCrypto, error) {
	var key []byte
	if cfg.MasterKeyURL != "" {
		loaded, err := crypto.LoadMasterKey(ctx, cfg.MasterKeyURL, cfg.MasterKeySealed)
		if err != nil {
			return nil, err
		}
		key = loaded
	} else {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate master key: %w", err)
		}
		logger.Warn("no master key configured, generated an ephemeral one; encrypted secrets will not be readable after a restart")
	}
	return crypto.NewAESCrypto(cfg.EncryptionKeyID, map[string][]byte{cfg.EncryptionKeyID: key})
}

func loadSigningKey(cfg config.Config, logger *zap.Logger) ([]byte, error) {
	if cfg.TokenSigningKey != "" {
		return []byte(cfg.TokenSigningKey), nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	logger.Warn("no token signing key configured, generated an ephemeral one; personal access tokens will not verify after a restart")
	return key, nil
}

// bootstrapInstance sets up the daemon's tenant on first start. Running it
// on every boot is safe, an existing instance is left untouched.
func bootstrapInstance(ctx context.Context, cfg config.Config, commands *command.Commands, logger *zap.Logger) error {
	password := cfg.BootstrapPassword
	generated := false
	if password == "" {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err != nil {
			return fmt.Errorf("generate admin password: %w", err)
		}
		password = base64.RawURLEncoding.EncodeToString(raw)
		generated = true
	}

	ctx = authz.WithCtxData(ctx, authz.CtxData{
		InstanceID:    cfg.InstanceID,
		UserID:        "system",
		Roles:         []string{authz.RoleIAMOwner},
		CorrelationID: uuid.NewString(),
	})
	result, err := commands.SetUpInstance(ctx, &command.InstanceSetup{
		InstanceName: cfg.BootstrapInstance,
		OrgName:      cfg.BootstrapOrg,
		Admin: command.AddHuman{
			Username:  cfg.BootstrapUsername,
			FirstName: "IAM",
			LastName:  "Admin",
			Email:     cfg.BootstrapEmail,
			Password:  password,
		},
	})
	if errs.IsAlreadyExists(err) {
		logger.Debug("instance already set up", zap.String("instance", cfg.InstanceID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("set up instance: %w", err)
	}

	logger.Info("instance bootstrapped",
		zap.String("instance", cfg.InstanceID),
		zap.String("org_id", result.OrgID),
		zap.String("admin_user_id", result.AdminUserID))
	if generated {
		logger.Warn("generated the initial admin password, change it after first login",
			zap.String("username", cfg.BootstrapUsername),
			zap.String("password", password))
	}
	return nil
}
