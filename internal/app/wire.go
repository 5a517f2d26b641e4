package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/darkbet/darkbet/internal/blob/s3"
	"github.com/darkbet/darkbet/internal/cache/redis"
	"github.com/darkbet/darkbet/internal/config"
	"github.com/darkbet/darkbet/internal/crypto"
	"github.com/darkbet/darkbet/internal/domain"
	"github.com/darkbet/darkbet/internal/engine"
	"github.com/darkbet/darkbet/internal/notify"
	"github.com/darkbet/darkbet/internal/pipeline"
	"github.com/darkbet/darkbet/internal/relayer"
	"github.com/darkbet/darkbet/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Engine *engine.Engine
	Stores *engine.Stores

	PGClient *postgres.Client

	DepthCache  domain.DepthCache
	SignalBus   domain.SignalBus
	RedisClient *redis.Client

	BlobWriter domain.BlobWriter
	BlobClient *s3blob.Client
	Archiver   *pipeline.SettlementArchiver

	Notifier *notify.Notifier

	Relayer *relayer.Relayer
}

// needsChain returns true for modes that watch the deposit contract.
func needsChain(mode string) bool {
	switch strings.ToLower(mode) {
	case "relayer", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	if cfg.Postgres.Configured() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.PGClient = pgClient
		pool := pgClient.Pool()
		deps.Stores = &engine.Stores{
			Markets:   postgres.NewMarketStore(pool),
			Orders:    postgres.NewOrderStore(pool),
			Positions: postgres.NewPositionStore(pool),
			Balances:  postgres.NewBalanceStore(pool),
			Trades:    postgres.NewTradeStore(pool),
		}
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RedisClient = redisClient
		deps.DepthCache = redis.NewDepthCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         true,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.BlobClient = s3Client
		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	// --- Engine ---
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Engine.PrivateKey,
		EncryptedKeyPath: cfg.Engine.EncryptedKeyPath,
		KeyPassword:      cfg.Engine.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: intent key: %w", err)
	}
	keyring, err := crypto.NewKeyring(keyHex)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: keyring: %w", err)
	}

	eng := engine.New(keyring, engine.Authz{
		Resolvers: cfg.Engine.Resolvers,
		Admins:    cfg.Engine.Admins,
		Relayer:   cfg.Engine.RelayerAddr,
	}, cfg.Engine.AllowLegacyIntents, logger)
	if deps.Stores != nil {
		eng.WithStores(deps.Stores)
		if err := eng.LoadState(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: load engine state: %w", err)
		}
	}
	if deps.DepthCache != nil {
		eng.WithDepthCache(deps.DepthCache)
	}
	if deps.SignalBus != nil {
		eng.WithSignalBus(deps.SignalBus)
	}
	deps.Engine = eng

	// --- Operator alerts ---
	if cfg.Notify.Enabled {
		var senders []notify.Sender
		if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
			senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
		}
		if cfg.Notify.DiscordWebhookURL != "" {
			senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
		}
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	// --- Settlement archiver ---
	if deps.BlobWriter != nil && deps.Stores != nil {
		deps.Archiver = pipeline.NewSettlementArchiver(deps.BlobWriter, deps.Stores.Trades, logger)
	}

	// --- Deposit relayer ---
	if needsChain(cfg.Mode) && cfg.Relayer.Enabled {
		ethClient, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: eth rpc: %w", err)
		}
		closers = append(closers, ethClient.Close)

		watcher := relayer.NewDepositWatcher(ethClient, cfg.Chain.PoolAddress)
		stateFile := relayer.NewStateFile(cfg.Relayer.StateFile)
		creditor := &engineCreditor{engine: eng, relayerAddr: cfg.Engine.RelayerAddr}

		deps.Relayer = relayer.New(watcher, creditor, stateFile, relayer.Config{
			PollInterval:  cfg.Relayer.PollInterval.Duration,
			MaxAttempts:   cfg.Relayer.MaxAttempts,
			StartLookback: cfg.Chain.StartLookback,
		}, logger)
		if deps.Notifier != nil {
			deps.Relayer.WithAlerts(deps.Notifier)
		}
	}

	return deps, cleanup, nil
}

// engineCreditor adapts the engine's authorized credit operation to the
// relayer.Creditor interface.
type engineCreditor struct {
	engine      *engine.Engine
	relayerAddr string
}

func (c *engineCreditor) Credit(ctx context.Context, user string, amount int64) error {
	return c.engine.CreditBalance(ctx, c.relayerAddr, user, amount)
}
