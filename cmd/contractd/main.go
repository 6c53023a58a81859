package main

import (
	"context"
	"flag"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/vault/api"
	"github.com/xueqianLu/ethcontract/internal/config"
	"github.com/xueqianLu/ethcontract/internal/eventstore"
	"github.com/xueqianLu/ethcontract/internal/handler"
	"github.com/xueqianLu/ethcontract/internal/middleware"
	"github.com/xueqianLu/ethcontract/internal/server"
	"github.com/xueqianLu/ethcontract/internal/service"
	"github.com/xueqianLu/ethcontract/internal/signer"
	"github.com/xueqianLu/ethcontract/internal/store"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc"
	"github.com/xueqianLu/ethcontract/pkg/events"
	"github.com/xueqianLu/ethcontract/pkg/log"
	"github.com/xueqianLu/ethcontract/pkg/txmgr"
)

func main() {
	configPath := flag.String("config", os.Getenv("ETHCONTRACT_CONFIG"), "path to the configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.L(context.Background()).Fatalf("Failed to load configuration: %v", err)
	}
	log.InitConfig(cfg.Log)
	if !log.IsDebugEnabled() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		log.L(ctx).Fatalf("%v", err)
	}
}

func newKeyManager(ctx context.Context, cfg config.KeyManagerConfig) (signer.KeyManager, error) {
	if cfg.Type == "local" {
		return signer.NewLocalKeyManager(ctx, cfg.Local.PrivateKey, cfg.Local.KeyDir, cfg.Local.Password)
	}

	// Create Vault client
	vaultConfig := api.DefaultConfig()
	if err := vaultConfig.ReadEnvironment(); err != nil {
		log.L(ctx).Warnf("Could not read Vault environment variables: %v", err)
	}
	if cfg.Vault.Address != "" {
		vaultConfig.Address = cfg.Vault.Address
	}
	vaultClient, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, err
	}
	if cfg.Vault.Token != "" {
		vaultClient.SetToken(cfg.Vault.Token)
	}
	return signer.NewVaultKeyManager(ctx, vaultClient, cfg.Vault.TransitPath)
}

func newRegistryStore(ctx context.Context, cfg config.StoreConfig) (store.Registry, func(), error) {
	if cfg.Type != "redis" {
		return store.NewMemory(), func() {}, nil
	}
	pool, err := store.NewPool(ctx, store.RedisOptions{
		Address:     cfg.Redis.Address,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		MaxIdle:     cfg.Redis.MaxIdle,
		IdleTimeout: cfg.Redis.IdleTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return store.NewRedis(pool, cfg.Redis.KeyPrefix), func() { _ = pool.Close() }, nil
}

func preloaded(cfg config.ContractsConfig) map[string]common.Address {
	out := map[string]common.Address{}
	if cfg.ERC20 != "" {
		out[service.ERC20Name] = common.HexToAddress(cfg.ERC20)
	}
	if cfg.Storage != "" {
		out[service.StorageName] = common.HexToAddress(cfg.Storage)
	}
	return out
}

func run(ctx context.Context, cfg config.Config) error {
	// Initialize components
	keyManager, err := newKeyManager(ctx, cfg.KeyManager)
	if err != nil {
		return err
	}
	ethSigner, err := signer.NewSigner(keyManager, cfg.KeyManager.From)
	if err != nil {
		return err
	}

	client, err := ethrpc.Dial(ctx, cfg.Ethereum.RPCURL)
	if err != nil {
		return err
	}
	defer client.Close()

	gas, err := cfg.Gas.GasStrategy()
	if err != nil {
		return err
	}
	nonceSource, err := txmgr.ParseNonceSource(cfg.Nonce.Source)
	if err != nil {
		return err
	}
	var chainID *big.Int
	if cfg.Ethereum.ChainID > 0 {
		chainID = big.NewInt(cfg.Ethereum.ChainID)
	}
	mgr, err := txmgr.NewManager(ctx, client, ethSigner, txmgr.Config{
		From:                ethSigner.From(),
		ChainID:             chainID,
		Gas:                 gas,
		NonceSource:         nonceSource,
		PollInterval:        cfg.Receipts.PollInterval,
		ConfirmationTimeout: cfg.Receipts.Timeout,
	})
	if err != nil {
		return err
	}

	registryStore, closeStore, err := newRegistryStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	var eventStore *eventstore.Store
	if cfg.EventStore.Enabled {
		if eventStore, err = eventstore.Open(ctx, cfg.EventStore.Driver, cfg.EventStore.DSN); err != nil {
			return err
		}
		defer eventStore.Close()
	}

	registry := service.NewRegistry(mgr, registryStore, cfg.Contracts.LibraryAddresses())
	if cfg.Events.Listen && eventStore != nil {
		mode := events.Follow
		if cfg.Events.Push {
			mode = events.Push
		}
		listener := service.NewListener(eventStore, events.Options{
			Mode:         mode,
			ChunkSize:    cfg.Events.ChunkSize,
			PollInterval: cfg.Events.PollInterval,
		}, cfg.Events.FromBlock)
		listener.Start(ctx)
		defer listener.Stop()
		registry.OnBind(listener.Watch)
	} else if cfg.Events.Listen {
		log.L(ctx).Warn("Event listener needs eventstore.enabled, not listening")
	}
	if err := registry.Restore(ctx, preloaded(cfg.Contracts)); err != nil {
		return err
	}

	// Setup routes
	var auth *middleware.AuthMiddleware
	if cfg.Auth.APIKey != "" {
		auth = middleware.NewAuthMiddleware(cfg.Auth.APIKey, cfg.Auth.APISecret)
	} else {
		log.L(ctx).Warn("auth.api_key is empty, /api is not authenticated")
	}
	router := handler.NewRouter(handler.Dependencies{
		Accounts: ethSigner,
		Registry: registry,
		Events:   eventStore,
		Auth:     auth,
	})

	// Start server
	srv := server.NewServer(router, cfg.Server.Port, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	return server.Run(ctx, srv)
}
