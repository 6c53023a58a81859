package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/xueqianLu/ethcontract/pkg/log"
	"github.com/xueqianLu/ethcontract/pkg/txmgr"
)

const envPrefix = "ETHCONTRACT"

// Config holds the application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	KeyManager KeyManagerConfig `mapstructure:"key_manager"`
	Ethereum   EthereumConfig   `mapstructure:"ethereum"`
	Gas        GasConfig        `mapstructure:"gas"`
	Nonce      NonceConfig      `mapstructure:"nonce"`
	Receipts   ReceiptsConfig   `mapstructure:"receipts"`
	Events     EventsConfig     `mapstructure:"events"`
	Contracts  ContractsConfig  `mapstructure:"contracts"`
	Store      StoreConfig      `mapstructure:"store"`
	EventStore EventStoreConfig `mapstructure:"eventstore"`
	Log        log.Config       `mapstructure:"log"`
}

// ServerConfig holds the server configuration.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AuthConfig holds the HMAC credentials required on /api routes.
type AuthConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// KeyManagerConfig holds the configuration for the key manager.
type KeyManagerConfig struct {
	Type  string      `mapstructure:"type"` // "local" or "vault"
	From  string      `mapstructure:"from"` // sending account, defaults to the first managed key
	Local LocalConfig `mapstructure:"local"`
	Vault VaultConfig `mapstructure:"vault"`
}

// LocalConfig holds the configuration for the local key manager.
type LocalConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	KeyDir     string `mapstructure:"key_dir"`
	Password   string `mapstructure:"password"`
}

// VaultConfig holds the Vault configuration.
type VaultConfig struct {
	Address     string `mapstructure:"address"`
	Token       string `mapstructure:"token"`
	TransitPath string `mapstructure:"transit_path"`
}

type EthereumConfig struct {
	RPCURL  string `mapstructure:"rpc_url"`
	ChainID int64  `mapstructure:"chain_id"` // 0 queries eth_chainId
}

// GasConfig selects the gas strategy. Prices are wei and accept decimal or
// scientific notation ("20000000000", "2e10").
type GasConfig struct {
	Strategy             string  `mapstructure:"strategy"` // "fixed" or "node"
	GasLimit             uint64  `mapstructure:"gas_limit"`
	GasPrice             string  `mapstructure:"gas_price"`
	MaxFeePerGas         string  `mapstructure:"max_fee_per_gas"`
	MaxPriorityFeePerGas string  `mapstructure:"max_priority_fee_per_gas"`
	EstimateFactor       float64 `mapstructure:"estimate_factor"`
}

type NonceConfig struct {
	Source string `mapstructure:"source"` // "local" or "node"
}

type ReceiptsConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type EventsConfig struct {
	ChunkSize    uint64        `mapstructure:"chunk_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Listen       bool          `mapstructure:"listen"`
	Push         bool          `mapstructure:"push"`
	FromBlock    uint64        `mapstructure:"from_block"`
}

// ContractsConfig preloads contract addresses and per-deployment libraries.
// Library keys must be placeholders (__$<34 hex>$__): viper lowercases map
// keys, which would change the hash of a fully qualified library name.
type ContractsConfig struct {
	ERC20     string            `mapstructure:"erc20"`
	Storage   string            `mapstructure:"storage"`
	Libraries map[string]string `mapstructure:"libraries"`
}

type StoreConfig struct {
	Type  string      `mapstructure:"type"` // "memory" or "redis"
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Address     string        `mapstructure:"address"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	MaxIdle     int           `mapstructure:"max_idle"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
}

type EventStoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Driver  string `mapstructure:"driver"` // "sqlite" or "mysql"
	DSN     string `mapstructure:"dsn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 3*time.Minute)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.api_secret", "")
	v.SetDefault("key_manager.type", "local")
	v.SetDefault("key_manager.from", "")
	v.SetDefault("key_manager.local.private_key", "")
	v.SetDefault("key_manager.local.key_dir", "")
	v.SetDefault("key_manager.local.password", "")
	v.SetDefault("key_manager.vault.address", "http://127.0.0.1:8200")
	v.SetDefault("key_manager.vault.token", "")
	v.SetDefault("key_manager.vault.transit_path", "transit")
	v.SetDefault("ethereum.rpc_url", "http://127.0.0.1:8545")
	v.SetDefault("ethereum.chain_id", 0)
	v.SetDefault("gas.strategy", "fixed")
	v.SetDefault("gas.gas_limit", 4300000)
	v.SetDefault("gas.gas_price", "22000000000")
	v.SetDefault("gas.max_fee_per_gas", "")
	v.SetDefault("gas.max_priority_fee_per_gas", "")
	v.SetDefault("gas.estimate_factor", 1.5)
	v.SetDefault("nonce.source", "local")
	v.SetDefault("receipts.poll_interval", txmgr.DefaultPollInterval)
	v.SetDefault("receipts.timeout", txmgr.DefaultConfirmationTimeout)
	v.SetDefault("events.chunk_size", 1000)
	v.SetDefault("events.poll_interval", 2*time.Second)
	v.SetDefault("events.listen", false)
	v.SetDefault("events.push", false)
	v.SetDefault("events.from_block", 0)
	v.SetDefault("contracts.erc20", "")
	v.SetDefault("contracts.storage", "")
	v.SetDefault("store.type", "memory")
	v.SetDefault("store.redis.address", "127.0.0.1:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.max_idle", 3)
	v.SetDefault("store.redis.idle_timeout", 240*time.Second)
	v.SetDefault("store.redis.key_prefix", "ethcontract:")
	v.SetDefault("eventstore.enabled", false)
	v.SetDefault("eventstore.driver", "sqlite")
	v.SetDefault("eventstore.dsn", "ethcontract.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file.filename", "ethcontract.log")
	v.SetDefault("log.file.max_size_mb", 100)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", false)
}

// LoadConfig reads configuration from file or environment variables.
// path names an explicit config file; empty searches ./config.yaml.
// Every key can be overridden as ETHCONTRACT_<SECTION>_<KEY>.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Config file was found but another error was produced
			return config, fmt.Errorf("read config: %w", err)
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("decode config: %w", err)
	}
	return config, config.Validate()
}

func (c *Config) Validate() error {
	switch c.KeyManager.Type {
	case "local", "vault":
	default:
		return fmt.Errorf("unknown key_manager.type %q", c.KeyManager.Type)
	}
	if c.KeyManager.From != "" && !common.IsHexAddress(c.KeyManager.From) {
		return fmt.Errorf("key_manager.from %q is not an address", c.KeyManager.From)
	}
	if c.Ethereum.RPCURL == "" {
		return errors.New("ethereum.rpc_url is required")
	}
	switch c.Store.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown store.type %q", c.Store.Type)
	}
	if c.EventStore.Enabled {
		switch c.EventStore.Driver {
		case "sqlite", "mysql":
		default:
			return fmt.Errorf("unknown eventstore.driver %q", c.EventStore.Driver)
		}
	}
	for name, addr := range c.Contracts.Libraries {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("contracts.libraries.%s %q is not an address", name, addr)
		}
	}
	if _, err := txmgr.ParseNonceSource(c.Nonce.Source); err != nil {
		return err
	}
	_, err := c.Gas.GasStrategy()
	return err
}

// ParseWei parses an integer wei amount in decimal or scientific notation.
// Empty input yields nil.
func ParseWei(s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if !d.IsInteger() || d.IsNegative() {
		return nil, fmt.Errorf("amount %q is not a non-negative integer", s)
	}
	return d.BigInt(), nil
}

// GasStrategy builds the configured transaction gas strategy.
func (g GasConfig) GasStrategy() (txmgr.GasStrategy, error) {
	switch g.Strategy {
	case "node":
		return &txmgr.NodeGas{Factor: g.EstimateFactor, FallbackLimit: g.GasLimit}, nil
	case "fixed", "":
		price, err := ParseWei(g.GasPrice)
		if err != nil {
			return nil, fmt.Errorf("gas.gas_price: %w", err)
		}
		maxFee, err := ParseWei(g.MaxFeePerGas)
		if err != nil {
			return nil, fmt.Errorf("gas.max_fee_per_gas: %w", err)
		}
		tip, err := ParseWei(g.MaxPriorityFeePerGas)
		if err != nil {
			return nil, fmt.Errorf("gas.max_priority_fee_per_gas: %w", err)
		}
		if g.GasLimit == 0 || (price == nil && maxFee == nil) {
			return nil, errors.New("fixed gas strategy needs gas.gas_limit and gas.gas_price or gas.max_fee_per_gas")
		}
		return &txmgr.FixedGas{Limit: g.GasLimit, Price: price, MaxFee: maxFee, TipCap: tip}, nil
	default:
		return nil, fmt.Errorf("unknown gas.strategy %q", g.Strategy)
	}
}

// LibraryAddresses converts the configured library map for DeployOptions.
func (c ContractsConfig) LibraryAddresses() map[string]common.Address {
	out := make(map[string]common.Address, len(c.Libraries))
	for name, addr := range c.Libraries {
		out[name] = common.HexToAddress(addr)
	}
	return out
}
