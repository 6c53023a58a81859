package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xueqianLu/ethcontract/pkg/txmgr"
)

func writeConfig(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "local", cfg.KeyManager.Type)
	assert.Equal(t, "fixed", cfg.Gas.Strategy)
	assert.Equal(t, uint64(4300000), cfg.Gas.GasLimit)
	assert.Equal(t, txmgr.DefaultPollInterval, cfg.Receipts.PollInterval)
	assert.Equal(t, txmgr.DefaultConfirmationTimeout, cfg.Receipts.Timeout)
	assert.Equal(t, uint64(1000), cfg.Events.ChunkSize)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
ethereum:
  rpc_url: http://node:8545
  chain_id: 1337
gas:
  strategy: node
  estimate_factor: 1.2
receipts:
  poll_interval: 250ms
contracts:
  erc20: "0x1000000000000000000000000000000000000001"
  libraries:
    "__$0123456789abcdef0123456789abcdef01$__": "0x00000000000000000000000000000000000000ee"
`)
	t.Setenv("ETHCONTRACT_NONCE_SOURCE", "node")
	t.Setenv("ETHCONTRACT_AUTH_API_KEY", "k1")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "http://node:8545", cfg.Ethereum.RPCURL)
	assert.Equal(t, int64(1337), cfg.Ethereum.ChainID)
	assert.Equal(t, 250*time.Millisecond, cfg.Receipts.PollInterval)
	assert.Equal(t, "node", cfg.Nonce.Source)
	assert.Equal(t, "k1", cfg.Auth.APIKey)

	strategy, err := cfg.Gas.GasStrategy()
	require.NoError(t, err)
	assert.Equal(t, &txmgr.NodeGas{Factor: 1.2, FallbackLimit: 4300000}, strategy)

	libs := cfg.Contracts.LibraryAddresses()
	assert.Equal(t, common.HexToAddress("0xee"), libs["__$0123456789abcdef0123456789abcdef01$__"])
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"key manager": "key_manager:\n  type: hsm\n",
		"store":       "store:\n  type: etcd\n",
		"nonce":       "nonce:\n  source: chain\n",
		"gas":         "gas:\n  strategy: oracle\n",
		"gas price":   "gas:\n  gas_price: 1.5\n",
		"from":        "key_manager:\n  from: nobody\n",
		"eventstore":  "eventstore:\n  enabled: true\n  driver: postgres\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestParseWei(t *testing.T) {
	v, err := ParseWei("2e10")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(20_000_000_000), v)

	v, err = ParseWei("")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = ParseWei("-1")
	assert.Error(t, err)
	_, err = ParseWei("abc")
	assert.Error(t, err)
}

func TestFixedGasStrategy(t *testing.T) {
	strategy, err := GasConfig{Strategy: "fixed", GasLimit: 21000, MaxFeePerGas: "100", MaxPriorityFeePerGas: "2"}.GasStrategy()
	require.NoError(t, err)
	assert.Equal(t, &txmgr.FixedGas{Limit: 21000, MaxFee: big.NewInt(100), TipCap: big.NewInt(2)}, strategy)

	_, err = GasConfig{Strategy: "fixed"}.GasStrategy()
	assert.Error(t, err)
}
