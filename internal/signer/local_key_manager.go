package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/xueqianLu/ethcontract/pkg/log"
)

// LocalKeyManager manages keys held in process: an optional raw private key
// plus the encrypted keystore files of keyDir.
type LocalKeyManager struct {
	keyDir   string
	password string
	scryptN  int
	scryptP  int
	keys     map[common.Address]*ecdsa.PrivateKey
	mu       sync.RWMutex
}

// NewLocalKeyManager loads privateKey (hex, optional) and every keystore
// file in keyDir (optional). Files that fail to decrypt are skipped.
func NewLocalKeyManager(ctx context.Context, privateKey, keyDir, password string) (*LocalKeyManager, error) {
	km := &LocalKeyManager{
		keyDir:   keyDir,
		password: password,
		scryptN:  keystore.StandardScryptN,
		scryptP:  keystore.StandardScryptP,
		keys:     make(map[common.Address]*ecdsa.PrivateKey),
	}

	if privateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		address := crypto.PubkeyToAddress(key.PublicKey)
		km.keys[address] = key
		log.L(ctx).Infof("Loaded configured private key for address %s", address.Hex())
	}

	if keyDir == "" {
		return km, nil
	}
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	files, err := os.ReadDir(keyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read key directory: %w", err)
	}
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		keyJson, err := os.ReadFile(filepath.Join(keyDir, file.Name()))
		if err != nil {
			log.L(ctx).Warnf("Failed to read key file %s: %v", file.Name(), err)
			continue
		}
		key, err := keystore.DecryptKey(keyJson, password)
		if err != nil {
			log.L(ctx).Warnf("Failed to decrypt key file %s: %v", file.Name(), err)
			continue
		}
		km.keys[key.Address] = key.PrivateKey
		log.L(ctx).Infof("Loaded local key for address %s", key.Address.Hex())
	}
	return km, nil
}

// CreateKey generates a new key pair and saves it encrypted to keyDir.
func (km *LocalKeyManager) CreateKey() (common.Address, error) {
	if km.keyDir == "" {
		return common.Address{}, errors.New("no key directory configured")
	}
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to generate private key: %w", err)
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	keyJson, err := keystore.EncryptKey(&keystore.Key{Address: address, PrivateKey: privateKey}, km.password, km.scryptN, km.scryptP)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to encrypt private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(km.keyDir, address.Hex()+".json"), keyJson, 0600); err != nil {
		return common.Address{}, fmt.Errorf("failed to save encrypted key: %w", err)
	}

	km.mu.Lock()
	km.keys[address] = privateKey
	km.mu.Unlock()

	log.L(context.Background()).Infof("Created and saved encrypted local key for address %s", address.Hex())
	return address, nil
}

func (km *LocalKeyManager) GetAccounts() []common.Address {
	km.mu.RLock()
	defer km.mu.RUnlock()

	addresses := make([]common.Address, 0, len(km.keys))
	for addr := range km.keys {
		addresses = append(addresses, addr)
	}
	slices.SortFunc(addresses, func(a, b common.Address) int { return a.Cmp(b) })
	return addresses
}

func (km *LocalKeyManager) SignTx(address common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	km.mu.RLock()
	privateKey, ok := km.keys[address]
	km.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, address.Hex())
	}

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signedTx, nil
}
