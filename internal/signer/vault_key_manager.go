package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashicorp/vault/api"
	"github.com/xueqianLu/ethcontract/pkg/log"
)

var secp256k1HalfN = new(big.Int).Rsh(crypto.S256().Params().N, 1)

// VaultKeyManager manages secp256k1 keys held by a Vault transit engine.
type VaultKeyManager struct {
	vaultClient  *api.Client
	transitPath  string
	addressToKey map[common.Address]string // ETH address to Vault key name
	mu           sync.RWMutex
}

// NewVaultKeyManager mounts the transit engine if needed and loads the
// addresses of the keys it already holds.
func NewVaultKeyManager(ctx context.Context, vaultClient *api.Client, transitPath string) (*VaultKeyManager, error) {
	km := &VaultKeyManager{
		vaultClient:  vaultClient,
		transitPath:  strings.Trim(transitPath, "/"),
		addressToKey: make(map[common.Address]string),
	}
	if err := km.enableTransitEngine(ctx); err != nil {
		return nil, fmt.Errorf("failed to enable transit secrets engine: %w", err)
	}
	if err := km.loadExistingKeys(ctx); err != nil {
		return nil, fmt.Errorf("failed to load existing keys from vault: %w", err)
	}
	return km, nil
}

func (km *VaultKeyManager) enableTransitEngine(ctx context.Context) error {
	mounts, err := km.vaultClient.Sys().ListMountsWithContext(ctx)
	if err != nil {
		return err
	}
	if _, ok := mounts[km.transitPath+"/"]; ok {
		log.L(ctx).Debugf("Transit secrets engine already enabled at '%s'", km.transitPath)
		return nil
	}
	log.L(ctx).Infof("Transit secrets engine not found at '%s', enabling it now", km.transitPath)
	return km.vaultClient.Sys().MountWithContext(ctx, km.transitPath, &api.MountInput{Type: "transit"})
}

func (km *VaultKeyManager) loadExistingKeys(ctx context.Context) error {
	secret, err := km.vaultClient.Logical().ListWithContext(ctx, km.transitPath+"/keys")
	if err != nil {
		return err
	}
	if secret == nil || secret.Data["keys"] == nil {
		log.L(ctx).Info("No existing keys found in Vault transit engine")
		return nil
	}
	keys, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return fmt.Errorf("unexpected format for keys from vault")
	}

	km.mu.Lock()
	defer km.mu.Unlock()
	for _, k := range keys {
		keyName, ok := k.(string)
		if !ok {
			continue
		}
		address, err := km.getAddressForKey(ctx, keyName)
		if err != nil {
			log.L(ctx).Warnf("Could not get address for key '%s': %v", keyName, err)
			continue
		}
		km.addressToKey[address] = keyName
		log.L(ctx).Infof("Loaded key '%s' for address %s", keyName, address.Hex())
	}
	return nil
}

// CreateKey creates a new secp256k1 key in Vault.
func (km *VaultKeyManager) CreateKey() (common.Address, error) {
	ctx := context.Background()
	id := make([]byte, 8)
	if _, err := rand.Read(id); err != nil {
		return common.Address{}, err
	}
	keyName := "eth-key-" + hex.EncodeToString(id)

	path := fmt.Sprintf("%s/keys/%s", km.transitPath, keyName)
	if _, err := km.vaultClient.Logical().WriteWithContext(ctx, path, map[string]interface{}{"type": "secp256k1"}); err != nil {
		return common.Address{}, fmt.Errorf("failed to create key in vault: %w", err)
	}

	address, err := km.getAddressForKey(ctx, keyName)
	if err != nil {
		_, delErr := km.vaultClient.Logical().WriteWithContext(ctx, path+"/config", map[string]interface{}{"deletion_allowed": true})
		if delErr == nil {
			_, _ = km.vaultClient.Logical().DeleteWithContext(ctx, path)
		}
		return common.Address{}, fmt.Errorf("failed to get address for new key: %w", err)
	}

	km.mu.Lock()
	km.addressToKey[address] = keyName
	km.mu.Unlock()

	log.L(ctx).Infof("Created vault key '%s' for address %s", keyName, address.Hex())
	return address, nil
}

func (km *VaultKeyManager) GetAccounts() []common.Address {
	km.mu.RLock()
	defer km.mu.RUnlock()

	addresses := make([]common.Address, 0, len(km.addressToKey))
	for addr := range km.addressToKey {
		addresses = append(addresses, addr)
	}
	slices.SortFunc(addresses, func(a, b common.Address) int { return a.Cmp(b) })
	return addresses
}

func (km *VaultKeyManager) getAddressForKey(ctx context.Context, keyName string) (common.Address, error) {
	secret, err := km.vaultClient.Logical().ReadWithContext(ctx, fmt.Sprintf("%s/keys/%s", km.transitPath, keyName))
	if err != nil {
		return common.Address{}, err
	}
	if secret == nil || secret.Data["keys"] == nil {
		return common.Address{}, fmt.Errorf("key '%s' not found in vault", keyName)
	}
	keysData, ok := secret.Data["keys"].(map[string]interface{})
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected format for key data")
	}

	latest, latestVersion := "", -1
	for v := range keysData {
		if n, err := strconv.Atoi(v); err == nil && n > latestVersion {
			latest, latestVersion = v, n
		}
	}
	keyData, ok := keysData[latest].(map[string]interface{})
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected format for key version data")
	}
	pubKeyPEM, ok := keyData["public_key"].(string)
	if !ok {
		return common.Address{}, fmt.Errorf("public key not found in key data")
	}
	pub, err := parsePublicKey(pubKeyPEM)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

type subjectPublicKeyInfo struct {
	Algorithm struct {
		Algorithm  asn1.ObjectIdentifier
		Parameters asn1.RawValue `asn1:"optional"`
	}
	PublicKey asn1.BitString
}

// parsePublicKey reads a PEM encoded SubjectPublicKeyInfo. The point is
// decoded directly since crypto/x509 does not know secp256k1.
func parsePublicKey(pemData string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block containing the public key")
	}
	var spki subjectPublicKeyInfo
	if _, err := asn1.Unmarshal(block.Bytes, &spki); err != nil {
		return nil, fmt.Errorf("failed to parse DER encoded public key: %w", err)
	}
	pub, err := crypto.UnmarshalPubkey(spki.PublicKey.RightAlign())
	if err != nil {
		return nil, fmt.Errorf("key is not a secp256k1 public key: %w", err)
	}
	return pub, nil
}

type ecdsaSignature struct {
	R, S *big.Int
}

// signWithVault signs a 32 byte digest and returns r || s with s in the
// lower half of the curve order.
func (km *VaultKeyManager) signWithVault(keyName string, digest []byte) ([]byte, error) {
	resp, err := km.vaultClient.Logical().Write(fmt.Sprintf("%s/sign/%s", km.transitPath, keyName), map[string]interface{}{
		"input":                base64.StdEncoding.EncodeToString(digest),
		"prehashed":            true,
		"hash_algorithm":       "sha2-256",
		"marshaling_algorithm": "asn1",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign with vault: %w", err)
	}
	if resp == nil {
		return nil, errors.New("empty response from vault")
	}
	signature, ok := resp.Data["signature"].(string)
	if !ok {
		return nil, fmt.Errorf("signature not found in vault response")
	}
	// vault:v<version>:<base64 DER>
	parts := strings.SplitN(signature, ":", 3)
	if len(parts) < 3 {
		return nil, fmt.Errorf("invalid signature format from vault: %s", signature)
	}
	der, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature: %w", err)
	}
	var sig ecdsaSignature
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return nil, fmt.Errorf("failed to parse signature: %w", err)
	}
	if sig.S.Cmp(secp256k1HalfN) > 0 {
		sig.S = new(big.Int).Sub(crypto.S256().Params().N, sig.S)
	}
	out := make([]byte, 64)
	sig.R.FillBytes(out[:32])
	sig.S.FillBytes(out[32:])
	return out, nil
}

func (km *VaultKeyManager) SignTx(address common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	keyName, err := km.getKeyName(address)
	if err != nil {
		return nil, err
	}
	signer := types.LatestSignerForChainID(chainID)
	txHash := signer.Hash(tx)

	signature, err := km.signWithVault(keyName, txHash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction with vault: %w", err)
	}
	// Vault returns r and s only.
	v, err := recoverV(signature, txHash.Bytes(), address)
	if err != nil {
		return nil, err
	}
	return tx.WithSignature(signer, append(signature, v))
}

func (km *VaultKeyManager) getKeyName(address common.Address) (string, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()
	keyName, ok := km.addressToKey[address]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAccount, address.Hex())
	}
	return keyName, nil
}

// recoverV finds the recovery id for which signature recovers to expected.
func recoverV(signature, hash []byte, expected common.Address) (byte, error) {
	for i := byte(0); i < 2; i++ {
		sig := append(slices.Clone(signature), i)
		pub, err := crypto.SigToPub(hash, sig)
		if err != nil {
			continue
		}
		if crypto.PubkeyToAddress(*pub) == expected {
			return i, nil
		}
	}
	return 0, fmt.Errorf("could not recover public key for the given signature")
}
