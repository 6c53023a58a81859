package signer

import (
	"context"
	"crypto/ecdsa"
	"encoding/asn1"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashicorp/vault/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	oidECPublicKey = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidSecp256k1   = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
)

// fakeTransit imitates the parts of the Vault HTTP API the key manager uses.
type fakeTransit struct {
	t       *testing.T
	mu      sync.Mutex
	mounted bool
	keys    map[string]*ecdsa.PrivateKey
}

func (f *fakeTransit) publicKeyPEM(key *ecdsa.PrivateKey) string {
	params, err := asn1.Marshal(oidSecp256k1)
	require.NoError(f.t, err)
	var spki subjectPublicKeyInfo
	spki.Algorithm.Algorithm = oidECPublicKey
	spki.Algorithm.Parameters = asn1.RawValue{FullBytes: params}
	point := crypto.FromECDSAPub(&key.PublicKey)
	spki.PublicKey = asn1.BitString{Bytes: point, BitLength: len(point) * 8}
	der, err := asn1.Marshal(spki)
	require.NoError(f.t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func reply(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func (f *fakeTransit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := strings.TrimPrefix(r.URL.Path, "/v1/")
	switch {
	case path == "sys/mounts" && r.Method == http.MethodGet:
		mounts := map[string]interface{}{"secret/": map[string]interface{}{"type": "kv"}}
		if f.mounted {
			mounts["transit/"] = map[string]interface{}{"type": "transit"}
		}
		reply(w, mounts)
	case path == "sys/mounts/transit":
		f.mounted = true
		w.WriteHeader(http.StatusNoContent)
	case path == "transit/keys" && r.URL.Query().Get("list") == "true":
		names := []string{}
		for name := range f.keys {
			names = append(names, name)
		}
		reply(w, map[string]interface{}{"keys": names})
	case strings.HasPrefix(path, "transit/keys/") && r.Method == http.MethodGet:
		key, ok := f.keys[strings.TrimPrefix(path, "transit/keys/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		reply(w, map[string]interface{}{
			"latest_version": 1,
			"keys":           map[string]interface{}{"1": map[string]interface{}{"public_key": f.publicKeyPEM(key)}},
		})
	case strings.HasPrefix(path, "transit/keys/"):
		key, err := crypto.GenerateKey()
		require.NoError(f.t, err)
		f.keys[strings.TrimPrefix(path, "transit/keys/")] = key
		w.WriteHeader(http.StatusNoContent)
	case strings.HasPrefix(path, "transit/sign/"):
		var body struct {
			Input     string `json:"input"`
			Prehashed bool   `json:"prehashed"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(f.t, body.Prehashed)
		digest, err := base64.StdEncoding.DecodeString(body.Input)
		require.NoError(f.t, err)
		sig, err := crypto.Sign(digest, f.keys[strings.TrimPrefix(path, "transit/sign/")])
		require.NoError(f.t, err)
		// return the high-S form, as a generic ECDSA signer may
		s := new(big.Int).Sub(crypto.S256().Params().N, new(big.Int).SetBytes(sig[32:64]))
		der, err := asn1.Marshal(ecdsaSignature{R: new(big.Int).SetBytes(sig[:32]), S: s})
		require.NoError(f.t, err)
		reply(w, map[string]interface{}{"signature": "vault:v1:" + base64.StdEncoding.EncodeToString(der)})
	default:
		f.t.Errorf("unexpected vault request %s %s", r.Method, r.URL)
		w.WriteHeader(http.StatusNotFound)
	}
}

func newVaultClient(t *testing.T, handler http.Handler) *api.Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := api.DefaultConfig()
	cfg.Address = srv.URL
	cfg.MaxRetries = 0
	client, err := api.NewClient(cfg)
	require.NoError(t, err)
	client.SetToken("test-token")
	return client
}

func TestVaultKeyManager(t *testing.T) {
	existing, err := crypto.GenerateKey()
	require.NoError(t, err)
	fake := &fakeTransit{t: t, keys: map[string]*ecdsa.PrivateKey{"eth-key-existing": existing}}
	km, err := NewVaultKeyManager(context.Background(), newVaultClient(t, fake), "/transit/")
	require.NoError(t, err)
	assert.True(t, fake.mounted)

	addr := crypto.PubkeyToAddress(existing.PublicKey)
	assert.Contains(t, km.GetAccounts(), addr)

	for _, tx := range []*types.Transaction{dynamicTx(), legacyTx()} {
		signed, err := km.SignTx(addr, tx, chainID)
		require.NoError(t, err)
		sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
		require.NoError(t, err)
		assert.Equal(t, addr, sender)
	}

	created, err := km.CreateKey()
	require.NoError(t, err)
	assert.Len(t, km.GetAccounts(), 2)
	signed, err := km.SignTx(created, legacyTx(), chainID)
	require.NoError(t, err)
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, created, sender)

	_, err = km.SignTx(common.HexToAddress("0x09"), legacyTx(), chainID)
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	_, err := parsePublicKey("not pem")
	assert.Error(t, err)
	_, err = parsePublicKey(string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: []byte{1, 2, 3}})))
	assert.Error(t, err)
}
