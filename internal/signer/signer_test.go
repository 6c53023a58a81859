package signer

import (
	"context"
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

var chainID = big.NewInt(1337)

func dynamicTx() *types.Transaction {
	to := common.HexToAddress("0x01")
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     3,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(10),
		Gas:       21000,
		To:        &to,
		Value:     big.NewInt(5),
	})
}

func legacyTx() *types.Transaction {
	to := common.HexToAddress("0x02")
	return types.NewTx(&types.LegacyTx{Nonce: 1, GasPrice: big.NewInt(1), Gas: 21000, To: &to})
}

func TestLocalKeyManagerPrivateKey(t *testing.T) {
	km, err := NewLocalKeyManager(context.Background(), "0x"+testKey, "", "")
	require.NoError(t, err)
	key, _ := crypto.HexToECDSA(testKey)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	assert.Equal(t, []common.Address{addr}, km.GetAccounts())

	for _, tx := range []*types.Transaction{dynamicTx(), legacyTx()} {
		signed, err := km.SignTx(addr, tx, chainID)
		require.NoError(t, err)
		sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
		require.NoError(t, err)
		assert.Equal(t, addr, sender)
	}

	_, err = km.SignTx(common.HexToAddress("0x03"), legacyTx(), chainID)
	assert.ErrorIs(t, err, ErrUnknownAccount)

	_, err = km.CreateKey()
	assert.ErrorContains(t, err, "no key directory")

	_, err = NewLocalKeyManager(context.Background(), "zz", "", "")
	assert.Error(t, err)
}

func TestLocalKeyManagerKeystore(t *testing.T) {
	dir := t.TempDir()
	km, err := NewLocalKeyManager(context.Background(), "", dir, "secret")
	require.NoError(t, err)
	km.scryptN, km.scryptP = keystore.LightScryptN, keystore.LightScryptP
	assert.Empty(t, km.GetAccounts())

	addr, err := km.CreateKey()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dir+"/garbage.json", []byte("{}"), 0600))

	reloaded, err := NewLocalKeyManager(context.Background(), "", dir, "secret")
	require.NoError(t, err)
	assert.Equal(t, []common.Address{addr}, reloaded.GetAccounts())

	wrongPassword, err := NewLocalKeyManager(context.Background(), "", dir, "nope")
	require.NoError(t, err)
	assert.Empty(t, wrongPassword.GetAccounts())
}

func TestSignerSelectsSendingAccount(t *testing.T) {
	km, err := NewLocalKeyManager(context.Background(), testKey, "", "")
	require.NoError(t, err)
	accounts := km.GetAccounts()

	s, err := NewSigner(km, "")
	require.NoError(t, err)
	assert.Equal(t, accounts[0], s.From())

	s, err = NewSigner(km, accounts[0].Hex())
	require.NoError(t, err)
	assert.Equal(t, accounts, s.GetAccounts())
	signed, err := s.SignTx(s.From(), legacyTx(), chainID)
	require.NoError(t, err)
	assert.NotNil(t, signed)

	_, err = NewSigner(km, "0x0000000000000000000000000000000000000009")
	assert.ErrorIs(t, err, ErrUnknownAccount)
	_, err = NewSigner(km, "bogus")
	assert.Error(t, err)

	empty, err := NewLocalKeyManager(context.Background(), "", "", "")
	require.NoError(t, err)
	_, err = NewSigner(empty, "")
	assert.Error(t, err)
}
