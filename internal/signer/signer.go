package signer

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer fronts a KeyManager and fixes the account transactions are sent from.
type Signer struct {
	keyManager KeyManager
	from       common.Address
}

// NewSigner selects from as the sending account. An empty from picks the
// lowest managed address.
func NewSigner(keyManager KeyManager, from string) (*Signer, error) {
	accounts := keyManager.GetAccounts()
	s := &Signer{keyManager: keyManager}
	if from == "" {
		if len(accounts) == 0 {
			return nil, fmt.Errorf("no signing accounts available")
		}
		s.from = accounts[0]
		return s, nil
	}
	if !common.IsHexAddress(from) {
		return nil, fmt.Errorf("invalid sending account %q", from)
	}
	s.from = common.HexToAddress(from)
	for _, a := range accounts {
		if a == s.from {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, s.from.Hex())
}

// From returns the sending account.
func (s *Signer) From() common.Address {
	return s.from
}

// GetAccounts returns the list of accounts managed by the underlying KeyManager.
func (s *Signer) GetAccounts() []common.Address {
	return s.keyManager.GetAccounts()
}

// CreateKey creates a new account in the KeyManager and returns its address.
func (s *Signer) CreateKey() (common.Address, error) {
	return s.keyManager.CreateKey()
}

// SignTx signs a transaction with the specified account.
func (s *Signer) SignTx(address common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return s.keyManager.SignTx(address, tx, chainID)
}
