package signer

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrUnknownAccount = errors.New("account not managed by this signer")

// KeyManager abstracts where signing keys live, either a local keystore or
// a remote service like Vault.
type KeyManager interface {
	// GetAccounts returns the managed addresses in ascending order.
	GetAccounts() []common.Address

	// CreateKey generates and persists a new key pair.
	CreateKey() (common.Address, error)

	// SignTx signs tx with the key of address using the latest signer for
	// chainID, covering legacy EIP-155 and dynamic fee transactions.
	SignTx(address common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}
