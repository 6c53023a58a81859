package handler

import (
	"encoding/json"

	"github.com/xueqianLu/ethcontract/internal/eventstore"
	"github.com/xueqianLu/ethcontract/pkg/events"
)

// ErrorResponse is the body of every failed request. TransactionHash is
// set when the failure concerns a submitted transaction.
type ErrorResponse struct {
	Error           string `json:"error"`
	Reason          string `json:"reason,omitempty"`
	TransactionHash string `json:"transactionHash,omitempty"`
}

type AccountsResponse struct {
	From     string   `json:"from"`
	Accounts []string `json:"accounts"`
}

type CreateAccountResponse struct {
	Address string `json:"address"`
}

type AddressResponse struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type ValueResponse struct {
	Value string `json:"value"`
}

type BalanceResponse struct {
	Account string `json:"account"`
	Balance string `json:"balance"`
}

type AllowanceResponse struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Allowance string `json:"allowance"`
}

type EventsResponse struct {
	Events []*events.Record `json:"events"`
}

type StoredEventsResponse struct {
	Events []*eventstore.Event `json:"events"`
}

// RegisterRequest registers an already deployed contract by ABI.
type RegisterRequest struct {
	Address string          `json:"address" binding:"required"`
	ABI     json.RawMessage `json:"abi" binding:"required"`
}

// InvokeRequest carries loosely typed function arguments and optional
// transaction overrides (decimal or scientific notation wei amounts).
type InvokeRequest struct {
	Args                 []any  `json:"args"`
	Value                string `json:"value,omitempty"`
	GasLimit             uint64 `json:"gasLimit,omitempty"`
	GasPrice             string `json:"gasPrice,omitempty"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
}

type CallResponse struct {
	Function string `json:"function"`
	Outputs  []any  `json:"outputs"`
}

type ContractInfo struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Bound   bool   `json:"bound"`
}

type ContractsResponse struct {
	Contracts []ContractInfo `json:"contracts"`
}
