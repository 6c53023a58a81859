// Package client is a Go client for the ethcontract REST API.
package client

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	apiKeyHeader    = "X-API-Key"
	signatureHeader = "X-Signature"
	timestampHeader = "X-Timestamp"
)

// Event is a decoded contract event.
type Event struct {
	Event           string         `json:"event"`
	Args            map[string]any `json:"args"`
	Address         string         `json:"address"`
	BlockNumber     uint64         `json:"blockNumber"`
	TransactionHash string         `json:"transactionHash"`
	LogIndex        uint           `json:"logIndex"`
}

// TxResult describes a mined transaction.
type TxResult struct {
	Message         string  `json:"message"`
	TransactionHash string  `json:"transactionHash"`
	BlockNumber     uint64  `json:"blockNumber"`
	GasUsed         uint64  `json:"gasUsed"`
	Status          uint64  `json:"status"`
	ContractAddress string  `json:"contractAddress,omitempty"`
	Events          []Event `json:"events"`
}

type AccountsResponse struct {
	From     string   `json:"from"`
	Accounts []string `json:"accounts"`
}

// CreateAccountResponse represents the response for a new account creation.
type CreateAccountResponse struct {
	Address string `json:"address"`
}

type TokenInfo struct {
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	Decimals        uint8  `json:"decimals"`
	TotalSupply     string `json:"totalSupply"`
	ContractAddress string `json:"contractAddress"`
}

// StoredEvent is an event read back from the service's event store.
type StoredEvent struct {
	Contract        string          `json:"contract"`
	Event           string          `json:"event"`
	Address         string          `json:"address"`
	BlockNumber     uint64          `json:"blockNumber"`
	TransactionHash string          `json:"transactionHash"`
	LogIndex        uint            `json:"logIndex"`
	Args            json.RawMessage `json:"args"`
}

// SendOptions override gas and carry a value for generic sends. Amounts are
// wei in decimal or scientific notation.
type SendOptions struct {
	Value                string `json:"value,omitempty"`
	GasLimit             uint64 `json:"gasLimit,omitempty"`
	GasPrice             string `json:"gasPrice,omitempty"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
}

type invokeRequest struct {
	Args []any `json:"args"`
	SendOptions
}

// APIError is a non-2xx response. Reason and TransactionHash are set for
// reverted or unconfirmed transactions.
type APIError struct {
	StatusCode      int    `json:"-"`
	Message         string `json:"error"`
	Reason          string `json:"reason,omitempty"`
	TransactionHash string `json:"transactionHash,omitempty"`
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("request failed with status %d: %s (reason: %s)", e.StatusCode, e.Message, e.Reason)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

// Client is a client for the ethcontract service.
type Client struct {
	apiKey    string
	apiSecret string
	rest      *resty.Client
}

// NewClient creates a new client. Transaction endpoints wait for receipts,
// so the timeout is generous.
func NewClient(baseURL, apiKey, apiSecret string) *Client {
	return &Client{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		rest: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(3 * time.Minute).
			SetHeader("Content-Type", "application/json"),
	}
}

// SetTimeout changes the request timeout.
func (c *Client) SetTimeout(d time.Duration) *Client {
	c.rest.SetTimeout(d)
	return c
}

func (c *Client) calculateSignature(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) doRequest(ctx context.Context, method, path string, query map[string]string, data, result any) error {
	var body []byte
	if data != nil {
		var err error
		if body, err = json.Marshal(data); err != nil {
			return fmt.Errorf("failed to marshal request data: %w", err)
		}
	}
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	apiErr := &APIError{}
	req := c.rest.R().
		SetContext(ctx).
		SetHeader(apiKeyHeader, c.apiKey).
		SetHeader(timestampHeader, timestamp).
		SetHeader(signatureHeader, c.calculateSignature(timestamp, body)).
		SetQueryParams(query).
		SetError(apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = resp.String()
		}
		return apiErr
	}
	return nil
}

// Health checks the health of the service.
func (c *Client) Health(ctx context.Context) (string, error) {
	resp, err := c.rest.R().SetContext(ctx).Get("/health")
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("service returned non-OK status: %s, body: %s", resp.Status(), resp.String())
	}
	return resp.String(), nil
}

// GetAccounts lists the signer accounts and the sending account.
func (c *Client) GetAccounts(ctx context.Context) (*AccountsResponse, error) {
	var resp AccountsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/accounts", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateAccount requests the creation of a new account in the signer.
func (c *Client) CreateAccount(ctx context.Context) (*CreateAccountResponse, error) {
	var resp CreateAccountResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/accounts", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) transact(ctx context.Context, path string, query map[string]string) (*TxResult, error) {
	var res TxResult
	if err := c.doRequest(ctx, http.MethodPost, path, query, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Deploy(ctx context.Context, contract string) (*TxResult, error) {
	return c.transact(ctx, "/api/"+contract+"/deploy", nil)
}

func (c *Client) Load(ctx context.Context, contract, address string) error {
	return c.doRequest(ctx, http.MethodPost, "/api/"+contract+"/load", map[string]string{"address": address}, nil, nil)
}

func (c *Client) Address(ctx context.Context, contract string) (string, error) {
	var resp struct {
		Address string `json:"address"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/"+contract+"/address", nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.Address, nil
}

// Events queries the chain for past events of a bundled contract. A nil
// toBlock means the latest block.
func (c *Client) Events(ctx context.Context, contract, event string, fromBlock uint64, toBlock *uint64) ([]Event, error) {
	query := map[string]string{"name": event, "fromBlock": strconv.FormatUint(fromBlock, 10)}
	if toBlock != nil {
		query["toBlock"] = strconv.FormatUint(*toBlock, 10)
	}
	var resp struct {
		Events []Event `json:"events"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/"+contract+"/events", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// StoredEvents reads events persisted by the service's listener.
func (c *Client) StoredEvents(ctx context.Context, contract, event string, limit int) ([]StoredEvent, error) {
	query := map[string]string{}
	if event != "" {
		query["name"] = event
	}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	var resp struct {
		Events []StoredEvent `json:"events"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/"+contract+"/events/stored", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (c *Client) Mint(ctx context.Context, to string, amount *big.Int) (*TxResult, error) {
	return c.transact(ctx, "/api/erc20/mint", map[string]string{"to": to, "amount": amount.String()})
}

func (c *Client) Transfer(ctx context.Context, to string, amount *big.Int) (*TxResult, error) {
	return c.transact(ctx, "/api/erc20/transfer", map[string]string{"to": to, "amount": amount.String()})
}

func (c *Client) Approve(ctx context.Context, spender string, amount *big.Int) (*TxResult, error) {
	return c.transact(ctx, "/api/erc20/approve", map[string]string{"spender": spender, "amount": amount.String()})
}

func (c *Client) TransferFrom(ctx context.Context, from, to string, amount *big.Int) (*TxResult, error) {
	return c.transact(ctx, "/api/erc20/transferFrom", map[string]string{"from": from, "to": to, "amount": amount.String()})
}

func (c *Client) Burn(ctx context.Context, amount *big.Int) (*TxResult, error) {
	return c.transact(ctx, "/api/erc20/burn", map[string]string{"amount": amount.String()})
}

func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q in response", s)
	}
	return n, nil
}

func (c *Client) BalanceOf(ctx context.Context, account string) (*big.Int, error) {
	var resp struct {
		Balance string `json:"balance"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/erc20/balance", map[string]string{"account": account}, nil, &resp); err != nil {
		return nil, err
	}
	return parseAmount(resp.Balance)
}

func (c *Client) Allowance(ctx context.Context, owner, spender string) (*big.Int, error) {
	var resp struct {
		Allowance string `json:"allowance"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/erc20/allowance", map[string]string{"owner": owner, "spender": spender}, nil, &resp); err != nil {
		return nil, err
	}
	return parseAmount(resp.Allowance)
}

func (c *Client) TokenInfo(ctx context.Context) (*TokenInfo, error) {
	var info TokenInfo
	if err := c.doRequest(ctx, http.MethodGet, "/api/erc20/info", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) SetValue(ctx context.Context, value *big.Int) (*TxResult, error) {
	return c.transact(ctx, "/api/storage/set", map[string]string{"value": value.String()})
}

func (c *Client) GetValue(ctx context.Context) (*big.Int, error) {
	var resp struct {
		Value string `json:"value"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/storage/get", nil, nil, &resp); err != nil {
		return nil, err
	}
	return parseAmount(resp.Value)
}

// RegisterContract makes an already deployed contract callable by name.
func (c *Client) RegisterContract(ctx context.Context, name, address string, abiJSON json.RawMessage) error {
	req := map[string]any{"address": address, "abi": abiJSON}
	return c.doRequest(ctx, http.MethodPost, "/api/contracts/"+name, nil, req, nil)
}

// Call runs a read-only function of a named contract. Outputs come back in
// their JSON form: integers as decimal strings, addresses and bytes as hex.
func (c *Client) Call(ctx context.Context, contract, function string, args ...any) ([]any, error) {
	if args == nil {
		args = []any{}
	}
	var resp struct {
		Outputs []any `json:"outputs"`
	}
	path := fmt.Sprintf("/api/contracts/%s/call/%s", contract, function)
	if err := c.doRequest(ctx, http.MethodPost, path, nil, invokeRequest{Args: args}, &resp); err != nil {
		return nil, err
	}
	return resp.Outputs, nil
}

// Send submits a state changing function of a named contract and waits for
// it to be mined. opts may be nil.
func (c *Client) Send(ctx context.Context, contract, function string, opts *SendOptions, args ...any) (*TxResult, error) {
	if args == nil {
		args = []any{}
	}
	req := invokeRequest{Args: args}
	if opts != nil {
		req.SendOptions = *opts
	}
	var res TxResult
	path := fmt.Sprintf("/api/contracts/%s/send/%s", contract, function)
	if err := c.doRequest(ctx, http.MethodPost, path, nil, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
