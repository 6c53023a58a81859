package ethrpc

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testToken  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testSender = common.HexToAddress("0x2000000000000000000000000000000000000002")
	testTxHash = common.HexToHash("0xabcdef")
)

type revertErr struct{ data string }

func (e *revertErr) Error() string          { return "execution reverted" }
func (e *revertErr) ErrorCode() int         { return 3 }
func (e *revertErr) ErrorData() interface{} { return e.data }

// testEthService is served in-process under the "eth" namespace.
type testEthService struct {
	lastFilter FilterSpec
	logs       []*Log
}

func (s *testEthService) ChainId() hexutil.Big { return hexutil.Big(*big.NewInt(1337)) }

func (s *testEthService) BlockNumber() hexutil.Uint64 { return 42 }

func (s *testEthService) GasPrice() *hexutil.Big { return (*hexutil.Big)(big.NewInt(1_000_000_000)) }

func (s *testEthService) EstimateGas(msg CallMsg) (hexutil.Uint64, error) {
	if msg.To == nil {
		return 0, errors.New("no recipient")
	}
	return 21000, nil
}

func (s *testEthService) Call(msg CallMsg, block string) (hexutil.Bytes, error) {
	if block != BlockLatest {
		return nil, errors.New("unexpected block " + block)
	}
	if len(msg.Data) == 0 {
		return nil, &revertErr{data: "0x08c379a0"}
	}
	return hexutil.Bytes{0x01, 0x02}, nil
}

func (s *testEthService) GetTransactionCount(addr common.Address, block string) (hexutil.Uint64, error) {
	if addr != testSender || block != BlockPending {
		return 0, errors.New("unexpected request")
	}
	return 7, nil
}

func (s *testEthService) SendRawTransaction(raw hexutil.Bytes) (common.Hash, error) {
	return testTxHash, nil
}

func (s *testEthService) GetTransactionReceipt(hash common.Hash) (*Receipt, error) {
	if hash != testTxHash {
		return nil, nil
	}
	return &Receipt{TransactionHash: hash, BlockNumber: 10, Status: 1, GasUsed: 21000,
		Logs: []*Log{{Address: testToken, Topics: []common.Hash{{0x01}}, BlockNumber: 10}}}, nil
}

func (s *testEthService) GetLogs(spec FilterSpec) ([]*Log, error) {
	s.lastFilter = spec
	return s.logs, nil
}

func (s *testEthService) Logs(ctx context.Context, crit FilterSpec) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()
	go func() {
		for _, l := range s.logs {
			_ = notifier.Notify(sub.ID, l)
		}
	}()
	return sub, nil
}

func newTestClient(t *testing.T) (*Client, *testEthService) {
	svc := &testEthService{}
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", svc))
	rc := rpc.DialInProc(server)
	t.Cleanup(func() {
		rc.Close()
		server.Stop()
	})
	return NewClient(rc), svc
}

func TestClientQueries(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	chainID, err := c.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1337), chainID.Int64())

	block, err := c.BlockNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), block)

	price, err := c.GasPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000), price.Int64())

	gas, err := c.EstimateGas(ctx, CallMsg{To: &testToken})
	require.NoError(t, err)
	assert.Equal(t, uint64(21000), gas)

	nonce, err := c.GetTransactionCount(ctx, testSender, BlockPending)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), nonce)

	data, err := c.Call(ctx, CallMsg{To: &testToken, Data: []byte{0xaa}}, BlockLatest)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, data)
}

func TestClientReceipts(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	hash, err := c.SendRawTransaction(ctx, []byte{0xf8})
	require.NoError(t, err)
	assert.Equal(t, testTxHash, hash)

	receipt, err := c.GetTransactionReceipt(ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, uint64(10), uint64(receipt.BlockNumber))
	require.Len(t, receipt.Logs, 1)
	assert.Equal(t, testToken, receipt.Logs[0].Address)

	receipt, err = c.GetTransactionReceipt(ctx, common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestClientRevertData(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Call(context.Background(), CallMsg{To: &testToken}, BlockLatest)
	require.Error(t, err)

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, 3, rpcErr.Code)
	assert.Equal(t, "eth_call", rpcErr.Method)
	data, ok := RevertData(err)
	assert.True(t, ok)
	assert.Equal(t, []byte{0x08, 0xc3, 0x79, 0xa0}, data)
}

func TestClientTransportError(t *testing.T) {
	c := NewClient(failingTransport{})
	_, err := c.BlockNumber(context.Background())
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "eth_blockNumber", transportErr.Method)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewClient(canceledTransport{}).BlockNumber(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, c.SupportsSubscriptions())
}

type failingTransport struct{}

func (failingTransport) CallContext(context.Context, interface{}, string, ...interface{}) error {
	return errors.New("connection refused")
}

type canceledTransport struct{}

func (canceledTransport) CallContext(ctx context.Context, _ interface{}, _ string, _ ...interface{}) error {
	return ctx.Err()
}

func TestGetLogsFilterWire(t *testing.T) {
	c, svc := newTestClient(t)
	topic := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	to := uint64(20)
	spec := FilterSpec{
		Addresses: []common.Address{testToken},
		Topics:    [][]common.Hash{{topic}, nil, {common.HexToHash("0x01"), common.HexToHash("0x02")}},
		FromBlock: 5,
		ToBlock:   &to,
	}
	svc.logs = []*Log{{Address: testToken, BlockNumber: 6}}

	logs, err := c.GetLogs(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, spec, svc.lastFilter)
}

func TestFilterSpecJSON(t *testing.T) {
	b, err := json.Marshal(FilterSpec{FromBlock: 1, Topics: [][]common.Hash{{common.HexToHash("0x01")}, nil}})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"fromBlock":"0x1",
		"toBlock":"latest",
		"topics":["0x0000000000000000000000000000000000000000000000000000000000000001",null]
	}`, string(b))
}

func TestSubscribeLogs(t *testing.T) {
	c, svc := newTestClient(t)
	svc.logs = []*Log{{Address: testToken, BlockNumber: 1}, {Address: testToken, BlockNumber: 2}}
	require.True(t, c.SupportsSubscriptions())

	ch := make(chan *Log)
	sub, err := c.SubscribeLogs(context.Background(), FilterSpec{Addresses: []common.Address{testToken}}, ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	for i := uint64(1); i <= 2; i++ {
		select {
		case l := <-ch:
			assert.Equal(t, i, uint64(l.BlockNumber))
		case err := <-sub.Err():
			t.Fatal(err)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for notification")
		}
	}
}
