package eventstore

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xueqianLu/ethcontract/pkg/abi"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc"
	"github.com/xueqianLu/ethcontract/pkg/events"
)

func openTestStore(t *testing.T) *Store {
	name := strings.ReplaceAll(t.Name(), "/", "_")
	s, err := Open(context.Background(), "sqlite", "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(event string, block uint64, tx byte, index uint, value int64) *events.Record {
	return &events.Record{
		Event: event,
		Fields: []events.Field{
			{Name: "from", Value: abi.NewAddress(common.HexToAddress("0xa1")), Indexed: true},
			{Name: "value", Value: abi.NewUint256(big.NewInt(value))},
		},
		Log: &ethrpc.Log{
			Address:         common.HexToAddress("0x10"),
			BlockNumber:     hexutil.Uint64(block),
			TransactionHash: common.Hash{tx},
			LogIndex:        hexutil.Uint(index),
		},
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.Save(ctx, "erc20", []*events.Record{
		record("Transfer", 5, 1, 0, 10),
		record("Transfer", 5, 1, 1, 20),
		record("Approval", 7, 2, 0, 30),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.Save(ctx, "erc20", []*events.Record{
		record("Transfer", 5, 1, 1, 20),
		record("Transfer", 9, 3, 0, 40),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Save(ctx, "erc20", []*events.Record{{Event: "Transfer"}})
	require.NoError(t, err)
	assert.Zero(t, n)

	transfers, err := s.Find(ctx, Query{Contract: "erc20", Event: "Transfer"})
	require.NoError(t, err)
	require.Len(t, transfers, 3)
	assert.Equal(t, uint64(9), transfers[0].BlockNumber)
	assert.Equal(t, uint(1), transfers[1].LogIndex)
	assert.Contains(t, string(transfers[1].Args), `"value":"20"`)

	all, err := s.Find(ctx, Query{Contract: "erc20", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := s.Find(ctx, Query{Contract: "storage"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCheckpoints(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LoadCheckpoint(ctx, "erc20", "Transfer")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveCheckpoint(ctx, "erc20", "Transfer", 100))
	require.NoError(t, s.SaveCheckpoint(ctx, "erc20", "Transfer", 250))
	require.NoError(t, s.SaveCheckpoint(ctx, "erc20", "Approval", 7))

	next, ok, err := s.LoadCheckpoint(ctx, "erc20", "Transfer")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(250), next)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "postgres", "")
	assert.ErrorContains(t, err, "unsupported")
}
