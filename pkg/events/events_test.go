package events

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xueqianLu/ethcontract/pkg/abi"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc"
)

var (
	tokenAddr = common.HexToAddress("0x1000000000000000000000000000000000000001")
	alice     = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob       = common.HexToAddress("0xb0b0000000000000000000000000000000000002")

	transferEvent = &abi.Event{Name: "Transfer", Inputs: []abi.Param{
		{Name: "from", Type: abi.AddressType, Indexed: true},
		{Name: "to", Type: abi.AddressType, Indexed: true},
		{Name: "value", Type: abi.Uint256Type},
	}}
	approvalEvent = &abi.Event{Name: "Approval", Inputs: []abi.Param{
		{Name: "owner", Type: abi.AddressType, Indexed: true},
		{Name: "spender", Type: abi.AddressType, Indexed: true},
		{Name: "value", Type: abi.Uint256Type},
	}}
	noteEvent = &abi.Event{Name: "Note", Inputs: []abi.Param{
		{Name: "tag", Type: abi.StringType, Indexed: true},
		{Name: "id", Type: abi.UintType(64), Indexed: true},
		{Name: "body", Type: abi.StringType},
	}}
)

func transferLog(t *testing.T, from, to common.Address, value int64, block uint64) *ethrpc.Log {
	data, err := abi.Encode(abi.NewUint256(big.NewInt(value)))
	require.NoError(t, err)
	return &ethrpc.Log{
		Address:     tokenAddr,
		Topics:      []common.Hash{transferEvent.Topic(), common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:        data,
		BlockNumber: hexutil.Uint64(block),
	}
}

func TestDecodeTransfer(t *testing.T) {
	rec, err := Decode(transferEvent, transferLog(t, alice, bob, 500, 7))
	require.NoError(t, err)

	assert.Equal(t, "Transfer", rec.Event)
	require.Len(t, rec.Fields, 3)
	assert.Equal(t, "from", rec.Fields[0].Name)
	assert.True(t, rec.Fields[0].Indexed)
	assert.Equal(t, alice, rec.Fields[0].Value.Address())
	assert.Equal(t, bob, rec.Fields[1].Value.Address())
	assert.False(t, rec.Fields[2].Indexed)
	value, ok := rec.Get("value")
	require.True(t, ok)
	assert.Equal(t, int64(500), value.BigInt().Int64())
	_, ok = rec.Get("nope")
	assert.False(t, ok)

	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"event":"Transfer",
		"address":"0x1000000000000000000000000000000000000001",
		"blockNumber":7,
		"transactionHash":"0x0000000000000000000000000000000000000000000000000000000000000000",
		"logIndex":0,
		"args":{"from":"`+alice.Hex()+`","to":"`+bob.Hex()+`","value":"500"}
	}`, string(b))
}

func TestDecodeMismatch(t *testing.T) {
	l := transferLog(t, alice, bob, 1, 1)

	_, err := Decode(approvalEvent, l)
	assert.ErrorIs(t, err, ErrLogMismatch)

	short := *l
	short.Topics = l.Topics[:2]
	_, err = Decode(transferEvent, &short)
	assert.ErrorIs(t, err, ErrLogMismatch)

	badData := *l
	badData.Data = []byte{0x01}
	_, err = Decode(transferEvent, &badData)
	assert.ErrorIs(t, err, ErrLogMismatch)
	assert.ErrorIs(t, err, abi.ErrMalformedABIData)

	badTopic := *l
	badTopic.Topics = []common.Hash{l.Topics[0], common.HexToHash("0xff00000000000000000000000000000000000000000000000000000000000001"), l.Topics[2]}
	_, err = Decode(transferEvent, &badTopic)
	assert.ErrorIs(t, err, ErrLogMismatch)
}

func TestDecodeHashedIndexed(t *testing.T) {
	tag, err := TopicFor(abi.NewString("release"))
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash([]byte("release")), tag)

	id, err := TopicFor(abi.NewUint(64, big.NewInt(9)))
	require.NoError(t, err)
	data, err := abi.Encode(abi.NewString("hello"))
	require.NoError(t, err)

	rec, err := Decode(noteEvent, &ethrpc.Log{Topics: []common.Hash{noteEvent.Topic(), tag, id}, Data: data})
	require.NoError(t, err)
	assert.True(t, rec.Fields[0].Hashed)
	assert.Equal(t, tag.Bytes(), rec.Fields[0].Value.Bytes())
	assert.False(t, rec.Fields[1].Hashed)
	assert.Equal(t, uint64(9), rec.Fields[1].Value.BigInt().Uint64())
	body, _ := rec.Get("body")
	assert.Equal(t, "hello", body.Text())
}

func TestTopicForArrays(t *testing.T) {
	arr := abi.NewSlice(abi.Uint256Type, abi.NewUint64(1), abi.NewUint64(2))
	topic, err := TopicFor(arr)
	require.NoError(t, err)
	expected := crypto.Keccak256Hash(common.LeftPadBytes([]byte{1}, 32), common.LeftPadBytes([]byte{2}, 32))
	assert.Equal(t, expected, topic)

	strs := abi.NewArray(abi.StringType, abi.NewString("a"), abi.NewString("b"))
	topic, err = TopicFor(strs)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(common.RightPadBytes([]byte("a"), 32), common.RightPadBytes([]byte("b"), 32)), topic)
}

func TestBuildFilter(t *testing.T) {
	to := uint64(100)
	spec, err := BuildFilter(transferEvent, tokenAddr, 10, &to, Match("to", bob.Hex(), alice))
	require.NoError(t, err)
	assert.Equal(t, []common.Address{tokenAddr}, spec.Addresses)
	assert.Equal(t, uint64(10), spec.FromBlock)
	assert.Equal(t, &to, spec.ToBlock)
	require.Len(t, spec.Topics, 3)
	assert.Equal(t, []common.Hash{transferEvent.Topic()}, spec.Topics[0])
	assert.Empty(t, spec.Topics[1])
	assert.Equal(t, []common.Hash{common.BytesToHash(bob.Bytes()), common.BytesToHash(alice.Bytes())}, spec.Topics[2])

	spec, err = BuildFilter(transferEvent, common.Address{}, 0, nil, Match("from", alice))
	require.NoError(t, err)
	assert.Empty(t, spec.Addresses)
	assert.Len(t, spec.Topics, 2)

	spec, err = BuildFilter(transferEvent, tokenAddr, 0, nil)
	require.NoError(t, err)
	assert.Len(t, spec.Topics, 1)

	_, err = BuildFilter(transferEvent, tokenAddr, 0, nil, Match("value", 1))
	assert.ErrorContains(t, err, "no indexed parameter")
	_, err = BuildFilter(transferEvent, tokenAddr, 0, nil, Match("to", "not-an-address"))
	assert.Error(t, err)
}

func TestFromReceiptSkipsOtherLogs(t *testing.T) {
	approval := transferLog(t, alice, bob, 3, 1)
	approval.Topics[0] = approvalEvent.Topic()
	receipt := &ethrpc.Receipt{Logs: []*ethrpc.Log{
		transferLog(t, alice, bob, 1, 1),
		approval,
		{Address: tokenAddr},
		transferLog(t, bob, alice, 2, 1),
	}}
	records := FromReceipt(transferEvent, receipt)
	require.Len(t, records, 2)
	v, _ := records[1].Get("value")
	assert.Equal(t, int64(2), v.BigInt().Int64())

	approvals := FromReceipt(approvalEvent, receipt)
	assert.Len(t, approvals, 1)
}
