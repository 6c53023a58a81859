package ethrpc

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	BlockLatest  = "latest"
	BlockPending = "pending"
)

// BlockTag renders a block number as a JSON-RPC block parameter. nil is latest.
func BlockTag(n *big.Int) string {
	if n == nil {
		return BlockLatest
	}
	return hexutil.EncodeBig(n)
}

// CallMsg is the transaction object of eth_call and eth_estimateGas.
type CallMsg struct {
	From     *common.Address `json:"from,omitempty"`
	To       *common.Address `json:"to,omitempty"`
	Gas      *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Data     hexutil.Bytes   `json:"data,omitempty"`
}

// Log is an event log as returned by eth_getLogs and inside receipts.
type Log struct {
	Address          common.Address `json:"address"`
	Topics           []common.Hash  `json:"topics"`
	Data             hexutil.Bytes  `json:"data"`
	BlockNumber      hexutil.Uint64 `json:"blockNumber"`
	BlockHash        common.Hash    `json:"blockHash"`
	TransactionHash  common.Hash    `json:"transactionHash"`
	TransactionIndex hexutil.Uint   `json:"transactionIndex"`
	LogIndex         hexutil.Uint   `json:"logIndex"`
	Removed          bool           `json:"removed"`
}

// Receipt is the eth_getTransactionReceipt result.
type Receipt struct {
	TransactionHash   common.Hash     `json:"transactionHash"`
	TransactionIndex  hexutil.Uint64  `json:"transactionIndex"`
	BlockHash         common.Hash     `json:"blockHash"`
	BlockNumber       hexutil.Uint64  `json:"blockNumber"`
	From              common.Address  `json:"from"`
	To                *common.Address `json:"to"`
	GasUsed           hexutil.Uint64  `json:"gasUsed"`
	CumulativeGasUsed hexutil.Uint64  `json:"cumulativeGasUsed"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice,omitempty"`
	ContractAddress   *common.Address `json:"contractAddress"`
	Status            hexutil.Uint64  `json:"status"`
	Logs              []*Log          `json:"logs"`
	RevertReason      hexutil.Bytes   `json:"revertReason,omitempty"`
}

func (r *Receipt) Succeeded() bool {
	return r.Status == 1
}

// FilterSpec is the eth_getLogs / eth_subscribe("logs") filter object.
// Each Topics slot matches any of its hashes; an empty slot is a wildcard.
// A nil ToBlock means latest.
type FilterSpec struct {
	Addresses []common.Address
	Topics    [][]common.Hash
	FromBlock uint64
	ToBlock   *uint64
}

type filterJSON struct {
	Address   []common.Address  `json:"address,omitempty"`
	Topics    []json.RawMessage `json:"topics,omitempty"`
	FromBlock string            `json:"fromBlock,omitempty"`
	ToBlock   string            `json:"toBlock,omitempty"`
}

// Range returns a copy of the filter restricted to [from, to].
func (f FilterSpec) Range(from, to uint64) FilterSpec {
	f.FromBlock = from
	f.ToBlock = &to
	return f
}

func (f FilterSpec) MarshalJSON() ([]byte, error) {
	out := filterJSON{
		Address:   f.Addresses,
		FromBlock: hexutil.EncodeUint64(f.FromBlock),
		ToBlock:   BlockLatest,
	}
	if f.ToBlock != nil {
		out.ToBlock = hexutil.EncodeUint64(*f.ToBlock)
	}
	for _, slot := range f.Topics {
		var raw []byte
		var err error
		switch len(slot) {
		case 0:
			raw = []byte("null")
		case 1:
			raw, err = json.Marshal(slot[0])
		default:
			raw, err = json.Marshal(slot)
		}
		if err != nil {
			return nil, err
		}
		out.Topics = append(out.Topics, raw)
	}
	return json.Marshal(out)
}

func (f *FilterSpec) UnmarshalJSON(b []byte) error {
	var in filterJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*f = FilterSpec{Addresses: in.Address}
	if in.FromBlock != "" && in.FromBlock != "earliest" {
		n, err := hexutil.DecodeUint64(in.FromBlock)
		if err != nil {
			return fmt.Errorf("fromBlock: %w", err)
		}
		f.FromBlock = n
	}
	if in.ToBlock != "" && in.ToBlock != BlockLatest {
		n, err := hexutil.DecodeUint64(in.ToBlock)
		if err != nil {
			return fmt.Errorf("toBlock: %w", err)
		}
		f.ToBlock = &n
	}
	for _, raw := range in.Topics {
		var slot []common.Hash
		switch {
		case string(raw) == "null":
		case len(raw) > 0 && raw[0] == '[':
			if err := json.Unmarshal(raw, &slot); err != nil {
				return err
			}
		default:
			var h common.Hash
			if err := json.Unmarshal(raw, &h); err != nil {
				return err
			}
			slot = []common.Hash{h}
		}
		f.Topics = append(f.Topics, slot)
	}
	return nil
}
