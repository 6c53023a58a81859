package events

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/xueqianLu/ethcontract/pkg/abi"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc"
)

// Constraint restricts an indexed event parameter to a set of values.
type Constraint struct {
	name   string
	values []any
}

// Match constrains the indexed parameter name to any of values. Values are
// converted with abi.ValueOf, so hex strings and native Go values work.
func Match(name string, values ...any) Constraint {
	return Constraint{name: name, values: values}
}

// BuildFilter returns the log filter for ev emitted by address (zero means
// any address) between from and to (nil means latest).
func BuildFilter(ev *abi.Event, address common.Address, from uint64, to *uint64, constraints ...Constraint) (*ethrpc.FilterSpec, error) {
	spec := &ethrpc.FilterSpec{FromBlock: from, ToBlock: to}
	if address != (common.Address{}) {
		spec.Addresses = []common.Address{address}
	}

	offset := 1
	if ev.Anonymous {
		offset = 0
	}
	indexed := ev.Indexed()
	topics := make([][]common.Hash, offset+len(indexed))
	if !ev.Anonymous {
		topics[0] = []common.Hash{ev.Topic()}
	}

	for _, c := range constraints {
		slot := -1
		for i, p := range indexed {
			if p.Name == c.name {
				slot = i
				break
			}
		}
		if slot < 0 {
			return nil, fmt.Errorf("event %s has no indexed parameter %q", ev.Name, c.name)
		}
		for _, raw := range c.values {
			v, err := abi.ValueOf(indexed[slot].Type, raw)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", ev.Name, c.name, err)
			}
			topic, err := TopicFor(v)
			if err != nil {
				return nil, err
			}
			topics[offset+slot] = append(topics[offset+slot], topic)
		}
	}

	for len(topics) > 0 && len(topics[len(topics)-1]) == 0 {
		topics = topics[:len(topics)-1]
	}
	spec.Topics = topics
	return spec, nil
}

// isHashed reports whether an indexed parameter of type t is stored as the
// keccak256 of its encoding rather than the value itself.
func isHashed(t abi.Type) bool {
	switch t.Kind {
	case abi.StringKind, abi.BytesKind, abi.ArrayKind, abi.SliceKind:
		return true
	default:
		return false
	}
}

// TopicFor returns the topic an indexed parameter with value v produces.
func TopicFor(v abi.Value) (common.Hash, error) {
	if !isHashed(v.Type()) {
		enc, err := abi.Encode(v)
		if err != nil {
			return common.Hash{}, err
		}
		return common.BytesToHash(enc), nil
	}
	enc, err := inPlace(v)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// inPlace is the padded encoding without length prefixes or offsets that
// Solidity hashes for indexed reference types.
func inPlace(v abi.Value) ([]byte, error) {
	switch v.Kind() {
	case abi.StringKind:
		return []byte(v.Text()), nil
	case abi.BytesKind:
		return v.Bytes(), nil
	case abi.ArrayKind, abi.SliceKind:
		var out []byte
		for _, e := range v.Elems() {
			enc, err := inPlace(e)
			if err != nil {
				return nil, err
			}
			if e.Kind() == abi.StringKind || e.Kind() == abi.BytesKind {
				padded := (len(enc) + 31) / 32 * 32
				enc = common.RightPadBytes(enc, padded)
			}
			out = append(out, enc...)
		}
		return out, nil
	default:
		return abi.Encode(v)
	}
}
