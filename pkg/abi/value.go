package abi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Value is a typed ABI value. The zero Value is invalid.
type Value struct {
	typ   Type
	addr  common.Address
	num   *big.Int
	flag  bool
	raw   []byte
	str   string
	elems []Value
}

func NewAddress(a common.Address) Value {
	return Value{typ: AddressType, addr: a}
}

// NewUint creates a uint<bits> value. Range is checked when encoding, and
// a nil x fails to encode with ErrArgumentMismatch.
func NewUint(bits int, x *big.Int) Value {
	return Value{typ: UintType(bits), num: copyInt(x)}
}

func NewUint256(x *big.Int) Value { return NewUint(256, x) }

func NewUint64(x uint64) Value { return NewUint(256, new(big.Int).SetUint64(x)) }

func NewInt(bits int, x *big.Int) Value {
	return Value{typ: IntType(bits), num: copyInt(x)}
}

func copyInt(x *big.Int) *big.Int {
	if x == nil {
		return nil
	}
	return new(big.Int).Set(x)
}

func NewBool(b bool) Value {
	return Value{typ: BoolType, flag: b}
}

// NewFixedBytes creates a bytes<len(b)> value.
func NewFixedBytes(b []byte) Value {
	return Value{typ: FixedBytesType(len(b)), raw: bytes.Clone(b)}
}

func NewBytes(b []byte) Value {
	return Value{typ: BytesType, raw: bytes.Clone(b)}
}

func NewString(s string) Value {
	return Value{typ: StringType, str: s}
}

// NewArray creates a fixed length elem[len(elems)] value.
func NewArray(elem Type, elems ...Value) Value {
	return Value{typ: ArrayOf(elem, len(elems)), elems: elems}
}

// NewSlice creates a dynamic length elem[] value.
func NewSlice(elem Type, elems ...Value) Value {
	return Value{typ: SliceOf(elem), elems: elems}
}

func (v Value) Type() Type { return v.typ }

func (v Value) Kind() Kind { return v.typ.Kind }

func (v Value) Address() common.Address { return v.addr }

// BigInt returns a copy of the numeric value, or nil for non-integer kinds.
func (v Value) BigInt() *big.Int {
	if v.num == nil {
		return nil
	}
	return new(big.Int).Set(v.num)
}

func (v Value) Bool() bool { return v.flag }

func (v Value) Bytes() []byte { return bytes.Clone(v.raw) }

func (v Value) Text() string { return v.str }

func (v Value) Elems() []Value { return v.elems }

// Interface returns the native Go form: common.Address, *big.Int, bool,
// []byte, string or []any for arrays.
func (v Value) Interface() any {
	switch v.typ.Kind {
	case AddressKind:
		return v.addr
	case UintKind, IntKind:
		return v.BigInt()
	case BoolKind:
		return v.flag
	case FixedBytesKind, BytesKind:
		return v.Bytes()
	case StringKind:
		return v.str
	case ArrayKind, SliceKind:
		out := make([]any, len(v.elems))
		for i, e := range v.elems {
			out[i] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

func (v Value) Equal(o Value) bool {
	if !v.typ.Equal(o.typ) {
		return false
	}
	switch v.typ.Kind {
	case AddressKind:
		return v.addr == o.addr
	case UintKind, IntKind:
		if v.num == nil || o.num == nil {
			return v.num == o.num
		}
		return v.num.Cmp(o.num) == 0
	case BoolKind:
		return v.flag == o.flag
	case FixedBytesKind, BytesKind:
		return bytes.Equal(v.raw, o.raw)
	case StringKind:
		return v.str == o.str
	case ArrayKind, SliceKind:
		if len(v.elems) != len(o.elems) {
			return false
		}
		for i := range v.elems {
			if !v.elems[i].Equal(o.elems[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.typ.Kind {
	case ArrayKind, SliceKind:
		parts := make([]string, len(v.elems))
		for i, e := range v.elems {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case AddressKind:
		return v.addr.Hex()
	case UintKind, IntKind:
		if v.num == nil {
			return "<nil>"
		}
		return v.num.String()
	case BoolKind:
		return fmt.Sprint(v.flag)
	case FixedBytesKind, BytesKind:
		return hexutil.Encode(v.raw)
	case StringKind:
		return v.str
	default:
		return "<invalid>"
	}
}

// MarshalJSON renders addresses as checksummed hex, integers as decimal
// strings and byte values as 0x hex.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.typ.Kind {
	case BoolKind:
		return json.Marshal(v.flag)
	case ArrayKind, SliceKind:
		elems := v.elems
		if elems == nil {
			elems = []Value{}
		}
		return json.Marshal(elems)
	case InvalidKind:
		return []byte("null"), nil
	default:
		return json.Marshal(v.String())
	}
}

// ValueOf converts a Go or JSON-decoded input to a Value of type t.
// Integers accept *big.Int, native ints, integral float64, json.Number and
// decimal or 0x strings. Addresses and byte types accept hex strings.
func ValueOf(t Type, in any) (Value, error) {
	if v, ok := in.(Value); ok {
		if !v.typ.Equal(t) {
			return Value{}, fmt.Errorf("value of type %s where %s expected", v.typ, t)
		}
		return v, nil
	}
	switch t.Kind {
	case AddressKind:
		a, err := toAddress(in)
		if err != nil {
			return Value{}, err
		}
		return NewAddress(a), nil
	case UintKind, IntKind:
		n, err := toBigInt(in)
		if err != nil {
			return Value{}, err
		}
		v := Value{typ: t, num: n}
		if err := checkIntRange(t, n); err != nil {
			return Value{}, err
		}
		return v, nil
	case BoolKind:
		switch b := in.(type) {
		case bool:
			return NewBool(b), nil
		case string:
			switch strings.ToLower(b) {
			case "true":
				return NewBool(true), nil
			case "false":
				return NewBool(false), nil
			}
		}
		return Value{}, fmt.Errorf("cannot convert %T to bool", in)
	case FixedBytesKind, BytesKind:
		b, err := toBytes(in)
		if err != nil {
			return Value{}, err
		}
		if t.Kind == FixedBytesKind && len(b) != t.Size {
			return Value{}, fmt.Errorf("%s requires %d bytes, got %d", t, t.Size, len(b))
		}
		return Value{typ: t, raw: b}, nil
	case StringKind:
		s, ok := in.(string)
		if !ok {
			return Value{}, fmt.Errorf("cannot convert %T to string", in)
		}
		return NewString(s), nil
	case ArrayKind, SliceKind:
		items, err := toItems(in)
		if err != nil {
			return Value{}, err
		}
		if t.Kind == ArrayKind && len(items) != t.Size {
			return Value{}, fmt.Errorf("%s requires %d elements, got %d", t, t.Size, len(items))
		}
		elems := make([]Value, len(items))
		for i, item := range items {
			if elems[i], err = ValueOf(*t.Elem, item); err != nil {
				return Value{}, fmt.Errorf("element %d: %w", i, err)
			}
		}
		return Value{typ: t, elems: elems}, nil
	default:
		return Value{}, fmt.Errorf("cannot convert to %s", t)
	}
}

func toAddress(in any) (common.Address, error) {
	switch a := in.(type) {
	case common.Address:
		return a, nil
	case *common.Address:
		if a != nil {
			return *a, nil
		}
	case string:
		if common.IsHexAddress(a) {
			return common.HexToAddress(a), nil
		}
		return common.Address{}, fmt.Errorf("invalid address %q", a)
	case []byte:
		if len(a) == common.AddressLength {
			return common.BytesToAddress(a), nil
		}
	}
	return common.Address{}, fmt.Errorf("cannot convert %T to address", in)
}

func toBigInt(in any) (*big.Int, error) {
	switch n := in.(type) {
	case *big.Int:
		if n != nil {
			return new(big.Int).Set(n), nil
		}
	case big.Int:
		return new(big.Int).Set(&n), nil
	case int:
		return big.NewInt(int64(n)), nil
	case int8:
		return big.NewInt(int64(n)), nil
	case int16:
		return big.NewInt(int64(n)), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case float64:
		f := new(big.Float).SetFloat64(n)
		if !f.IsInt() {
			return nil, fmt.Errorf("non-integer number %v", n)
		}
		i, _ := f.Int(nil)
		return i, nil
	case json.Number:
		return parseBigInt(string(n))
	case string:
		return parseBigInt(n)
	}
	return nil, fmt.Errorf("cannot convert %T to integer", in)
}

func parseBigInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	digits := strings.TrimPrefix(s, "-")
	base := 10
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		digits, base = digits[2:], 16
	}
	n, ok := new(big.Int).SetString(digits, base)
	if !ok || digits == "" {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	if neg {
		n.Neg(n)
	}
	return n, nil
}

func toBytes(in any) ([]byte, error) {
	switch b := in.(type) {
	case []byte:
		return bytes.Clone(b), nil
	case hexutil.Bytes:
		return bytes.Clone(b), nil
	case common.Hash:
		return b.Bytes(), nil
	case string:
		out, err := hexutil.Decode(b)
		if err != nil {
			return nil, fmt.Errorf("invalid hex bytes %q: %w", b, err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot convert %T to bytes", in)
}

func toItems(in any) ([]any, error) {
	switch items := in.(type) {
	case []any:
		return items, nil
	case []Value:
		out := make([]any, len(items))
		for i, v := range items {
			out[i] = v
		}
		return out, nil
	case []string:
		out := make([]any, len(items))
		for i, v := range items {
			out[i] = v
		}
		return out, nil
	case []*big.Int:
		out := make([]any, len(items))
		for i, v := range items {
			out[i] = v
		}
		return out, nil
	case []common.Address:
		out := make([]any, len(items))
		for i, v := range items {
			out[i] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot convert %T to array", in)
}
