package abi

import (
	"errors"
	"fmt"
	"math/big"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
)

// ErrMalformedABIData is wrapped by every decoding failure.
var ErrMalformedABIData = errors.New("malformed ABI data")

var (
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	two256     = new(big.Int).Lsh(big.NewInt(1), 256)
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedABIData, fmt.Sprintf(format, args...))
}

// Encode encodes values as an ABI tuple (head followed by tail).
func Encode(values ...Value) ([]byte, error) {
	types := make([]Type, len(values))
	for i, v := range values {
		if err := v.typ.validate(); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		types[i] = v.typ
	}
	return encodeTuple(types, values)
}

// Decode decodes data as the ABI tuple described by types.
func Decode(data []byte, types ...Type) ([]Value, error) {
	for i, t := range types {
		if err := t.validate(); err != nil {
			return nil, fmt.Errorf("type %d: %w", i, err)
		}
	}
	return decodeTuple(data, types)
}

func encodeTuple(types []Type, values []Value) ([]byte, error) {
	headLen := 0
	for _, t := range types {
		headLen += t.headSize()
	}
	head := make([]byte, 0, headLen)
	var tail []byte
	for i, t := range types {
		if !values[i].typ.Equal(t) {
			return nil, fmt.Errorf("element %d: value of type %s where %s expected", i, values[i].typ, t)
		}
		enc, err := encodeValue(values[i])
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		if t.IsDynamic() {
			head = append(head, uintWord(uint64(headLen+len(tail)))...)
			tail = append(tail, enc...)
		} else {
			head = append(head, enc...)
		}
	}
	return append(head, tail...), nil
}

func encodeValue(v Value) ([]byte, error) {
	t := v.typ
	switch t.Kind {
	case AddressKind:
		return common.LeftPadBytes(v.addr.Bytes(), wordSize), nil
	case UintKind, IntKind:
		if v.num == nil {
			return nil, fmt.Errorf("%w: nil %s", ErrArgumentMismatch, t)
		}
		if err := checkIntRange(t, v.num); err != nil {
			return nil, err
		}
		n := v.num
		if n.Sign() < 0 {
			n = new(big.Int).Add(two256, n)
		}
		return common.LeftPadBytes(n.Bytes(), wordSize), nil
	case BoolKind:
		if v.flag {
			return uintWord(1), nil
		}
		return uintWord(0), nil
	case FixedBytesKind:
		if len(v.raw) != t.Size {
			return nil, fmt.Errorf("%s requires %d bytes, got %d", t, t.Size, len(v.raw))
		}
		return common.RightPadBytes(v.raw, wordSize), nil
	case BytesKind:
		return encodePacked(v.raw), nil
	case StringKind:
		return encodePacked([]byte(v.str)), nil
	case ArrayKind:
		if len(v.elems) != t.Size {
			return nil, fmt.Errorf("%s requires %d elements, got %d", t, t.Size, len(v.elems))
		}
		return encodeTuple(repeat(*t.Elem, t.Size), v.elems)
	case SliceKind:
		body, err := encodeTuple(repeat(*t.Elem, len(v.elems)), v.elems)
		if err != nil {
			return nil, err
		}
		return append(uintWord(uint64(len(v.elems))), body...), nil
	default:
		return nil, fmt.Errorf("cannot encode %s", t)
	}
}

func checkIntRange(t Type, n *big.Int) error {
	if t.Kind == UintKind {
		if n.Sign() < 0 || n.BitLen() > t.Size {
			return fmt.Errorf("value %s out of range for %s", n, t)
		}
		return nil
	}
	limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
	if n.Cmp(limit) >= 0 || n.Cmp(new(big.Int).Neg(limit)) < 0 {
		return fmt.Errorf("value %s out of range for %s", n, t)
	}
	return nil
}

// encodePacked is the length word followed by b right padded to a word boundary.
func encodePacked(b []byte) []byte {
	out := uintWord(uint64(len(b)))
	padded := (len(b) + wordSize - 1) / wordSize * wordSize
	return append(out, common.RightPadBytes(b, padded)...)
}

func uintWord(n uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(n).Bytes(), wordSize)
}

func repeat(t Type, n int) []Type {
	out := make([]Type, n)
	for i := range out {
		out[i] = t
	}
	return out
}

func decodeTuple(data []byte, types []Type) ([]Value, error) {
	values := make([]Value, len(types))
	pos := 0
	for i, t := range types {
		var err error
		if t.IsDynamic() {
			var off int
			if off, err = readOffset(data, pos); err != nil {
				return nil, err
			}
			values[i], err = decodeValue(data[off:], t)
			pos += wordSize
		} else {
			if pos > len(data) {
				return nil, malformed("element %d at offset %d beyond %d bytes", i, pos, len(data))
			}
			values[i], err = decodeValue(data[pos:], t)
			pos += t.headSize()
		}
		if err != nil {
			return nil, err
		}
	}
	return values, nil
}

// readOffset reads the word at pos as a position inside data.
func readOffset(data []byte, pos int) (int, error) {
	word, err := readWord(data, pos)
	if err != nil {
		return 0, err
	}
	n := new(big.Int).SetBytes(word)
	if !n.IsUint64() || n.Uint64() > uint64(len(data)) {
		return 0, malformed("offset %s outside %d byte buffer", n, len(data))
	}
	return int(n.Uint64()), nil
}

func readWord(data []byte, pos int) ([]byte, error) {
	if pos < 0 || pos+wordSize > len(data) {
		return nil, malformed("need %d bytes at offset %d, have %d", wordSize, pos, len(data))
	}
	return data[pos : pos+wordSize], nil
}

func readLength(data []byte) (int, error) {
	word, err := readWord(data, 0)
	if err != nil {
		return 0, err
	}
	n := new(big.Int).SetBytes(word)
	if !n.IsUint64() || n.Uint64() > uint64(len(data)-wordSize) {
		return 0, malformed("length %s exceeds remaining %d bytes", n, len(data)-wordSize)
	}
	return int(n.Uint64()), nil
}

func decodeValue(data []byte, t Type) (Value, error) {
	switch t.Kind {
	case AddressKind:
		word, err := readWord(data, 0)
		if err != nil {
			return Value{}, err
		}
		for _, b := range word[:12] {
			if b != 0 {
				return Value{}, malformed("address with non-zero padding")
			}
		}
		return NewAddress(common.BytesToAddress(word[12:])), nil
	case UintKind, IntKind:
		word, err := readWord(data, 0)
		if err != nil {
			return Value{}, err
		}
		n := new(big.Int).SetBytes(word)
		if t.Kind == IntKind && word[0]&0x80 != 0 {
			n.Sub(n, two256)
		}
		if err := checkIntRange(t, n); err != nil {
			return Value{}, malformed("%v", err)
		}
		return Value{typ: t, num: n}, nil
	case BoolKind:
		word, err := readWord(data, 0)
		if err != nil {
			return Value{}, err
		}
		n := new(big.Int).SetBytes(word)
		if n.Cmp(big.NewInt(1)) > 0 {
			return Value{}, malformed("bool word %s is not 0 or 1", n)
		}
		return NewBool(n.Sign() == 1), nil
	case FixedBytesKind:
		word, err := readWord(data, 0)
		if err != nil {
			return Value{}, err
		}
		return NewFixedBytes(word[:t.Size]), nil
	case BytesKind, StringKind:
		l, err := readLength(data)
		if err != nil {
			return Value{}, err
		}
		payload := data[wordSize : wordSize+l]
		if t.Kind == BytesKind {
			return NewBytes(payload), nil
		}
		if !utf8.Valid(payload) {
			return Value{}, malformed("string is not valid UTF-8")
		}
		return NewString(string(payload)), nil
	case ArrayKind:
		elems, err := decodeTuple(data, repeat(*t.Elem, t.Size))
		if err != nil {
			return Value{}, err
		}
		return Value{typ: t, elems: elems}, nil
	case SliceKind:
		n, err := readLength(data)
		if err != nil {
			return Value{}, err
		}
		body := data[wordSize:]
		if n*t.Elem.headSize() > len(body) {
			return Value{}, malformed("%d elements of %s exceed remaining %d bytes", n, t.Elem, len(body))
		}
		elems, err := decodeTuple(body, repeat(*t.Elem, n))
		if err != nil {
			return Value{}, err
		}
		return Value{typ: t, elems: elems}, nil
	default:
		return Value{}, fmt.Errorf("cannot decode %s", t)
	}
}

// MaxUint256 returns 2^256-1.
func MaxUint256() *big.Int { return new(big.Int).Set(maxUint256) }
