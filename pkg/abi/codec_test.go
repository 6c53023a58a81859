package abi

import (
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func word(hexStr string) string {
	return strings.Repeat("0", 64-len(hexStr)) + hexStr
}

func TestEncodeStringAndUint(t *testing.T) {
	enc, err := Encode(NewString("abc"), NewUint64(5))
	require.NoError(t, err)

	expected := word("40") + word("5") + word("3") + "616263" + strings.Repeat("0", 58)
	assert.Equal(t, expected, hex.EncodeToString(enc))
	assert.Len(t, enc, 4*32)
}

func TestRoundTripAllKinds(t *testing.T) {
	addr := common.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	values := []Value{
		NewAddress(addr),
		NewUint(8, big.NewInt(255)),
		NewUint256(MaxUint256()),
		NewInt(8, big.NewInt(-128)),
		NewInt(256, big.NewInt(-1)),
		NewBool(true),
		NewBool(false),
		NewFixedBytes([]byte{0xde, 0xad, 0xbe, 0xef}),
		NewBytes([]byte{}),
		NewBytes([]byte(strings.Repeat("x", 33))),
		NewString(""),
		NewString("héllo wörld"),
		NewArray(Uint256Type, NewUint64(1), NewUint64(2)),
		NewArray(StringType, NewString("a"), NewString("bc")),
		NewSlice(AddressType, NewAddress(addr), NewAddress(common.Address{})),
		NewSlice(StringType),
		NewSlice(SliceOf(Uint8Type), NewSlice(Uint8Type, NewUint(8, big.NewInt(7))), NewSlice(Uint8Type)),
	}
	types := make([]Type, len(values))
	for i, v := range values {
		types[i] = v.Type()
	}

	enc, err := Encode(values...)
	require.NoError(t, err)
	assert.Zero(t, len(enc)%32)

	decoded, err := Decode(enc, types...)
	require.NoError(t, err)
	require.Len(t, decoded, len(values))
	for i := range values {
		assert.True(t, values[i].Equal(decoded[i]), "value %d: %s != %s", i, values[i], decoded[i])
	}
}

func TestStaticArrayInlineInHead(t *testing.T) {
	enc, err := Encode(NewArray(Uint256Type, NewUint64(1), NewUint64(2)), NewBool(true))
	require.NoError(t, err)
	assert.Equal(t, word("1")+word("2")+word("1"), hex.EncodeToString(enc))
}

func TestSignedEncoding(t *testing.T) {
	enc, err := Encode(NewInt(8, big.NewInt(-1)))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("f", 64), hex.EncodeToString(enc))
}

func TestEncodeOutOfRange(t *testing.T) {
	for name, v := range map[string]Value{
		"uint8 overflow":    NewUint(8, big.NewInt(256)),
		"negative uint":     NewUint256(big.NewInt(-1)),
		"int8 overflow":     NewInt(8, big.NewInt(128)),
		"int8 underflow":    NewInt(8, big.NewInt(-129)),
		"fixed bytes width": {typ: FixedBytesType(4), raw: []byte{1}},
	} {
		_, err := Encode(v)
		assert.Error(t, err, name)
	}
}

func TestEncodeNilInteger(t *testing.T) {
	for _, v := range []Value{NewUint256(nil), NewInt(64, nil)} {
		assert.Nil(t, v.BigInt())
		_, err := Encode(v)
		assert.ErrorIs(t, err, ErrArgumentMismatch)
	}
	assert.True(t, NewUint256(nil).Equal(NewUint256(nil)))
	assert.False(t, NewUint256(nil).Equal(NewUint256(big.NewInt(0))))
}

func TestDecodeMalformed(t *testing.T) {
	mustHex := func(s string) []byte {
		b, err := hex.DecodeString(s)
		require.NoError(t, err)
		return b
	}
	for name, tc := range map[string]struct {
		data  []byte
		types []Type
	}{
		"short word":         {mustHex("0001"), []Type{Uint256Type}},
		"empty":              {nil, []Type{AddressType}},
		"offset beyond data": {mustHex(word("ff")), []Type{StringType}},
		"length beyond data": {mustHex(word("20") + word("40") + word("0")), []Type{BytesType}},
		"bool not 0 or 1":    {mustHex(word("2")), []Type{BoolType}},
		"address padding":    {mustHex("01" + strings.Repeat("0", 62) + "1"), []Type{AddressType}},
		"uint8 too wide":     {mustHex(word("100")), []Type{Uint8Type}},
		"invalid utf8":       {mustHex(word("20") + word("1") + "ff" + strings.Repeat("0", 62)), []Type{StringType}},
		"huge slice length":  {mustHex(word("20") + word("ffffffff")), []Type{SliceOf(Uint256Type)}},
		"fixed array short":  {mustHex(word("1")), []Type{ArrayOf(Uint256Type, 2)}},
	} {
		_, err := Decode(tc.data, tc.types...)
		assert.ErrorIs(t, err, ErrMalformedABIData, name)
	}
}

func TestParseType(t *testing.T) {
	for in, want := range map[string]string{
		"uint":           "uint256",
		"int":            "int256",
		"byte":           "bytes1",
		"address":        "address",
		"bytes32":        "bytes32",
		"uint8[]":        "uint8[]",
		"uint256[2][]":   "uint256[2][]",
		" string[3] ":    "string[3]",
		"bool[][2]":      "bool[][2]",
		"int24":          "int24",
		"bytes":          "bytes",
	} {
		typ, err := ParseType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, typ.String())
	}

	nested := MustParseType("uint256[2][]")
	assert.Equal(t, SliceKind, nested.Kind)
	assert.Equal(t, ArrayKind, nested.Elem.Kind)
	assert.Equal(t, 2, nested.Elem.Size)
	assert.True(t, nested.IsDynamic())
	assert.False(t, MustParseType("uint256[2]").IsDynamic())
	assert.True(t, MustParseType("string[2]").IsDynamic())

	for _, bad := range []string{"uint7", "uint264", "bytes33", "bytes0", "tuple", "foo", "uint[0]", "[]", "uint[x]"} {
		_, err := ParseType(bad)
		assert.Error(t, err, bad)
	}
}

func TestValueOf(t *testing.T) {
	v, err := ValueOf(Uint256Type, "1000")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), v.BigInt().Int64())

	v, err = ValueOf(Uint256Type, "0x10")
	require.NoError(t, err)
	assert.Equal(t, int64(16), v.BigInt().Int64())

	v, err = ValueOf(Uint256Type, float64(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), v.BigInt().Int64())

	_, err = ValueOf(Uint256Type, 1.5)
	assert.Error(t, err)

	_, err = ValueOf(Uint8Type, 300)
	assert.Error(t, err)

	v, err = ValueOf(AddressType, "0x5b38da6a701c568545dcfcb03fcb875f56beddc4")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4"), v.Address())

	_, err = ValueOf(AddressType, "0x1234")
	assert.Error(t, err)

	v, err = ValueOf(MustParseType("uint256[]"), []any{"1", float64(2)})
	require.NoError(t, err)
	assert.Len(t, v.Elems(), 2)

	_, err = ValueOf(MustParseType("uint256[3]"), []any{"1"})
	assert.Error(t, err)

	v, err = ValueOf(Bytes32Type, "0x"+strings.Repeat("ab", 32))
	require.NoError(t, err)
	assert.Len(t, v.Bytes(), 32)

	v, err = ValueOf(BoolType, "TRUE")
	require.NoError(t, err)
	assert.True(t, v.Bool())
}

func TestValueJSON(t *testing.T) {
	v := NewSlice(Uint256Type, NewUint64(1), NewUint256(MaxUint256()))
	b, err := v.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `["1","115792089237316195423570985008687907853269984665640564039457584007913129639935"]`, string(b))

	b, err = NewBytes([]byte{1, 2}).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"0x0102"`, string(b))

	b, err = NewBool(true).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `true`, string(b))
}
