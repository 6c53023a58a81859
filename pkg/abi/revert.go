package abi

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	errorStringSelector = []byte{0x08, 0xc3, 0x79, 0xa0} // Error(string)
	panicSelector       = []byte{0x4e, 0x48, 0x7b, 0x71} // Panic(uint256)
)

var panicReasons = map[uint64]string{
	0x01: "assert(false)",
	0x11: "arithmetic overflow or underflow",
	0x12: "division or modulo by zero",
	0x21: "invalid enum value",
	0x22: "invalid storage byte array",
	0x31: "pop on empty array",
	0x32: "array index out of bounds",
	0x41: "out of memory",
	0x51: "call to zero-initialized function",
}

// DecodeRevert renders revert data as a human readable reason. It handles
// Error(string) and Panic(uint256); ok is false for anything else.
func DecodeRevert(data []byte) (reason string, ok bool) {
	if len(data) < 4 {
		return "", false
	}
	switch {
	case bytes.Equal(data[:4], errorStringSelector):
		values, err := Decode(data[4:], StringType)
		if err != nil {
			return "", false
		}
		return values[0].Text(), true
	case bytes.Equal(data[:4], panicSelector):
		values, err := Decode(data[4:], Uint256Type)
		if err != nil {
			return "", false
		}
		code := values[0].BigInt()
		if desc, known := panicReasons[code.Uint64()]; known && code.IsUint64() {
			return fmt.Sprintf("panic 0x%x: %s", code, desc), true
		}
		return fmt.Sprintf("panic 0x%x", code), true
	}
	return "", false
}

// DecodeRevert also tries the custom errors declared by the ABI, rendering
// them as Name(arg1,arg2). Unknown data is returned as hex.
func (a *ABI) DecodeRevert(data []byte) string {
	if reason, ok := DecodeRevert(data); ok {
		return reason
	}
	if len(data) >= 4 {
		for _, e := range a.Errors {
			sel := e.Selector()
			if !bytes.Equal(data[:4], sel[:]) {
				continue
			}
			values, err := Decode(data[4:], paramTypes(e.Inputs)...)
			if err != nil {
				break
			}
			parts := make([]string, len(values))
			for i, v := range values {
				parts[i] = v.String()
			}
			return e.Name + "(" + strings.Join(parts, ",") + ")"
		}
	}
	return hexutil.Encode(data)
}
