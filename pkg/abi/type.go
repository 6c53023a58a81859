package abi

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Type or Value.
type Kind uint8

const (
	InvalidKind Kind = iota
	AddressKind
	UintKind
	IntKind
	BoolKind
	FixedBytesKind
	BytesKind
	StringKind
	ArrayKind // fixed length T[N]
	SliceKind // dynamic length T[]
)

func (k Kind) String() string {
	switch k {
	case AddressKind:
		return "address"
	case UintKind:
		return "uint"
	case IntKind:
		return "int"
	case BoolKind:
		return "bool"
	case FixedBytesKind:
		return "fixed bytes"
	case BytesKind:
		return "bytes"
	case StringKind:
		return "string"
	case ArrayKind:
		return "array"
	case SliceKind:
		return "slice"
	default:
		return "invalid"
	}
}

const wordSize = 32

// Type describes an ABI type. Size is the bit width for UintKind/IntKind,
// the byte length for FixedBytesKind and the element count for ArrayKind.
type Type struct {
	Kind Kind
	Size int
	Elem *Type
}

var (
	AddressType = Type{Kind: AddressKind}
	BoolType    = Type{Kind: BoolKind}
	BytesType   = Type{Kind: BytesKind}
	StringType  = Type{Kind: StringKind}
	Uint8Type   = UintType(8)
	Uint256Type = UintType(256)
	Int256Type  = IntType(256)
	Bytes32Type = FixedBytesType(32)
)

func UintType(bits int) Type { return Type{Kind: UintKind, Size: bits} }

func IntType(bits int) Type { return Type{Kind: IntKind, Size: bits} }

func FixedBytesType(n int) Type { return Type{Kind: FixedBytesKind, Size: n} }

func ArrayOf(elem Type, n int) Type { return Type{Kind: ArrayKind, Size: n, Elem: &elem} }

func SliceOf(elem Type) Type { return Type{Kind: SliceKind, Elem: &elem} }

// String returns the canonical type name used in signatures.
func (t Type) String() string {
	switch t.Kind {
	case AddressKind, BoolKind, BytesKind, StringKind:
		return t.Kind.String()
	case UintKind:
		return "uint" + strconv.Itoa(t.Size)
	case IntKind:
		return "int" + strconv.Itoa(t.Size)
	case FixedBytesKind:
		return "bytes" + strconv.Itoa(t.Size)
	case ArrayKind:
		return t.Elem.String() + "[" + strconv.Itoa(t.Size) + "]"
	case SliceKind:
		return t.Elem.String() + "[]"
	default:
		return "invalid"
	}
}

func (t Type) Equal(o Type) bool {
	return t.String() == o.String()
}

// IsDynamic reports whether values of t are encoded in the tail region.
func (t Type) IsDynamic() bool {
	switch t.Kind {
	case BytesKind, StringKind, SliceKind:
		return true
	case ArrayKind:
		return t.Elem.IsDynamic()
	default:
		return false
	}
}

// headSize is the number of bytes t occupies in the head of an enclosing tuple.
func (t Type) headSize() int {
	if t.Kind == ArrayKind && !t.IsDynamic() {
		return t.Size * t.Elem.headSize()
	}
	return wordSize
}

func (t Type) validate() error {
	switch t.Kind {
	case AddressKind, BoolKind, BytesKind, StringKind:
		return nil
	case UintKind, IntKind:
		if t.Size < 8 || t.Size > 256 || t.Size%8 != 0 {
			return fmt.Errorf("invalid integer width %d", t.Size)
		}
		return nil
	case FixedBytesKind:
		if t.Size < 1 || t.Size > 32 {
			return fmt.Errorf("invalid fixed bytes length %d", t.Size)
		}
		return nil
	case ArrayKind, SliceKind:
		if t.Elem == nil {
			return fmt.Errorf("%s type without element type", t.Kind)
		}
		if t.Kind == ArrayKind && t.Size < 1 {
			return fmt.Errorf("invalid array length %d", t.Size)
		}
		return t.Elem.validate()
	default:
		return fmt.Errorf("invalid type kind %d", t.Kind)
	}
}

// ParseType parses a canonical or aliased ABI type string such as
// "uint", "bytes32", "address[]" or "uint256[2][]".
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "]") {
		open := strings.LastIndexByte(s, '[')
		if open <= 0 {
			return Type{}, fmt.Errorf("malformed array type %q", s)
		}
		elem, err := ParseType(s[:open])
		if err != nil {
			return Type{}, err
		}
		dim := s[open+1 : len(s)-1]
		if dim == "" {
			return SliceOf(elem), nil
		}
		n, err := strconv.Atoi(dim)
		if err != nil || n < 1 {
			return Type{}, fmt.Errorf("invalid array length in %q", s)
		}
		return ArrayOf(elem, n), nil
	}

	var t Type
	switch {
	case s == "address":
		t = AddressType
	case s == "bool":
		t = BoolType
	case s == "string":
		t = StringType
	case s == "bytes":
		t = BytesType
	case s == "byte":
		t = FixedBytesType(1)
	case s == "uint":
		t = Uint256Type
	case s == "int":
		t = Int256Type
	case strings.HasPrefix(s, "uint"):
		n, err := strconv.Atoi(s[4:])
		if err != nil {
			return Type{}, fmt.Errorf("unsupported type %q", s)
		}
		t = UintType(n)
	case strings.HasPrefix(s, "int"):
		n, err := strconv.Atoi(s[3:])
		if err != nil {
			return Type{}, fmt.Errorf("unsupported type %q", s)
		}
		t = IntType(n)
	case strings.HasPrefix(s, "bytes"):
		n, err := strconv.Atoi(s[5:])
		if err != nil {
			return Type{}, fmt.Errorf("unsupported type %q", s)
		}
		t = FixedBytesType(n)
	default:
		return Type{}, fmt.Errorf("unsupported type %q", s)
	}
	if err := t.validate(); err != nil {
		return Type{}, fmt.Errorf("%q: %w", s, err)
	}
	return t, nil
}

// MustParseType is ParseType for package-level descriptor tables.
func MustParseType(s string) Type {
	t, err := ParseType(s)
	if err != nil {
		panic(err)
	}
	return t
}
