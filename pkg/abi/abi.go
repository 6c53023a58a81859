package abi

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrUnknownFunction  = errors.New("unknown function")
	ErrUnknownEvent     = errors.New("unknown event")
	ErrArgumentMismatch = errors.New("argument mismatch")
)

// Param is a named, typed function input/output or event field.
type Param struct {
	Name    string
	Type    Type
	Indexed bool
}

func signature(name string, params []Param) string {
	types := make([]string, len(params))
	for i, p := range params {
		types[i] = p.Type.String()
	}
	return name + "(" + strings.Join(types, ",") + ")"
}

func paramTypes(params []Param) []Type {
	types := make([]Type, len(params))
	for i, p := range params {
		types[i] = p.Type
	}
	return types
}

// Function describes a contract function or constructor.
type Function struct {
	Name            string
	Inputs          []Param
	Outputs         []Param
	StateMutability string
}

// Signature returns the canonical name(t1,t2,...) form.
func (f *Function) Signature() string {
	return signature(f.Name, f.Inputs)
}

func (f *Function) Selector() [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(f.Signature()))[:4])
	return sel
}

// IsReadOnly reports whether the function can be executed with eth_call only.
func (f *Function) IsReadOnly() bool {
	return f.StateMutability == "view" || f.StateMutability == "pure"
}

func (f *Function) IsPayable() bool {
	return f.StateMutability == "payable"
}

// EncodeArgs encodes args as the input tuple without a selector, as used for
// constructor arguments.
func (f *Function) EncodeArgs(args ...Value) ([]byte, error) {
	if len(args) != len(f.Inputs) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrArgumentMismatch, f.Signature(), len(f.Inputs), len(args))
	}
	for i, a := range args {
		if !a.typ.Equal(f.Inputs[i].Type) {
			return nil, fmt.Errorf("%w: %s argument %d is %s, got %s", ErrArgumentMismatch, f.Signature(), i, f.Inputs[i].Type, a.typ)
		}
	}
	return Encode(args...)
}

// EncodeCall returns selector ‖ encoded arguments.
func (f *Function) EncodeCall(args ...Value) ([]byte, error) {
	enc, err := f.EncodeArgs(args...)
	if err != nil {
		return nil, err
	}
	sel := f.Selector()
	return append(sel[:], enc...), nil
}

// DecodeInputs decodes call data produced by EncodeCall.
func (f *Function) DecodeInputs(calldata []byte) ([]Value, error) {
	sel := f.Selector()
	if len(calldata) < 4 || [4]byte(calldata[:4]) != sel {
		return nil, malformed("call data does not start with selector of %s", f.Signature())
	}
	return Decode(calldata[4:], paramTypes(f.Inputs)...)
}

func (f *Function) DecodeOutputs(data []byte) ([]Value, error) {
	return Decode(data, paramTypes(f.Outputs)...)
}

// ConvertArgs converts loosely typed inputs, e.g. from JSON, into Values
// matching the function inputs.
func (f *Function) ConvertArgs(in ...any) ([]Value, error) {
	if len(in) != len(f.Inputs) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrArgumentMismatch, f.Signature(), len(f.Inputs), len(in))
	}
	out := make([]Value, len(in))
	for i, arg := range in {
		v, err := ValueOf(f.Inputs[i].Type, arg)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrArgumentMismatch, paramLabel(f.Inputs[i], i), err)
		}
		out[i] = v
	}
	return out, nil
}

func paramLabel(p Param, i int) string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("argument %d", i)
}

// Event describes a contract event.
type Event struct {
	Name      string
	Inputs    []Param
	Anonymous bool
}

func (e *Event) Signature() string {
	return signature(e.Name, e.Inputs)
}

// Topic is keccak256 of the signature, emitted as topic 0 of non-anonymous events.
func (e *Event) Topic() common.Hash {
	return crypto.Keccak256Hash([]byte(e.Signature()))
}

func (e *Event) Indexed() []Param {
	var out []Param
	for _, p := range e.Inputs {
		if p.Indexed {
			out = append(out, p)
		}
	}
	return out
}

func (e *Event) NonIndexed() []Param {
	var out []Param
	for _, p := range e.Inputs {
		if !p.Indexed {
			out = append(out, p)
		}
	}
	return out
}

// ABI is a parsed contract interface. Overloaded functions and events are
// reachable under their first name and under their full signature.
type ABI struct {
	Constructor *Function
	Functions   map[string]*Function
	Events      map[string]*Event
	Errors      map[string]*Function
}

func (a *ABI) Function(name string) (*Function, error) {
	if f, ok := a.Functions[name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
}

func (a *ABI) Event(name string) (*Event, error) {
	if e, ok := a.Events[name]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
}

// ConstructorOrEmpty returns the constructor, or a no-argument one when the
// ABI does not declare it.
func (a *ABI) ConstructorOrEmpty() *Function {
	if a.Constructor != nil {
		return a.Constructor
	}
	return &Function{StateMutability: "nonpayable"}
}

type jsonParam struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Indexed bool   `json:"indexed"`
}

type jsonEntry struct {
	Type            string      `json:"type"`
	Name            string      `json:"name"`
	Inputs          []jsonParam `json:"inputs"`
	Outputs         []jsonParam `json:"outputs"`
	StateMutability string      `json:"stateMutability"`
	Constant        bool        `json:"constant"`
	Payable         bool        `json:"payable"`
	Anonymous       bool        `json:"anonymous"`
}

func (j jsonEntry) mutability() string {
	switch {
	case j.StateMutability != "":
		return j.StateMutability
	case j.Constant:
		return "view"
	case j.Payable:
		return "payable"
	default:
		return "nonpayable"
	}
}

func convertParams(in []jsonParam) ([]Param, error) {
	out := make([]Param, len(in))
	for i, p := range in {
		t, err := ParseType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", p.Name, err)
		}
		out[i] = Param{Name: p.Name, Type: t, Indexed: p.Indexed}
	}
	return out, nil
}

// ParseJSON parses a standard ABI JSON document (solc / truffle output).
func ParseJSON(data []byte) (*ABI, error) {
	var entries []jsonEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse ABI JSON: %w", err)
	}
	a := &ABI{
		Functions: map[string]*Function{},
		Events:    map[string]*Event{},
		Errors:    map[string]*Function{},
	}
	for _, entry := range entries {
		inputs, err := convertParams(entry.Inputs)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", entry.Type, entry.Name, err)
		}
		switch entry.Type {
		case "function", "":
			outputs, err := convertParams(entry.Outputs)
			if err != nil {
				return nil, fmt.Errorf("function %s: %w", entry.Name, err)
			}
			f := &Function{Name: entry.Name, Inputs: inputs, Outputs: outputs, StateMutability: entry.mutability()}
			if _, exists := a.Functions[f.Name]; !exists {
				a.Functions[f.Name] = f
			}
			a.Functions[f.Signature()] = f
		case "constructor":
			a.Constructor = &Function{Inputs: inputs, StateMutability: entry.mutability()}
		case "event":
			e := &Event{Name: entry.Name, Inputs: inputs, Anonymous: entry.Anonymous}
			if _, exists := a.Events[e.Name]; !exists {
				a.Events[e.Name] = e
			}
			a.Events[e.Signature()] = e
		case "error":
			a.Errors[entry.Name] = &Function{Name: entry.Name, Inputs: inputs}
		case "fallback", "receive":
		default:
			return nil, fmt.Errorf("unsupported ABI entry type %q", entry.Type)
		}
	}
	return a, nil
}

func MustParseJSON(data []byte) *ABI {
	a, err := ParseJSON(data)
	if err != nil {
		panic(err)
	}
	return a
}
