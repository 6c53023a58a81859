package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xueqianLu/ethcontract/pkg/abi"
	"github.com/xueqianLu/ethcontract/pkg/ethrpc"
)

// ErrLogMismatch means a log was not emitted by the expected event.
var ErrLogMismatch = errors.New("log does not match event")

// Field is one decoded event parameter. Hashed fields hold the 32 byte
// keccak256 topic of an indexed reference type, not its value.
type Field struct {
	Name    string
	Value   abi.Value
	Indexed bool
	Hashed  bool
}

// Record is a decoded event log.
type Record struct {
	Event  string
	Fields []Field
	Log    *ethrpc.Log
}

func (r *Record) Get(name string) (abi.Value, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return abi.Value{}, false
}

// Args maps parameter names to values. Unnamed parameters are keyed argN.
func (r *Record) Args() map[string]abi.Value {
	args := make(map[string]abi.Value, len(r.Fields))
	for i, f := range r.Fields {
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("arg%d", i)
		}
		args[name] = f.Value
	}
	return args
}

func (r *Record) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"event": r.Event,
		"args":  r.Args(),
	}
	if r.Log != nil {
		out["address"] = r.Log.Address
		out["blockNumber"] = uint64(r.Log.BlockNumber)
		out["transactionHash"] = r.Log.TransactionHash
		out["logIndex"] = uint(r.Log.LogIndex)
	}
	return json.Marshal(out)
}

func mismatch(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrLogMismatch, fmt.Sprintf(format, args...))
}

// Decode decodes log as an instance of ev.
func Decode(ev *abi.Event, log *ethrpc.Log) (*Record, error) {
	offset := 0
	if !ev.Anonymous {
		if len(log.Topics) == 0 || log.Topics[0] != ev.Topic() {
			return nil, mismatch("topic0 is not %s", ev.Signature())
		}
		offset = 1
	}
	indexed := ev.Indexed()
	if len(log.Topics) != offset+len(indexed) {
		return nil, mismatch("%s expects %d topics, log has %d", ev.Signature(), offset+len(indexed), len(log.Topics))
	}

	var dataTypes []abi.Type
	for _, p := range ev.NonIndexed() {
		dataTypes = append(dataTypes, p.Type)
	}
	data, err := abi.Decode(log.Data, dataTypes...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLogMismatch, err)
	}

	rec := &Record{Event: ev.Name, Fields: make([]Field, 0, len(ev.Inputs)), Log: log}
	topicIdx, dataIdx := offset, 0
	for _, p := range ev.Inputs {
		if !p.Indexed {
			rec.Fields = append(rec.Fields, Field{Name: p.Name, Value: data[dataIdx]})
			dataIdx++
			continue
		}
		topic := log.Topics[topicIdx]
		topicIdx++
		if isHashed(p.Type) {
			rec.Fields = append(rec.Fields, Field{Name: p.Name, Value: abi.NewFixedBytes(topic.Bytes()), Indexed: true, Hashed: true})
			continue
		}
		values, err := abi.Decode(topic.Bytes(), p.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: topic %s: %w", ErrLogMismatch, p.Name, err)
		}
		rec.Fields = append(rec.Fields, Field{Name: p.Name, Value: values[0], Indexed: true})
	}
	return rec, nil
}

// FromLogs decodes every log that matches ev and returns the rest as a count.
func FromLogs(ev *abi.Event, logs []*ethrpc.Log) (records []*Record, skipped int) {
	for _, l := range logs {
		if l.Removed {
			skipped++
			continue
		}
		rec, err := Decode(ev, l)
		if err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped
}

// FromReceipt decodes the logs of receipt that match ev, skipping others.
func FromReceipt(ev *abi.Event, receipt *ethrpc.Receipt) []*Record {
	records, _ := FromLogs(ev, receipt.Logs)
	return records
}
