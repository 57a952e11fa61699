package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Self-describing codec candidates. Unlike protobuf candidates these carry
// no schema: any value that parses as a string-keyed map of the format is
// accepted. They are intended as fallbacks behind the protobuf candidates.

// NewCBORCandidate decodes values as a CBOR map.
func NewCBORCandidate() Candidate { return cborCandidate{} }

// NewMsgpackCandidate decodes values as a MessagePack map.
func NewMsgpackCandidate() Candidate { return msgpackCandidate{} }

// NewJSONCandidate decodes values as a JSON object.
func NewJSONCandidate() Candidate { return jsonCandidate{} }

type cborCandidate struct{}

func (cborCandidate) TypeName() string { return "cbor" }

func (cborCandidate) Decode(raw []byte) (*Record, error) {
	var m map[string]any
	if err := cbor.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("cbor value is not a map")
	}
	return mapRecord("cbor", m), nil
}

type msgpackCandidate struct{}

func (msgpackCandidate) TypeName() string { return "msgpack" }

func (msgpackCandidate) Decode(raw []byte) (*Record, error) {
	var m map[string]any
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("msgpack value is not a map")
	}
	return mapRecord("msgpack", m), nil
}

type jsonCandidate struct{}

func (jsonCandidate) TypeName() string { return "json" }

func (jsonCandidate) Decode(raw []byte) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	// Reject trailing garbage after the object.
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after JSON object")
	}
	if m == nil {
		return nil, fmt.Errorf("json value is not an object")
	}
	return mapRecord("json", m), nil
}

// mapRecord converts a decoded map into a Record with keys sorted for
// deterministic field order (the wire formats do not guarantee one).
func mapRecord(typeName string, m map[string]any) *Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	record := &Record{TypeName: typeName}
	for _, k := range keys {
		record.Fields = append(record.Fields, Field{Name: k, Value: anyValue(m[k])})
	}
	return record
}

func anyValue(v any) Value {
	switch x := v.(type) {
	case nil:
		return NullValue()
	case bool:
		return BoolValue(x)
	case string:
		return StringValue(x)
	case []byte:
		return BytesValue(x)
	case int:
		return IntValue(int64(x))
	case int8:
		return IntValue(int64(x))
	case int16:
		return IntValue(int64(x))
	case int32:
		return IntValue(int64(x))
	case int64:
		return IntValue(x)
	case uint:
		return UintValue(uint64(x))
	case uint8:
		return UintValue(uint64(x))
	case uint16:
		return UintValue(uint64(x))
	case uint32:
		return UintValue(uint64(x))
	case uint64:
		return UintValue(x)
	case float32:
		return FloatValue(float64(x))
	case float64:
		return FloatValue(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return IntValue(i)
		}
		if f, err := x.Float64(); err == nil {
			return FloatValue(f)
		}
		return StringValue(x.String())
	case map[string]any:
		return RecordValue(mapRecord("map", x))
	case map[any]any:
		converted := make(map[string]any, len(x))
		for k, val := range x {
			converted[fmt.Sprint(k)] = val
		}
		return RecordValue(mapRecord("map", converted))
	case []any:
		items := make([]Value, 0, len(x))
		for _, item := range x {
			items = append(items, anyValue(item))
		}
		return ListValue(items)
	default:
		return StringValue(fmt.Sprint(x))
	}
}
