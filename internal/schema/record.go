package schema

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind discriminates the Value variant.
type Kind string

const (
	KindString Kind = "string"
	KindBytes  Kind = "bytes"
	KindInt    Kind = "int"
	KindUint   Kind = "uint"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindRecord Kind = "record"
	KindList   Kind = "list"
	KindNull   Kind = "null"
)

// Value is a decoded field value: one of string, bytes, integer, float,
// boolean, nested record, repeated list, or null. Only the member matching
// Kind is meaningful.
type Value struct {
	Kind   Kind
	Str    string
	Bytes  []byte
	Int    int64
	Uint   uint64
	Float  float64
	Bool   bool
	Record *Record
	List   []Value
}

// Field is one named field of a decoded record, in declaration order.
type Field struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Record is the result of successfully decoding a raw value against one
// candidate schema.
type Record struct {
	TypeName string  `json:"type_name"`
	Fields   []Field `json:"fields"`
}

// Constructors keep call sites terse.

func StringValue(s string) Value  { return Value{Kind: KindString, Str: s} }
func BytesValue(b []byte) Value   { return Value{Kind: KindBytes, Bytes: b} }
func IntValue(i int64) Value      { return Value{Kind: KindInt, Int: i} }
func UintValue(u uint64) Value    { return Value{Kind: KindUint, Uint: u} }
func FloatValue(f float64) Value  { return Value{Kind: KindFloat, Float: f} }
func BoolValue(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func RecordValue(r *Record) Value { return Value{Kind: KindRecord, Record: r} }
func ListValue(vs []Value) Value  { return Value{Kind: KindList, List: vs} }
func NullValue() Value            { return Value{Kind: KindNull} }

// Native returns the underlying Go value for the active variant member.
func (v Value) Native() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindBytes:
		return v.Bytes
	case KindInt:
		return v.Int
	case KindUint:
		return v.Uint
	case KindFloat:
		return v.Float
	case KindBool:
		return v.Bool
	case KindRecord:
		return v.Record
	case KindList:
		return v.List
	default:
		return nil
	}
}

// Display renders a short human-readable representation of the value.
func (v Value) Display() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindBytes:
		return fmt.Sprintf("<%d bytes>", len(v.Bytes))
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindUint:
		return strconv.FormatUint(v.Uint, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindRecord:
		if v.Record == nil {
			return "<record>"
		}
		return fmt.Sprintf("<%s: %d fields>", v.Record.TypeName, len(v.Record.Fields))
	case KindList:
		return fmt.Sprintf("<list: %d items>", len(v.List))
	default:
		return "<null>"
	}
}

// MarshalJSON renders the variant as {"kind": ..., "value": ...} with the
// value in its natural JSON shape (bytes as base64).
func (v Value) MarshalJSON() ([]byte, error) {
	var val any
	switch v.Kind {
	case KindBytes:
		val = base64.StdEncoding.EncodeToString(v.Bytes)
	default:
		val = v.Native()
	}
	return json.Marshal(struct {
		Kind  Kind `json:"kind"`
		Value any  `json:"value"`
	}{Kind: v.Kind, Value: val})
}

// FieldByName returns the first field with the given name, or nil.
func (r *Record) FieldByName(name string) *Field {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			return &r.Fields[i]
		}
	}
	return nil
}
