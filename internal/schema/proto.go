package schema

import (
	"fmt"
	"os"
	"sort"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// LoadDescriptorSet reads a compiled FileDescriptorSet (the output of
// `protoc --descriptor_set_out`) and returns the contained file registry.
func LoadDescriptorSet(path string) (*protoregistry.Files, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor set %s: %w", path, err)
	}
	var fds descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &fds); err != nil {
		return nil, fmt.Errorf("invalid descriptor set %s: %w", path, err)
	}
	files, err := protodesc.NewFiles(&fds)
	if err != nil {
		return nil, fmt.Errorf("failed to build descriptor registry: %w", err)
	}
	return files, nil
}

// NewProtoCandidates resolves the named message types against the registry
// and returns one candidate per type, preserving the given order. A missing
// type name is a configuration error, reported at load time.
func NewProtoCandidates(files *protoregistry.Files, typeNames []string) ([]Candidate, error) {
	candidates := make([]Candidate, 0, len(typeNames))
	for _, name := range typeNames {
		desc, err := files.FindDescriptorByName(protoreflect.FullName(name))
		if err != nil {
			return nil, fmt.Errorf("message type %q not found in descriptor set: %w", name, err)
		}
		md, ok := desc.(protoreflect.MessageDescriptor)
		if !ok {
			return nil, fmt.Errorf("%q is not a message type", name)
		}
		candidates = append(candidates, &protoCandidate{name: name, desc: md})
	}
	return candidates, nil
}

// NewProtoCandidate wraps a single message descriptor. Used by tests and by
// callers that hold compiled descriptors directly.
func NewProtoCandidate(md protoreflect.MessageDescriptor) Candidate {
	return &protoCandidate{name: string(md.FullName()), desc: md}
}

// protoCandidate decodes raw bytes as one protobuf message type using a
// dynamic message, so no generated Go types are required.
type protoCandidate struct {
	name string
	desc protoreflect.MessageDescriptor
}

func (c *protoCandidate) TypeName() string { return c.name }

func (c *protoCandidate) Decode(raw []byte) (*Record, error) {
	msg := dynamicpb.NewMessage(c.desc)
	if err := proto.Unmarshal(raw, msg); err != nil {
		return nil, err
	}
	return recordFromMessage(c.name, msg), nil
}

// recordFromMessage walks populated fields in declaration order. Unset
// fields (including proto3 implicit-presence zero values) are omitted,
// matching the common JSON rendering of protobuf messages.
func recordFromMessage(typeName string, msg protoreflect.Message) *Record {
	fields := msg.Descriptor().Fields()
	record := &Record{TypeName: typeName}
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if !msg.Has(fd) {
			continue
		}
		record.Fields = append(record.Fields, Field{
			Name:  string(fd.Name()),
			Value: protoValue(fd, msg.Get(fd)),
		})
	}
	return record
}

func protoValue(fd protoreflect.FieldDescriptor, v protoreflect.Value) Value {
	switch {
	case fd.IsMap():
		return protoMapValue(fd, v.Map())
	case fd.IsList():
		list := v.List()
		items := make([]Value, 0, list.Len())
		for i := 0; i < list.Len(); i++ {
			items = append(items, protoScalarValue(fd, list.Get(i)))
		}
		return ListValue(items)
	default:
		return protoScalarValue(fd, v)
	}
}

func protoScalarValue(fd protoreflect.FieldDescriptor, v protoreflect.Value) Value {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return BoolValue(v.Bool())
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return IntValue(v.Int())
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return UintValue(v.Uint())
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return FloatValue(v.Float())
	case protoreflect.StringKind:
		return StringValue(v.String())
	case protoreflect.BytesKind:
		return BytesValue(v.Bytes())
	case protoreflect.EnumKind:
		if ev := fd.Enum().Values().ByNumber(v.Enum()); ev != nil {
			return StringValue(string(ev.Name()))
		}
		return IntValue(int64(v.Enum()))
	case protoreflect.MessageKind, protoreflect.GroupKind:
		nested := v.Message()
		return RecordValue(recordFromMessage(string(nested.Descriptor().FullName()), nested))
	default:
		return StringValue(v.String())
	}
}

// protoMapValue renders a protobuf map as a nested record with sorted keys
// so the output is deterministic.
func protoMapValue(fd protoreflect.FieldDescriptor, m protoreflect.Map) Value {
	valueDesc := fd.MapValue()
	record := &Record{TypeName: "map"}
	keys := make([]protoreflect.MapKey, 0, m.Len())
	m.Range(func(k protoreflect.MapKey, _ protoreflect.Value) bool {
		keys = append(keys, k)
		return true
	})
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, k := range keys {
		record.Fields = append(record.Fields, Field{
			Name:  k.String(),
			Value: protoScalarValue(valueDesc, m.Get(k)),
		})
	}
	return RecordValue(record)
}
