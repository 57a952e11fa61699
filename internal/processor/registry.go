package processor

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kvlens/kvlens/internal/artifact"
	"github.com/kvlens/kvlens/internal/schema"
)

// Func converts one decoded field value into a preview result. Processors
// are pure functions of their inputs; they may write a temporary artifact
// into the scope but must not retain state between invocations beyond the
// config they are handed.
type Func func(scope *artifact.Scope, fieldName string, value schema.Value, config map[string]any) (Result, error)

// Binding associates a (schema type, field-name pattern) pair with a
// processor and its configuration. FieldPattern is an exact field name, a
// "prefix*" wildcard, or a "*suffix" wildcard.
type Binding struct {
	SchemaType   string         `mapstructure:"schema_type" json:"schema_type"`
	FieldPattern string         `mapstructure:"field_pattern" json:"field_pattern"`
	ProcessorID  string         `mapstructure:"processor" json:"processor"`
	Config       map[string]any `mapstructure:"config" json:"config"`
}

type binding struct {
	pattern string
	id      string
	fn      Func
	config  map[string]any
}

// Registry resolves field processors for decoded fields. Bindings are
// registered at configuration-load time and the registry is treated as an
// immutable snapshot while requests are in flight; a config reload builds a
// fresh registry and swaps it in.
type Registry struct {
	logger   *logrus.Logger
	funcs    map[string]Func
	bindings map[string][]binding // schema type -> bindings in registration order
	metrics  MetricsRecorder
}

// MetricsRecorder counts processor invocations and failures. Satisfied by
// the metrics manager; nil disables recording.
type MetricsRecorder interface {
	RecordProcessorRun(processorID string)
	RecordProcessorFailure(processorID string)
}

// NewRegistry returns a registry pre-loaded with the built-in processors
// (text, base64_text, hex, pcm_audio, raw_image).
func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Registry{
		logger:   logger,
		funcs:    make(map[string]Func),
		bindings: make(map[string][]binding),
	}
	for id, fn := range builtins() {
		r.funcs[id] = fn
	}
	return r
}

// SetMetrics attaches a metrics recorder. Call before serving requests.
func (r *Registry) SetMetrics(m MetricsRecorder) {
	r.metrics = m
}

// RegisterFunc adds or replaces a processor implementation under an ID.
func (r *Registry) RegisterFunc(id string, fn Func) {
	r.funcs[id] = fn
}

// ProcessorIDs lists the registered processor implementations.
func (r *Registry) ProcessorIDs() []string {
	ids := make([]string, 0, len(r.funcs))
	for id := range r.funcs {
		ids = append(ids, id)
	}
	return ids
}

// Register adds a binding. An unknown processor ID is a configuration error,
// reported here so a request never discovers it mid-flight. An exact
// duplicate (schema type, field pattern) replaces the earlier binding in
// place; otherwise registration order is preserved for tie-breaking.
func (r *Registry) Register(b Binding) error {
	fn, ok := r.funcs[b.ProcessorID]
	if !ok {
		return fmt.Errorf("unknown processor %q for %s/%s (registered: %s)",
			b.ProcessorID, b.SchemaType, b.FieldPattern, strings.Join(r.ProcessorIDs(), ", "))
	}
	if b.FieldPattern == "" {
		return fmt.Errorf("empty field pattern for schema type %s", b.SchemaType)
	}

	nb := binding{pattern: b.FieldPattern, id: b.ProcessorID, fn: fn, config: b.Config}
	list := r.bindings[b.SchemaType]
	for i := range list {
		if list[i].pattern == b.FieldPattern {
			list[i] = nb // last-registered wins for exact duplicates
			return nil
		}
	}
	r.bindings[b.SchemaType] = append(list, nb)
	return nil
}

// Process resolves the most specific binding for (schemaType, fieldName) and
// invokes it. With no matching binding a built-in default applies: string
// fields render as text, everything else as a raw custom representation.
// Any panic or error inside a processor is converted to a Failed result
// here; one broken processor degrades a single field, never the request.
func (r *Registry) Process(scope *artifact.Scope, schemaType, fieldName string, value schema.Value) Result {
	b := r.lookup(schemaType, fieldName)
	if b == nil {
		return defaultResult(fieldName, value)
	}

	if r.metrics != nil {
		r.metrics.RecordProcessorRun(b.id)
	}
	result, err := safeInvoke(b.fn, scope, fieldName, value, b.config)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordProcessorFailure(b.id)
		}
		r.logger.WithFields(logrus.Fields{
			"processor": b.id,
			"schema":    schemaType,
			"field":     fieldName,
		}).WithError(err).Debug("Field processor failed")
		return failedResult(fieldName, err.Error())
	}
	result.Field = fieldName
	return result
}

// lookup picks the most specific match: an exact field name always beats a
// wildcard regardless of registration order; among equally specific wildcard
// matches the first registered wins.
func (r *Registry) lookup(schemaType, fieldName string) *binding {
	list := r.bindings[schemaType]
	var wildcard *binding
	for i := range list {
		b := &list[i]
		if b.pattern == fieldName {
			return b
		}
		if wildcard == nil && wildcardMatch(b.pattern, fieldName) {
			wildcard = b
		}
	}
	return wildcard
}

func wildcardMatch(pattern, name string) bool {
	switch {
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(name, pattern[:len(pattern)-1])
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(name, pattern[1:])
	default:
		return false
	}
}

func defaultResult(fieldName string, value schema.Value) Result {
	if value.Kind == schema.KindString {
		return textResult(fieldName, value.Str, len(value.Str))
	}
	return customResult(fieldName, map[string]any{
		"kind":  string(value.Kind),
		"value": value.Display(),
	})
}

func safeInvoke(fn Func, scope *artifact.Scope, fieldName string, value schema.Value, config map[string]any) (result Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("processor panic: %v", rec)
		}
	}()
	return fn(scope, fieldName, value, config)
}
