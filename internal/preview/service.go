package preview

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/kvlens/kvlens/internal/artifact"
	"github.com/kvlens/kvlens/internal/processor"
	"github.com/kvlens/kvlens/internal/schema"
	"github.com/kvlens/kvlens/internal/store"
)

// Limit handling defaults.
const (
	DefaultLimit    = 100
	DefaultMaxLimit = 1000
)

// Result is the uniform per-entry preview returned for every matched entry.
// It is always producible: when no candidate schema decodes the value,
// Decoded is nil, FieldResults is empty and the raw key/value views remain.
type Result struct {
	Key            string             `json:"key"`
	KeyHex         string             `json:"key_hex"`
	ValueSize      int                `json:"value_size"`
	ValueHex       string             `json:"value_hex"`
	TextPreview    string             `json:"text_preview"`
	Decoded        *schema.Record     `json:"decoded,omitempty"`
	DecodeAttempts []schema.Attempt   `json:"decode_attempts,omitempty"`
	FieldResults   []processor.Result `json:"field_results,omitempty"`
}

// Info summarizes the opened store and loaded configuration for the UI.
type Info struct {
	Stats          *store.Stats `json:"stats"`
	CandidateTypes []string     `json:"candidate_types"`
	Processors     []string     `json:"processors"`
}

// Options tunes the preview service.
type Options struct {
	// MaxLimit caps the limit of any search request (default 1000).
	MaxLimit uint64
	// TextPreviewBytes bounds the raw text preview of a value (default 200).
	TextPreviewBytes int
	// ValueHexBytes bounds the raw hex view of a value (default 512).
	ValueHexBytes int
	// Metrics counts decode outcomes; nil disables recording.
	Metrics DecodeRecorder
	Logger  *logrus.Logger
}

// DecodeRecorder counts schema decode outcomes. Satisfied by the metrics
// manager.
type DecodeRecorder interface {
	RecordDecode(typeName string, success bool)
}

// Service composes the store accessor, schema resolver and processor
// registry into the preview pipeline. It holds no per-request state; one
// Service serves concurrent searches, each bringing its own context and
// artifact scope.
type Service struct {
	store    store.Store
	resolver *schema.Resolver
	registry *processor.Registry
	opts     Options
}

// NewService wires the pipeline. resolver and registry are treated as
// immutable snapshots; swap in a new Service to reconfigure.
func NewService(st store.Store, resolver *schema.Resolver, registry *processor.Registry, opts Options) *Service {
	if opts.MaxLimit == 0 {
		opts.MaxLimit = DefaultMaxLimit
	}
	if opts.TextPreviewBytes <= 0 {
		opts.TextPreviewBytes = 200
	}
	if opts.ValueHexBytes <= 0 {
		opts.ValueHexBytes = 512
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Service{store: st, resolver: resolver, registry: registry, opts: opts}
}

// Info returns store statistics plus the loaded candidate and processor sets.
func (s *Service) Info(ctx context.Context) (*Info, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect store stats: %w", err)
	}
	return &Info{
		Stats:          stats,
		CandidateTypes: s.resolver.TypeNames(),
		Processors:     s.registry.ProcessorIDs(),
	}, nil
}

// Count returns the total number of entries in the store.
func (s *Service) Count(ctx context.Context) (uint64, error) {
	return s.store.Count(ctx)
}

// Search executes one request end to end: fetch matching entries, attempt
// structured decoding of each value, run field processors over decoded
// fields, and assemble one Result per entry in store order. Store errors
// fail the whole search; decode and processor failures are captured as data
// inside otherwise-successful results. Artifacts produced by processors
// land in scope; the caller releases it on error or cancellation.
func (s *Service) Search(ctx context.Context, scope *artifact.Scope, req SearchRequest) ([]Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	limit := s.clampLimit(req.Limit)

	start := time.Now()
	entries, err := s.fetch(ctx, req, limit)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(entries))
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results = append(results, s.buildResult(scope, &entries[i]))
	}

	s.opts.Logger.WithFields(logrus.Fields{
		"mode":     string(req.Mode),
		"results":  len(results),
		"duration": time.Since(start),
	}).Debug("Search completed")
	return results, nil
}

func (s *Service) clampLimit(limit uint64) uint64 {
	if limit == 0 {
		return DefaultLimit
	}
	if limit > s.opts.MaxLimit {
		return s.opts.MaxLimit
	}
	return limit
}

func (s *Service) fetch(ctx context.Context, req SearchRequest, limit uint64) ([]store.Entry, error) {
	switch req.Mode {
	case ModeIndexRange:
		return s.store.IterateRange(ctx, req.Offset, limit)
	case ModeExactKey:
		entry, err := s.store.GetExact(ctx, []byte(req.Key))
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []store.Entry{*entry}, nil
	case ModePrefix:
		return s.store.GetPrefix(ctx, []byte(req.Prefix), limit)
	case ModePattern:
		return s.store.GetPattern(ctx, req.Substring, limit)
	default:
		return nil, fmt.Errorf("unknown search mode %q", req.Mode)
	}
}

func (s *Service) buildResult(scope *artifact.Scope, entry *store.Entry) Result {
	result := Result{
		Key:         formatKey(entry.Key),
		KeyHex:      hex.EncodeToString(entry.Key),
		ValueSize:   len(entry.Value),
		ValueHex:    boundedHex(entry.Value, s.opts.ValueHexBytes),
		TextPreview: textPreview(entry.Value, s.opts.TextPreviewBytes),
	}

	outcome := s.resolver.Resolve(entry.Value)
	result.DecodeAttempts = outcome.Attempts
	if s.opts.Metrics != nil {
		for _, attempt := range outcome.Attempts {
			s.opts.Metrics.RecordDecode(attempt.TypeName, false)
		}
		if outcome.Record != nil {
			s.opts.Metrics.RecordDecode(outcome.Record.TypeName, true)
		}
	}
	if outcome.Record == nil {
		return result
	}

	result.Decoded = outcome.Record
	result.FieldResults = make([]processor.Result, 0, len(outcome.Record.Fields))
	for _, field := range outcome.Record.Fields {
		result.FieldResults = append(result.FieldResults,
			s.registry.Process(scope, outcome.Record.TypeName, field.Name, field.Value))
	}
	return result
}

// formatKey renders a key as UTF-8 when possible, otherwise as hex plus a
// printable-ASCII sketch.
func formatKey(key []byte) string {
	if utf8.Valid(key) {
		return string(key)
	}
	var ascii strings.Builder
	for _, b := range key {
		if b >= 32 && b <= 126 {
			ascii.WriteByte(b)
		} else {
			ascii.WriteByte('.')
		}
	}
	return fmt.Sprintf("hex:%s ascii:%s", hex.EncodeToString(key), ascii.String())
}

func boundedHex(value []byte, max int) string {
	if len(value) > max {
		return hex.EncodeToString(value[:max]) + "..."
	}
	return hex.EncodeToString(value)
}

// textPreview renders the leading bytes of a value as lossy UTF-8.
func textPreview(value []byte, max int) string {
	truncated := len(value) > max
	if truncated {
		value = value[:max]
	}
	preview := strings.ToValidUTF8(string(value), ".")
	if truncated {
		preview += "..."
	}
	return preview
}
