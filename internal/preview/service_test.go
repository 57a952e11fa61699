package preview

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvlens/kvlens/internal/artifact"
	"github.com/kvlens/kvlens/internal/processor"
	"github.com/kvlens/kvlens/internal/schema"
	"github.com/kvlens/kvlens/internal/store"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func seedPebble(t *testing.T, dir string, entries map[string][]byte) {
	t.Helper()
	db, err := pebble.Open(dir, &pebble.Options{})
	require.NoError(t, err)
	for k, v := range entries {
		require.NoError(t, db.Set([]byte(k), v, pebble.Sync))
	}
	require.NoError(t, db.Close())
}

// testEntries seeds a mixed store: JSON-decodable messages, an opaque
// binary blob, and a run of numbered entries for paging tests.
func testEntries() map[string][]byte {
	entries := map[string][]byte{
		"message:000": []byte(`{"text":"hello world"}`),
		"blob:000":    {0xFF, 0xFE, 0x00, 0x01},
	}
	for i := 0; i < 25; i++ {
		key := fmt.Sprintf("entry:%03d", i)
		entries[key] = []byte(fmt.Sprintf(`{"n":%d}`, i))
	}
	return entries
}

func newTestService(t *testing.T) (*Service, *artifact.Scope) {
	t.Helper()

	dir, err := os.MkdirTemp("", "kvlens-preview-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	seedPebble(t, dir, testEntries())

	st, err := store.Open(store.Options{Path: dir, Backend: store.BackendPebble, Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	resolver := schema.NewResolver(testLogger(), schema.NewCBORCandidate(), schema.NewJSONCandidate())

	registry := processor.NewRegistry(testLogger())
	require.NoError(t, registry.Register(processor.Binding{
		SchemaType:   "json",
		FieldPattern: "text",
		ProcessorID:  processor.ProcessorText,
	}))

	manager, err := artifact.NewManager(artifact.Options{Logger: testLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	svc := NewService(st, resolver, registry, Options{Logger: testLogger()})
	return svc, manager.NewScope()
}

func TestSearchIndexRange(t *testing.T) {
	svc, scope := newTestService(t)
	defer scope.Release()

	// Sorted key order: blob:000, entry:000..024, message:000.
	results, err := svc.Search(context.Background(), scope, IndexRange(1, 5))
	require.NoError(t, err)
	require.Len(t, results, 5)
	for i, result := range results {
		assert.Equal(t, fmt.Sprintf("entry:%03d", i), result.Key)
	}
}

func TestSearchIndexRangePartialTail(t *testing.T) {
	svc, scope := newTestService(t)
	defer scope.Release()

	// 27 entries total: offset 25 leaves only the last two.
	results, err := svc.Search(context.Background(), scope, IndexRange(25, 10))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "entry:024", results[0].Key)
	assert.Equal(t, "message:000", results[1].Key)
}

func TestSearchZeroLimitUsesDefault(t *testing.T) {
	svc, scope := newTestService(t)
	defer scope.Release()

	results, err := svc.Search(context.Background(), scope, IndexRange(0, 0))
	require.NoError(t, err)
	assert.Len(t, results, 27)
}

func TestSearchLimitClampedToMax(t *testing.T) {
	svc, scope := newTestService(t)
	defer scope.Release()

	assert.Equal(t, uint64(DefaultMaxLimit), svc.clampLimit(5000))
	assert.Equal(t, uint64(7), svc.clampLimit(7))
}

func TestSearchExactKey(t *testing.T) {
	svc, scope := newTestService(t)
	defer scope.Release()

	results, err := svc.Search(context.Background(), scope, ExactKey("message:000"))
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	assert.Equal(t, "message:000", result.Key)
	assert.Equal(t, len(`{"text":"hello world"}`), result.ValueSize)
	require.NotNil(t, result.Decoded)
	assert.Equal(t, "json", result.Decoded.TypeName)

	require.Len(t, result.FieldResults, 1)
	field := result.FieldResults[0]
	assert.Equal(t, "text", field.Field)
	assert.Equal(t, processor.ResultText, field.Kind)
	require.NotNil(t, field.Text)
	assert.Equal(t, "hello world", field.Text.Content)
}

func TestSearchExactKeyMissReturnsEmpty(t *testing.T) {
	svc, scope := newTestService(t)
	defer scope.Release()

	results, err := svc.Search(context.Background(), scope, ExactKey("no-such-key"))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchPrefix(t *testing.T) {
	svc, scope := newTestService(t)
	defer scope.Release()

	results, err := svc.Search(context.Background(), scope, PrefixSearch("entry:00", 100))
	require.NoError(t, err)
	require.Len(t, results, 10)
	assert.Equal(t, "entry:000", results[0].Key)
	assert.Equal(t, "entry:009", results[9].Key)
}

func TestSearchPattern(t *testing.T) {
	svc, scope := newTestService(t)
	defer scope.Release()

	results, err := svc.Search(context.Background(), scope, PatternSearch("message", 100))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "message:000", results[0].Key)
}

func TestSearchUndecodableValueDegrades(t *testing.T) {
	svc, scope := newTestService(t)
	defer scope.Release()

	results, err := svc.Search(context.Background(), scope, ExactKey("blob:000"))
	require.NoError(t, err)
	require.Len(t, results, 1)

	result := results[0]
	assert.Nil(t, result.Decoded)
	assert.Empty(t, result.FieldResults)
	// One failed attempt per configured candidate.
	require.Len(t, result.DecodeAttempts, 2)
	assert.Equal(t, "cbor", result.DecodeAttempts[0].TypeName)
	assert.Equal(t, "json", result.DecodeAttempts[1].TypeName)
	assert.Equal(t, "fffe0001", result.ValueHex)
	assert.Equal(t, 4, result.ValueSize)
}

func TestSearchInvalidRequest(t *testing.T) {
	svc, scope := newTestService(t)
	defer scope.Release()

	_, err := svc.Search(context.Background(), scope, ExactKey(""))
	require.Error(t, err)

	_, err = svc.Search(context.Background(), scope, SearchRequest{Mode: "bogus"})
	require.Error(t, err)
}

func TestSearchCancelledContext(t *testing.T) {
	svc, scope := newTestService(t)
	defer scope.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Search(ctx, scope, IndexRange(0, 10))
	require.ErrorIs(t, err, context.Canceled)
}

func TestInfo(t *testing.T) {
	svc, scope := newTestService(t)
	defer scope.Release()

	info, err := svc.Info(context.Background())
	require.NoError(t, err)
	require.NotNil(t, info.Stats)
	assert.Equal(t, uint64(27), info.Stats.Entries)
	assert.Equal(t, []string{"cbor", "json"}, info.CandidateTypes)
	assert.Contains(t, info.Processors, processor.ProcessorText)
	assert.Contains(t, info.Processors, processor.ProcessorPCMAudio)
}

func TestFormatKey(t *testing.T) {
	assert.Equal(t, "plain", formatKey([]byte("plain")))

	binary := []byte{0xFF, 'a', 'b', 0x00}
	assert.Equal(t, "hex:ff616200 ascii:.ab.", formatKey(binary))
}

func TestTextPreviewTruncation(t *testing.T) {
	assert.Equal(t, "abc", textPreview([]byte("abc"), 10))
	assert.Equal(t, "abcde...", textPreview([]byte("abcdefgh"), 5))
	assert.Equal(t, ".x", textPreview([]byte{0xFF, 'x'}, 10))
}
