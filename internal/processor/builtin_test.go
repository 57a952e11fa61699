package processor

import (
	"encoding/binary"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvlens/kvlens/internal/schema"
)

func TestTextProcessor(t *testing.T) {
	scope := testScope(t)

	t.Run("ShortString", func(t *testing.T) {
		res, err := processText(scope, "text", schema.StringValue("hello"), nil)
		require.NoError(t, err)
		assert.Equal(t, "hello", res.Text.Content)
		assert.Equal(t, 5, res.Text.Length)
	})

	t.Run("TruncatesLongString", func(t *testing.T) {
		long := strings.Repeat("a", 500)
		res, err := processText(scope, "text", schema.StringValue(long), nil)
		require.NoError(t, err)
		assert.Equal(t, 203, len(res.Text.Content)) // 200 + "..."
		assert.Equal(t, 500, res.Text.Length)
	})

	t.Run("ConfigurablePreviewLength", func(t *testing.T) {
		res, err := processText(scope, "text", schema.StringValue("abcdefgh"), map[string]any{"max_preview": 4})
		require.NoError(t, err)
		assert.Equal(t, "abcd...", res.Text.Content)
	})

	t.Run("AcceptsUTF8Bytes", func(t *testing.T) {
		res, err := processText(scope, "text", schema.BytesValue([]byte("héllo")), nil)
		require.NoError(t, err)
		assert.Equal(t, "héllo", res.Text.Content)
	})

	t.Run("RejectsBinaryBytes", func(t *testing.T) {
		_, err := processText(scope, "text", schema.BytesValue([]byte{0xff, 0xfe}), nil)
		assert.Error(t, err)
	})

	t.Run("RejectsNonString", func(t *testing.T) {
		_, err := processText(scope, "text", schema.IntValue(5), nil)
		assert.Error(t, err)
	})
}

func TestBase64TextProcessor(t *testing.T) {
	scope := testScope(t)

	res, err := processBase64Text(scope, "payload", schema.StringValue("aGVsbG8="), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text.Content)

	_, err = processBase64Text(scope, "payload", schema.StringValue("!!not base64!!"), nil)
	assert.Error(t, err)
}

func TestHexProcessor(t *testing.T) {
	scope := testScope(t)

	res, err := processHex(scope, "blob", schema.BytesValue([]byte{0xde, 0xad, 0xbe, 0xef}), nil)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", res.Custom["hex"])
	assert.Equal(t, 4, res.Custom["size"])
	assert.Equal(t, false, res.Custom["truncated"])

	res, err = processHex(scope, "blob", schema.BytesValue(make([]byte, 1000)), map[string]any{"max_bytes": 8})
	require.NoError(t, err)
	assert.Equal(t, 16, len(res.Custom["hex"].(string)))
	assert.Equal(t, true, res.Custom["truncated"])
}

func TestPCMAudioProcessor(t *testing.T) {
	scope, dir := testScopeDir(t)

	// 24000 samples of silence at 24kHz mono = 1 second.
	pcm := make([]byte, 48000)
	res, err := processPCMAudio(scope, "wav", schema.BytesValue(pcm), map[string]any{
		"sample_rate": 24000,
		"channels":    1,
	})
	require.NoError(t, err)
	require.Equal(t, ResultAudio, res.Kind)
	assert.Equal(t, 24000, res.Audio.SampleRate)
	assert.Equal(t, 1, res.Audio.Channels)
	assert.Equal(t, int64(1000), res.Audio.DurationMS)
	assert.NotEmpty(t, res.Audio.ArtifactID)

	// The artifact is a well-formed RIFF/WAVE file.
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(filepath.Join(dir, files[0].Name()))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), 44)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, uint32(24000), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(data[40:44]))

	t.Run("RejectsOddLength", func(t *testing.T) {
		_, err := processPCMAudio(scope, "wav", schema.BytesValue([]byte{1, 2, 3}), nil)
		assert.Error(t, err)
	})
}

func TestRawImageProcessor(t *testing.T) {
	scope, dir := testScopeDir(t)

	pixels := make([]byte, 16) // 4x4 gray
	for i := range pixels {
		pixels[i] = byte(i * 16)
	}
	res, err := processRawImage(scope, "frame", schema.BytesValue(pixels), map[string]any{
		"width":  4,
		"height": 4,
	})
	require.NoError(t, err)
	require.Equal(t, ResultImage, res.Kind)
	assert.Equal(t, 4, res.Image.Width)
	assert.Equal(t, 4, res.Image.Height)

	// The artifact decodes as a PNG of the right bounds.
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	f, err := os.Open(filepath.Join(dir, files[0].Name()))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	t.Run("RejectsSizeMismatch", func(t *testing.T) {
		_, err := processRawImage(scope, "frame", schema.BytesValue(pixels), map[string]any{
			"width": 10, "height": 10,
		})
		assert.Error(t, err)
	})

	t.Run("RequiresDimensions", func(t *testing.T) {
		_, err := processRawImage(scope, "frame", schema.BytesValue(pixels), nil)
		assert.Error(t, err)
	})
}

func TestCfgIntCoercions(t *testing.T) {
	assert.Equal(t, 7, cfgInt(map[string]any{"k": 7}, "k", 0))
	assert.Equal(t, 7, cfgInt(map[string]any{"k": int64(7)}, "k", 0))
	assert.Equal(t, 7, cfgInt(map[string]any{"k": float64(7)}, "k", 0))
	assert.Equal(t, 9, cfgInt(map[string]any{"k": "oops"}, "k", 9))
	assert.Equal(t, 9, cfgInt(nil, "k", 9))
}
