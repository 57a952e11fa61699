package processor

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"image"
	"image/png"
	"io"
	"unicode/utf8"

	"github.com/kvlens/kvlens/internal/artifact"
	"github.com/kvlens/kvlens/internal/schema"
)

// Built-in processor IDs.
const (
	ProcessorText       = "text"
	ProcessorBase64Text = "base64_text"
	ProcessorHex        = "hex"
	ProcessorPCMAudio   = "pcm_audio"
	ProcessorRawImage   = "raw_image"
)

func builtins() map[string]Func {
	return map[string]Func{
		ProcessorText:       processText,
		ProcessorBase64Text: processBase64Text,
		ProcessorHex:        processHex,
		ProcessorPCMAudio:   processPCMAudio,
		ProcessorRawImage:   processRawImage,
	}
}

// processText renders a string field as a truncated text preview.
// Config: max_preview (default 200 characters).
func processText(_ *artifact.Scope, fieldName string, value schema.Value, config map[string]any) (Result, error) {
	var text string
	switch value.Kind {
	case schema.KindString:
		text = value.Str
	case schema.KindBytes:
		if !utf8.Valid(value.Bytes) {
			return Result{}, fmt.Errorf("field %s is not valid UTF-8", fieldName)
		}
		text = string(value.Bytes)
	default:
		return Result{}, fmt.Errorf("text processor requires a string field, got %s", value.Kind)
	}

	maxPreview := cfgInt(config, "max_preview", 200)
	preview := text
	if len(preview) > maxPreview {
		preview = preview[:maxPreview] + "..."
	}
	return textResult(fieldName, preview, len(text)), nil
}

// processBase64Text decodes a base64 string field and renders it as text.
func processBase64Text(scope *artifact.Scope, fieldName string, value schema.Value, config map[string]any) (Result, error) {
	if value.Kind != schema.KindString {
		return Result{}, fmt.Errorf("base64_text processor requires a string field, got %s", value.Kind)
	}
	decoded, err := base64.StdEncoding.DecodeString(value.Str)
	if err != nil {
		return Result{}, fmt.Errorf("invalid base64: %w", err)
	}
	return processText(scope, fieldName, schema.BytesValue(decoded), config)
}

// processHex renders the first bytes of a field as a hex dump.
// Config: max_bytes (default 256).
func processHex(_ *artifact.Scope, fieldName string, value schema.Value, config map[string]any) (Result, error) {
	var data []byte
	switch value.Kind {
	case schema.KindBytes:
		data = value.Bytes
	case schema.KindString:
		data = []byte(value.Str)
	default:
		return Result{}, fmt.Errorf("hex processor requires bytes or string, got %s", value.Kind)
	}

	maxBytes := cfgInt(config, "max_bytes", 256)
	shown := data
	truncated := false
	if len(shown) > maxBytes {
		shown = shown[:maxBytes]
		truncated = true
	}
	return customResult(fieldName, map[string]any{
		"hex":       hex.EncodeToString(shown),
		"size":      len(data),
		"truncated": truncated,
	}), nil
}

// processPCMAudio wraps raw 16-bit PCM bytes in a WAV container and writes
// it as a request-scoped artifact.
// Config: sample_rate (default 16000), channels (default 1).
func processPCMAudio(scope *artifact.Scope, fieldName string, value schema.Value, config map[string]any) (Result, error) {
	if value.Kind != schema.KindBytes {
		return Result{}, fmt.Errorf("pcm_audio processor requires a bytes field, got %s", value.Kind)
	}
	pcm := value.Bytes
	if len(pcm) < 2 || len(pcm)%2 != 0 {
		return Result{}, fmt.Errorf("field %s is not 16-bit PCM (%d bytes)", fieldName, len(pcm))
	}

	sampleRate := cfgInt(config, "sample_rate", 16000)
	channels := cfgInt(config, "channels", 1)
	if sampleRate <= 0 || channels <= 0 {
		return Result{}, fmt.Errorf("invalid audio config: sample_rate=%d channels=%d", sampleRate, channels)
	}

	f, handle, err := scope.Create(".wav")
	if err != nil {
		return Result{}, err
	}
	if err := writeWAV(f, pcm, sampleRate, channels); err != nil {
		_ = f.Close()
		return Result{}, fmt.Errorf("failed to write WAV: %w", err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to close artifact: %w", err)
	}

	samples := len(pcm) / 2 / channels
	durationMS := int64(samples) * 1000 / int64(sampleRate)
	return Result{
		Field: fieldName,
		Kind:  ResultAudio,
		Audio: &AudioResult{
			ArtifactID: handle.ID,
			SampleRate: sampleRate,
			Channels:   channels,
			DurationMS: durationMS,
			SizeBytes:  len(pcm),
		},
	}, nil
}

// writeWAV emits a canonical 44-byte RIFF/WAVE header followed by the PCM
// payload (16-bit little-endian, format tag 1).
func writeWAV(w io.Writer, pcm []byte, sampleRate, channels int) error {
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

// processRawImage renders raw pixel bytes as a PNG artifact.
// Config: width, height (required), format "gray" or "rgba" (default gray).
func processRawImage(scope *artifact.Scope, fieldName string, value schema.Value, config map[string]any) (Result, error) {
	if value.Kind != schema.KindBytes {
		return Result{}, fmt.Errorf("raw_image processor requires a bytes field, got %s", value.Kind)
	}
	width := cfgInt(config, "width", 0)
	height := cfgInt(config, "height", 0)
	if width <= 0 || height <= 0 {
		return Result{}, fmt.Errorf("raw_image requires positive width and height config, got %dx%d", width, height)
	}

	format := cfgString(config, "format", "gray")
	var img image.Image
	switch format {
	case "gray":
		if len(value.Bytes) != width*height {
			return Result{}, fmt.Errorf("expected %d gray pixels, got %d bytes", width*height, len(value.Bytes))
		}
		gray := image.NewGray(image.Rect(0, 0, width, height))
		copy(gray.Pix, value.Bytes)
		img = gray
	case "rgba":
		if len(value.Bytes) != width*height*4 {
			return Result{}, fmt.Errorf("expected %d RGBA bytes, got %d", width*height*4, len(value.Bytes))
		}
		rgba := image.NewNRGBA(image.Rect(0, 0, width, height))
		copy(rgba.Pix, value.Bytes)
		img = rgba
	default:
		return Result{}, fmt.Errorf("unknown raw_image format %q", format)
	}

	f, handle, err := scope.Create(".png")
	if err != nil {
		return Result{}, err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return Result{}, fmt.Errorf("failed to encode PNG: %w", err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("failed to close artifact: %w", err)
	}

	return Result{
		Field: fieldName,
		Kind:  ResultImage,
		Image: &ImageResult{ArtifactID: handle.ID, Width: width, Height: height},
	}, nil
}

// cfgInt reads an integer config value, tolerating the numeric types YAML
// and JSON decoding produce.
func cfgInt(config map[string]any, key string, def int) int {
	v, ok := config[key]
	if !ok {
		return def
	}
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case uint64:
		return int(x)
	case float64:
		return int(x)
	default:
		return def
	}
}

func cfgString(config map[string]any, key, def string) string {
	if v, ok := config[key].(string); ok {
		return v
	}
	return def
}
