package processor

// ResultKind discriminates the Result variant.
type ResultKind string

const (
	ResultText   ResultKind = "text"
	ResultAudio  ResultKind = "audio"
	ResultImage  ResultKind = "image"
	ResultCustom ResultKind = "custom"
	ResultFailed ResultKind = "failed"
)

// TextResult is a rendered text preview. Content may be truncated; Length is
// the full length of the original value.
type TextResult struct {
	Content string `json:"content"`
	Length  int    `json:"length"`
}

// AudioResult references a playable audio artifact produced from raw field
// bytes. The artifact is request-scoped; the UI fetches it by ID.
type AudioResult struct {
	ArtifactID string `json:"artifact_id"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	DurationMS int64  `json:"duration_ms"`
	SizeBytes  int    `json:"size_bytes"`
}

// ImageResult references a rendered image artifact.
type ImageResult struct {
	ArtifactID string `json:"artifact_id"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// Result is the outcome of processing one decoded field. Exactly one of the
// payload members matching Kind is set; Kind == ResultFailed carries only
// Reason. A Failed result is data, not an error: it never aborts sibling
// fields or the request.
type Result struct {
	Field  string         `json:"field"`
	Kind   ResultKind     `json:"kind"`
	Text   *TextResult    `json:"text,omitempty"`
	Audio  *AudioResult   `json:"audio,omitempty"`
	Image  *ImageResult   `json:"image,omitempty"`
	Custom map[string]any `json:"custom,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

func textResult(field, content string, length int) Result {
	return Result{Field: field, Kind: ResultText, Text: &TextResult{Content: content, Length: length}}
}

func customResult(field string, payload map[string]any) Result {
	return Result{Field: field, Kind: ResultCustom, Custom: payload}
}

func failedResult(field, reason string) Result {
	return Result{Field: field, Kind: ResultFailed, Reason: reason}
}
