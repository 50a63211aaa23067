package backends

import "context"

// Message is a single conversation turn. Image and Audio are optional
// side-channel attachments; the image is an opaque reference (URL or data
// URI) resolved by the processor, the audio blob carries either raw PCM
// samples or a remote URL.
type Message struct {
	Role    string     `json:"role"`
	Content string     `json:"content"`
	Image   string     `json:"image,omitempty"`
	Audio   *AudioBlob `json:"blob,omitempty"`
}

// SequenceDelta is one decode step of a generative model. The first delta of
// every stream is a prompt warm-up marker: it carries no generated token and
// consumers use it only to seed timing.
type SequenceDelta struct {
	Token   string
	TokenID int64
	Index   int
}

// GenerationInputs holds the model-ready input for one generation.
type GenerationInputs struct {
	Prompt   string
	TokenIDs []int64
	Images   []string
}

// GenerationOptions are the sampling parameters merged into a model call.
type GenerationOptions struct {
	DoSample          bool
	Temperature       float64
	TopK              int
	TopP              float64
	MaxNewTokens      int
	MinNewTokens      int
	RepetitionPenalty float64
}

// GenerativeModel is the boundary to an autoregressive decoder. Generate
// returns a bounded, ordered token stream: one warm-up delta, then one delta
// per generated token, closed at end of generation. Both channels must be
// closed promptly once ctx is cancelled; cancellation at a token boundary is
// how cooperative interruption reaches the model.
type GenerativeModel interface {
	Generate(ctx context.Context, inputs GenerationInputs, opts GenerationOptions) (<-chan SequenceDelta, <-chan error, error)
}

// Image is a decoded image tensor in interleaved channel order.
type Image struct {
	Data     []uint8
	Width    int
	Height   int
	Channels int
}

// ImageDelta is one step of fixed-length image-token decoding. The terminal
// delta carries the decoded image; step deltas have a nil Image.
type ImageDelta struct {
	Step  int
	Image *Image
}

// ImageGenerator is the boundary to a text-to-image decoder. GenerateImages
// emits a warm-up delta, exactly NumImageTokens step deltas, and a terminal
// delta carrying the image.
type ImageGenerator interface {
	NumImageTokens() int
	GenerateImages(ctx context.Context, inputs GenerationInputs, opts GenerationOptions) (<-chan ImageDelta, <-chan error, error)
}

// ChunkDelta is one transcribed sliding-window chunk. Consecutive chunks may
// overlap at window boundaries; recombination is the caller's concern.
type ChunkDelta struct {
	Text       string
	Timestamp  [2]float64
	TokenCount int
}

// TranscriptionOptions control sliding-window speech recognition.
type TranscriptionOptions struct {
	ChunkLengthS     float64
	StrideLengthS    float64
	Language         string
	Task             string
	ReturnTimestamps bool
}

// AudioInput is a resolved audio source: raw samples or a URL, never both.
type AudioInput struct {
	Samples []float32
	URL     string
}

// SpeechRecognizer is the boundary to a merged speech-recognition pipeline
// (feature extraction, decoding and tokenization folded together).
type SpeechRecognizer interface {
	Transcribe(ctx context.Context, audio AudioInput, opts TranscriptionOptions) (<-chan ChunkDelta, <-chan error, error)
}
