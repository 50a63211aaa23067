package backends

import "strings"

// Task selects which pipeline processes a request.
type Task string

const (
	TaskTextGeneration Task = "text-generation"
	TaskReasoning      Task = "reasoning"
	TaskMultimodalLLM  Task = "multimodal-llm"
	TaskSpeechToText   Task = "speech-to-text"
	TaskTextToSpeech   Task = "text-to-speech"
)

// ModelConfig identifies the model to load for a task. It is immutable for
// the duration of one load.
type ModelConfig struct {
	Task         Task   `json:"task"`
	ModelID      string `json:"model_id"`
	Quantization string `json:"quantization,omitempty"`
	Device       string `json:"device,omitempty"`
	ChatTemplate string `json:"chat_template,omitempty"`
}

// IsDistil reports whether the configured model is a distilled variant, which
// transcription uses to pick shorter chunk windows.
func (c ModelConfig) IsDistil() bool {
	return strings.Contains(strings.ToLower(c.ModelID), "distil")
}

// GenerationConfig holds the sampling parameters loaded fresh per request.
// It is never mutated, only merged into model-call options.
type GenerationConfig struct {
	DoSample          bool    `json:"do_sample"`
	Temperature       float64 `json:"temperature"`
	TopK              int     `json:"top_k"`
	TopP              float64 `json:"top_p"`
	MaxNewTokens      int     `json:"max_new_tokens"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

// Options converts the stored sampling parameters into model-call options.
func (c GenerationConfig) Options() GenerationOptions {
	return GenerationOptions{
		DoSample:          c.DoSample,
		Temperature:       c.Temperature,
		TopK:              c.TopK,
		TopP:              c.TopP,
		MaxNewTokens:      c.MaxNewTokens,
		RepetitionPenalty: c.RepetitionPenalty,
	}
}
