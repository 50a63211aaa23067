package backends

import (
	"context"
	"errors"
	"fmt"

	"github.com/sidegen-ml/sidegen/util"
)

// Instance owns the (tokenizer or processor, model) pair loaded for a task.
// Only the model handles relevant to the instance's task are populated.
type Instance struct {
	Config     ModelConfig
	Tokenizer  Tokenizer
	Generative GenerativeModel
	Images     ImageGenerator
	Recognizer SpeechRecognizer
	Destroy    func() error
}

// Progress is one load-progress notification. Status is the loader phase
// name and is forwarded verbatim as the outbound event status.
type Progress struct {
	Status   string  `json:"status"`
	File     string  `json:"file,omitempty"`
	Progress float64 `json:"progress"`
}

// ProgressFunc receives load progress. Progress values are monotonically
// non-decreasing within [0,100] but may fire at any granularity; callers
// that forward them over a bus should coalesce to integer transitions.
type ProgressFunc func(Progress)

// Provider loads model instances. Implementations must propagate load
// failures rather than retry silently; the caller surfaces them as terminal
// error events.
type Provider interface {
	Load(ctx context.Context, config ModelConfig, onProgress ProgressFunc) (*Instance, error)
}

// HubProvider loads models from the HuggingFace hub, caching files under
// ModelsDir. Model construction is delegated to whichever inference backend
// this binary was built with.
type HubProvider struct {
	ModelsDir        string
	AuthToken        string
	TokenizerRuntime string
	ContextSize      int
	Threads          int
}

func (p *HubProvider) Load(ctx context.Context, config ModelConfig, onProgress ProgressFunc) (*Instance, error) {
	if onProgress == nil {
		onProgress = func(Progress) {}
	}
	if config.ModelID == "" {
		return nil, errors.New("model id is required")
	}
	onProgress(Progress{Status: "initiate", File: config.ModelID, Progress: 0})

	modelPath, err := ensureModelFiles(config.ModelID, p.ModelsDir, p.AuthToken, onProgress)
	if err != nil {
		return nil, fmt.Errorf("error fetching model %s: %w", config.ModelID, err)
	}

	tokenizerBytes, err := util.ReadFileBytes(util.PathJoinSafe(modelPath, "tokenizer.json"))
	if err != nil {
		return nil, fmt.Errorf("error reading tokenizer.json for %s: %w", config.ModelID, err)
	}
	tk, err := LoadTokenizer(tokenizerBytes, p.TokenizerRuntime)
	if err != nil {
		return nil, err
	}
	onProgress(Progress{Status: "progress", File: "tokenizer.json", Progress: 95})

	instance := &Instance{
		Config:    config,
		Tokenizer: tk,
		Destroy:   tk.Destroy,
	}

	switch config.Task {
	case TaskTextGeneration, TaskReasoning, TaskMultimodalLLM:
		model, modelErr := newGenerativeBackend(config, modelPath, p.ContextSize, p.Threads)
		if modelErr != nil {
			return nil, errors.Join(modelErr, tk.Destroy())
		}
		instance.Generative = model
		if closer, ok := model.(interface{ Close() error }); ok {
			instance.Destroy = func() error {
				return errors.Join(tk.Destroy(), closer.Close())
			}
		}
	case TaskSpeechToText:
		return nil, errors.Join(fmt.Errorf("no speech recognition backend is compiled into this build"), tk.Destroy())
	case TaskTextToSpeech:
		return nil, errors.Join(fmt.Errorf("no speech synthesis backend is compiled into this build"), tk.Destroy())
	default:
		return nil, errors.Join(fmt.Errorf("task %s not recognized", config.Task), tk.Destroy())
	}

	onProgress(Progress{Status: "ready", File: config.ModelID, Progress: 100})
	return instance, nil
}
