package sidegen

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/sidegen-ml/sidegen/backends"
	"github.com/sidegen-ml/sidegen/util"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	modelConfigKey      = "model_config.json"
	generationConfigKey = "generation_config.json"
)

// DefaultLLMModelConfig is the model used when no configuration has been
// stored, or when the stored model does not serve the requested task.
var DefaultLLMModelConfig = backends.ModelConfig{
	Task:         backends.TaskTextGeneration,
	ModelID:      "Qwen/Qwen2.5-0.5B-Instruct-GGUF",
	Quantization: "q4_k_m",
	ChatTemplate: "qwen",
}

// DefaultGenerationConfig is the sampling configuration used when none has
// been stored.
var DefaultGenerationConfig = backends.GenerationConfig{
	DoSample:          true,
	TopK:              3,
	Temperature:       0.7,
	TopP:              0.9,
	MaxNewTokens:      256,
	RepetitionPenalty: 1.15,
}

// Store reads session configuration from JSON documents under a base URL.
// The URL may point at any storage afs understands, local paths included.
type Store struct {
	BaseURL string
}

func NewStore(baseURL string) *Store {
	return &Store{BaseURL: baseURL}
}

// ModelConfig returns the stored model configuration. When task is non-empty
// and the stored configuration serves a different task, the default LLM
// configuration is returned instead so a task-specific caller never receives
// a model it cannot use.
func (s *Store) ModelConfig(ctx context.Context, task backends.Task) (backends.ModelConfig, error) {
	var config backends.ModelConfig
	ok, err := s.read(ctx, modelConfigKey, &config)
	if err != nil {
		return backends.ModelConfig{}, err
	}
	if !ok {
		return DefaultLLMModelConfig, nil
	}
	if task != "" && config.Task != task {
		return DefaultLLMModelConfig, nil
	}
	return config, nil
}

// GenerationConfig returns the stored sampling configuration, or the default
// when none has been stored.
func (s *Store) GenerationConfig(ctx context.Context) (backends.GenerationConfig, error) {
	var config backends.GenerationConfig
	ok, err := s.read(ctx, generationConfigKey, &config)
	if err != nil {
		return backends.GenerationConfig{}, err
	}
	if !ok {
		return DefaultGenerationConfig, nil
	}
	return config, nil
}

// SetModelConfig persists the model configuration.
func (s *Store) SetModelConfig(ctx context.Context, config backends.ModelConfig) error {
	return s.write(ctx, modelConfigKey, config)
}

// SetGenerationConfig persists the sampling configuration.
func (s *Store) SetGenerationConfig(ctx context.Context, config backends.GenerationConfig) error {
	return s.write(ctx, generationConfigKey, config)
}

func (s *Store) read(_ context.Context, key string, out any) (bool, error) {
	location := util.PathJoinSafe(s.BaseURL, key)
	exists, err := util.FileExists(location)
	if err != nil || !exists {
		return false, err
	}
	data, err := util.ReadFileBytes(location)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("error parsing %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) write(ctx context.Context, key string, in any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return util.UploadBytes(ctx, util.PathJoinSafe(s.BaseURL, key), data)
}
