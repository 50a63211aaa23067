//go:build cgo && (LLAMA || ALL)

package backends

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"

	"github.com/sidegen-ml/sidegen/util"
)

// LlamaModel drives a llama.cpp model through the generative boundary. Token
// callbacks from the native loop are bridged onto the delta stream; returning
// false from the callback is how cancellation reaches the native decoder.
type LlamaModel struct {
	model   *llama.LLama
	threads int
}

func newGenerativeBackend(config ModelConfig, modelPath string, ctxSize, threads int) (GenerativeModel, error) {
	weightsPath, err := findGGUF(modelPath)
	if err != nil {
		return nil, err
	}
	if ctxSize <= 0 {
		ctxSize = 2048
	}
	model, err := llama.New(weightsPath, llama.SetContext(ctxSize))
	if err != nil {
		return nil, fmt.Errorf("error loading llama model %s: %w", config.ModelID, err)
	}
	return &LlamaModel{model: model, threads: threads}, nil
}

func (m *LlamaModel) Generate(ctx context.Context, inputs GenerationInputs, opts GenerationOptions) (<-chan SequenceDelta, <-chan error, error) {
	if m.model == nil {
		return nil, nil, fmt.Errorf("llama model not initialized")
	}
	deltas := make(chan SequenceDelta, 10)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		// Prompt warm-up marker: consumers seed timing off the first delta.
		deltas <- SequenceDelta{}

		m.model.SetTokenCallback(func(token string) bool {
			select {
			case <-ctx.Done():
				return false
			case deltas <- SequenceDelta{Token: token}:
				return true
			}
		})
		if _, err := m.model.Predict(inputs.Prompt, mapPredictOptions(opts, m.threads)...); err != nil && ctx.Err() == nil {
			errs <- fmt.Errorf("error during generation: %w", err)
		}
	}()
	return deltas, errs, nil
}

func (m *LlamaModel) Close() error {
	if m.model != nil {
		m.model.Free()
		m.model = nil
	}
	return nil
}

func mapPredictOptions(opts GenerationOptions, threads int) []llama.PredictOption {
	if threads <= 0 {
		threads = 4
	}
	po := []llama.PredictOption{
		llama.SetThreads(threads),
	}
	if opts.MaxNewTokens > 0 {
		po = append(po, llama.SetTokens(opts.MaxNewTokens))
	}
	if !opts.DoSample {
		// Greedy decoding.
		po = append(po, llama.SetTemperature(0), llama.SetTopK(1))
		return po
	}
	if opts.Temperature > 0 {
		po = append(po, llama.SetTemperature(float32(opts.Temperature)))
	}
	if opts.TopK > 0 {
		po = append(po, llama.SetTopK(opts.TopK))
	}
	if opts.TopP > 0 {
		po = append(po, llama.SetTopP(float32(opts.TopP)))
	}
	if opts.RepetitionPenalty > 0 {
		po = append(po, llama.SetPenalty(float32(opts.RepetitionPenalty)))
	}
	return po
}

func findGGUF(modelPath string) (string, error) {
	files, err := util.ListFiles(modelPath)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if strings.HasSuffix(f, ".gguf") {
			return filepath.Join(modelPath, f), nil
		}
	}
	return "", fmt.Errorf("no .gguf weight file found at %s", modelPath)
}
