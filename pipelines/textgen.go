package pipelines

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sidegen-ml/sidegen/backends"
	"github.com/sidegen-ml/sidegen/events"
	"github.com/sidegen-ml/sidegen/streamers"
)

// TextGenerationPipeline runs chat completion over a generative model. With
// Reasoning set it additionally tracks the thinking span of the output and
// labels telemetry updates with the current state.
type TextGenerationPipeline struct {
	Instance  *backends.Instance
	Publisher events.Publisher
	Logger    zerolog.Logger
	Reasoning bool
	// Now overrides the clock used for telemetry. Nil means time.Now.
	Now func() time.Time
}

// Generate renders the conversation through the model's chat template, runs
// the model and streams per-token updates. It publishes the interim
// assistant turn, the update stream and the terminal end event; load and
// error events are the caller's concern.
func (p *TextGenerationPipeline) Generate(ctx context.Context, messages []backends.Message, config backends.GenerationConfig, stop *backends.StopFlag) (*GenerationResult, error) {
	tk := p.Instance.Tokenizer

	p.Publisher.Publish(events.Assistant("Thinking..."))

	prompt, err := backends.ApplyChatTemplate(p.Instance.Config.ChatTemplate, messages, true)
	if err != nil {
		return nil, err
	}
	promptIDs, err := tk.Encode(prompt, true)
	if err != nil {
		return nil, fmt.Errorf("error encoding prompt: %w", err)
	}

	streamer := streamers.NewTextStreamer(func(snapshot streamers.TelemetrySnapshot) {
		p.Publisher.Publish(events.Update(snapshot))
	})
	streamer.Now = p.Now
	if p.Reasoning {
		endThinkID, thinkErr := backends.EndOfThinkTokenID(tk)
		if thinkErr != nil {
			return nil, thinkErr
		}
		streamer.TrackThinking(endThinkID)
	}

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	deltas, errs, err := p.Instance.Generative.Generate(genCtx, backends.GenerationInputs{
		Prompt:   prompt,
		TokenIDs: promptIDs,
	}, config.Options())
	if err != nil {
		return nil, err
	}
	if err := consumeDeltas(cancel, stop, deltas, errs, streamer.Put); err != nil {
		return nil, err
	}

	// Raw output keeps special tokens so clients can inspect markers such
	// as the thinking span delimiters. Backends that do not expose token
	// ids fall back to the rendered prompt plus the streamed text.
	output := prompt + streamer.Output()
	if ids := streamer.TokenIDs(); hasTokenIDs(ids) {
		decoded, decodeErr := tk.Decode(append(promptIDs, ids...), false)
		if decodeErr != nil {
			p.Logger.Warn().Err(decodeErr).Msg("failed to decode full sequence, falling back to streamed text")
		} else {
			output = decoded
		}
	}
	telemetry := streamer.Telemetry()
	p.Logger.Debug().
		Int("numTokens", telemetry.NumTokens).
		Float64("tps", telemetry.TPS).
		Msg("generation finished")

	p.Publisher.Publish(events.End(events.EndData{
		Output:        output,
		CleanedOutput: streamer.Output(),
	}))
	return &GenerationResult{
		Output:        output,
		CleanedOutput: streamer.Output(),
		Telemetry:     telemetry,
	}, nil
}
