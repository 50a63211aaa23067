package pipelines

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sidegen-ml/sidegen/backends"
	"github.com/sidegen-ml/sidegen/events"
	"github.com/sidegen-ml/sidegen/streamers"
)

// ImageCommandPrefix marks a user turn as an image-generation request.
const ImageCommandPrefix = "/imagine "

const multimodalPreamble = "You are a helpful assistant. Answer the user's questions in a concise manner."

// MultimodalPipeline runs a vision-language model. A user turn starting with
// ImageCommandPrefix is routed to the model's image decoder; everything else
// is answered as text, with image attachments fed through the processor's
// image side channel.
type MultimodalPipeline struct {
	Instance  *backends.Instance
	Publisher events.Publisher
	Logger    zerolog.Logger
	Now       func() time.Time
}

func (p *MultimodalPipeline) Generate(ctx context.Context, messages []backends.Message, config backends.GenerationConfig, stop *backends.StopFlag) (*GenerationResult, error) {
	if len(messages) == 0 {
		return nil, errNoMessages
	}
	p.Publisher.Publish(events.Assistant("Thinking..."))

	// Only the last turn decides the sub-mode.
	last := messages[len(messages)-1]
	if strings.HasPrefix(last.Content, ImageCommandPrefix) && p.Instance.Images != nil {
		return p.generateImage(ctx, strings.TrimPrefix(last.Content, ImageCommandPrefix), config, stop)
	}
	return p.generateText(ctx, messages, config, stop)
}

func (p *MultimodalPipeline) generateImage(ctx context.Context, text string, config backends.GenerationConfig, stop *backends.StopFlag) (*GenerationResult, error) {
	prompt, err := backends.ApplyChatTemplate("text_to_image", []backends.Message{
		{Role: "User", Content: text},
	}, false)
	if err != nil {
		return nil, err
	}

	total := p.Instance.Images.NumImageTokens()
	opts := config.Options()
	opts.DoSample = true
	opts.MinNewTokens = total
	opts.MaxNewTokens = total

	streamer := streamers.NewProgressStreamer(total, func(update streamers.ProgressUpdate) {
		p.Publisher.Publish(events.ImageProgress(update))
	})
	streamer.Now = p.Now

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	deltas, errs, err := p.Instance.Images.GenerateImages(genCtx, backends.GenerationInputs{Prompt: prompt}, opts)
	if err != nil {
		return nil, err
	}

	var image *backends.Image
	for delta := range deltas {
		if stop != nil && stop.Interrupted() {
			cancel()
			for range deltas {
			}
			break
		}
		if delta.Image != nil {
			image = delta.Image
			continue
		}
		streamer.Put()
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	if image == nil {
		// Interrupted before the terminal delta.
		return nil, nil
	}

	p.Logger.Debug().
		Int("width", image.Width).
		Int("height", image.Height).
		Int("steps", streamer.Count()).
		Msg("image generated")
	p.Publisher.Publish(events.ImageResult(events.ImageData{
		UInt8Array: image.Data,
		Width:      image.Width,
		Height:     image.Height,
		Channels:   image.Channels,
	}))
	return &GenerationResult{Image: image}, nil
}

func (p *MultimodalPipeline) generateText(ctx context.Context, messages []backends.Message, config backends.GenerationConfig, stop *backends.StopFlag) (*GenerationResult, error) {
	tk := p.Instance.Tokenizer

	remapped := make([]backends.Message, 0, len(messages)+1)
	var images []string
	for _, message := range messages {
		m := backends.Message{Role: mapMultimodalRole(message.Role), Content: message.Content}
		if message.Image != "" {
			m.Content = "<image_placeholder>\n" + message.Content
			images = append(images, message.Image)
		}
		remapped = append(remapped, m)
	}
	if len(remapped) == 1 {
		remapped = append([]backends.Message{{Role: "System", Content: multimodalPreamble}}, remapped...)
	}

	prompt, err := backends.ApplyChatTemplate(p.Instance.Config.ChatTemplate, remapped, true)
	if err != nil {
		return nil, err
	}
	promptIDs, err := tk.Encode(prompt, true)
	if err != nil {
		return nil, err
	}

	streamer := streamers.NewTextStreamer(func(snapshot streamers.TelemetrySnapshot) {
		p.Publisher.Publish(events.Update(snapshot))
	})
	streamer.Now = p.Now

	// Vision-language decoding is greedy, bounded by max_new_tokens.
	opts := config.Options()
	opts.DoSample = false

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	deltas, errs, err := p.Instance.Generative.Generate(genCtx, backends.GenerationInputs{
		Prompt:   prompt,
		TokenIDs: promptIDs,
		Images:   images,
	}, opts)
	if err != nil {
		return nil, err
	}
	if err := consumeDeltas(cancel, stop, deltas, errs, streamer.Put); err != nil {
		return nil, err
	}

	output := prompt + streamer.Output()
	if ids := streamer.TokenIDs(); hasTokenIDs(ids) {
		if decoded, decodeErr := tk.Decode(append(promptIDs, ids...), false); decodeErr == nil {
			output = decoded
		}
	}
	p.Publisher.Publish(events.End(events.EndData{
		Output:        output,
		CleanedOutput: streamer.Output(),
	}))
	return &GenerationResult{
		Output:        output,
		CleanedOutput: streamer.Output(),
		Telemetry:     streamer.Telemetry(),
	}, nil
}

// mapMultimodalRole converts chat roles to the title-case names the
// vision-language templates expect.
func mapMultimodalRole(role string) string {
	switch role {
	case "user":
		return "User"
	case "assistant":
		return "Assistant"
	default:
		return "System"
	}
}
