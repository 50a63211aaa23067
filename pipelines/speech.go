package pipelines

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sidegen-ml/sidegen/backends"
	"github.com/sidegen-ml/sidegen/events"
	"github.com/sidegen-ml/sidegen/streamers"
)

// SpeechToTextPipeline transcribes audio through a sliding-window speech
// recognizer and recombines the overlapping chunks into one transcript.
type SpeechToTextPipeline struct {
	Instance  *backends.Instance
	Publisher events.Publisher
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Transcribe resolves the audio attachment of the first message and runs
// recognition on it. Failures are terminal to the stream, not the session:
// they are published as error events and reported as a nil result.
func (p *SpeechToTextPipeline) Transcribe(ctx context.Context, messages []backends.Message, stop *backends.StopFlag) (*GenerationResult, error) {
	if len(messages) == 0 || messages[0].Audio == nil {
		p.Publisher.Publish(events.Error("No audio"))
		return nil, nil
	}
	audio, err := messages[0].Audio.Resolve()
	if err != nil {
		if errors.Is(err, backends.ErrNoAudio) {
			p.Publisher.Publish(events.Error("No audio"))
			return nil, nil
		}
		return nil, err
	}

	// Distil checkpoints are trained on shorter windows.
	opts := backends.TranscriptionOptions{
		ChunkLengthS:     30,
		StrideLengthS:    5,
		Language:         "en",
		Task:             "transcribe",
		ReturnTimestamps: true,
	}
	if p.Instance.Config.IsDistil() {
		opts.ChunkLengthS = 20
		opts.StrideLengthS = 3
	}

	now := nowFunc(p.Now)
	merge := streamers.NewMergeStreamer()
	startTime := now()
	numTokens := 0
	merge.OnChunk = func(chunk streamers.Chunk) {
		elapsed := float64(now().Sub(startTime)) / float64(time.Millisecond)
		tps := 0.0
		if elapsed > 0 {
			tps = float64(numTokens) / elapsed * 1000
		}
		p.Publisher.Publish(events.Update(streamers.TelemetrySnapshot{
			Output:    chunk.Text,
			TPS:       tps,
			NumTokens: numTokens,
			Latency:   elapsed,
		}))
	}

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	chunks, errs, err := p.Instance.Recognizer.Transcribe(genCtx, audio, opts)
	if err != nil {
		p.Publisher.Publish(events.Error(err.Error()))
		return nil, nil
	}
	for chunk := range chunks {
		if stop != nil && stop.Interrupted() {
			cancel()
			for range chunks {
			}
			break
		}
		numTokens += chunk.TokenCount
		merge.Put(chunk)
	}
	if err := <-errs; err != nil {
		p.Logger.Error().Err(err).Msg("transcription failed")
		p.Publisher.Publish(events.Error(err.Error()))
		return nil, nil
	}

	text := strings.TrimSpace(merge.Text())
	p.Publisher.Publish(events.End(events.EndData{
		Output:        text,
		CleanedOutput: text,
		Chunks:        merge.Chunks(),
	}))
	return &GenerationResult{
		Output:        text,
		CleanedOutput: text,
		Chunks:        merge.Chunks(),
	}, nil
}

// TextToSpeechPipeline is the placeholder for speech synthesis. The task is
// part of the protocol surface but no synthesis backend exists yet, so a run
// loads nothing and produces no result; the caller reports it as such.
type TextToSpeechPipeline struct {
	Config    backends.ModelConfig
	Publisher events.Publisher
	Logger    zerolog.Logger
}

func (p *TextToSpeechPipeline) Read(_ context.Context, _ []backends.Message, _ *backends.StopFlag) (*GenerationResult, error) {
	p.Logger.Warn().Str("modelId", p.Config.ModelID).Msg("text-to-speech is not implemented")
	return nil, nil
}
