// Package pipelines implements the per-task generation flows. Each pipeline
// binds a loaded model instance to a publisher and turns one request into a
// stream of events plus a terminal result.
package pipelines

import (
	"context"
	"errors"
	"time"

	"github.com/sidegen-ml/sidegen/backends"
	"github.com/sidegen-ml/sidegen/streamers"
)

var errNoMessages = errors.New("request contains no messages")

// GenerationResult is the terminal outcome of a pipeline run. Output is the
// raw decoded sequence with special tokens, CleanedOutput the streamed text
// without them. Image and Chunks are populated only by the image and
// transcription flows.
type GenerationResult struct {
	Output        string                      `json:"output"`
	CleanedOutput string                      `json:"cleanedOutput,omitempty"`
	Telemetry     streamers.TelemetrySnapshot `json:"telemetry"`
	Image         *backends.Image             `json:"image,omitempty"`
	Chunks        []streamers.Chunk           `json:"chunks,omitempty"`
}

// consumeDeltas drains a token stream into put, checking the stop flag at
// every token boundary. An interrupt cancels the model context and waits for
// the stream to close, so the native decoder always unwinds before the run
// returns. The model error, if any, is returned once the stream ends.
func consumeDeltas(cancel context.CancelFunc, stop *backends.StopFlag, deltas <-chan backends.SequenceDelta, errs <-chan error, put func(backends.SequenceDelta)) error {
	for delta := range deltas {
		if stop != nil && stop.Interrupted() {
			cancel()
			for range deltas {
			}
			break
		}
		put(delta)
	}
	return <-errs
}

func nowFunc(now func() time.Time) func() time.Time {
	if now != nil {
		return now
	}
	return time.Now
}

// hasTokenIDs reports whether a backend populated token ids on its deltas.
func hasTokenIDs(ids []int64) bool {
	for _, id := range ids {
		if id != 0 {
			return true
		}
	}
	return false
}
