package streamers

import (
	"strings"
	"time"

	"github.com/sidegen-ml/sidegen/backends"
)

// State labels which span of a reasoning model's output is being produced.
type State string

const (
	StateThinking  State = "thinking"
	StateAnswering State = "answering"
)

// TelemetrySnapshot is the rolling view of a generation emitted after every
// decoded token. Output holds the newly decoded piece on per-token updates
// and the full text on the final snapshot; clients concatenate the pieces.
// Latencies are in milliseconds.
type TelemetrySnapshot struct {
	Output            string  `json:"output"`
	State             State   `json:"state,omitempty"`
	TPS               float64 `json:"tps"`
	NumTokens         int     `json:"numTokens"`
	FirstTokenLatency float64 `json:"firstTokenLatency"`
	Latency           float64 `json:"latency"`
}

// TextStreamer accumulates a token stream and derives throughput telemetry
// from it. The first delta of a stream is the prompt warm-up marker: it seeds
// the clock and is excluded from the token count, so tps reflects decode
// speed rather than prefill.
type TextStreamer struct {
	// OnUpdate is invoked once per decoded token with the latest snapshot.
	OnUpdate func(TelemetrySnapshot)
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time

	endOfThinkID      int64
	trackState        bool
	started           bool
	startTime         time.Time
	numTokens         int
	firstTokenLatency float64
	state             State
	output            strings.Builder
	tokenIDs          []int64
}

func NewTextStreamer(onUpdate func(TelemetrySnapshot)) *TextStreamer {
	return &TextStreamer{OnUpdate: onUpdate}
}

// TrackThinking puts the streamer in reasoning mode: the state starts as
// thinking and flips to answering when endOfThinkID is decoded.
func (s *TextStreamer) TrackThinking(endOfThinkID int64) {
	s.endOfThinkID = endOfThinkID
	s.trackState = true
	s.state = StateThinking
}

func (s *TextStreamer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Put consumes one decode step.
func (s *TextStreamer) Put(delta backends.SequenceDelta) {
	now := s.now()
	if !s.started {
		s.started = true
		s.startTime = now
		return
	}
	s.numTokens++
	elapsed := float64(now.Sub(s.startTime)) / float64(time.Millisecond)
	if s.firstTokenLatency == 0 {
		s.firstTokenLatency = elapsed
	}
	if s.trackState && delta.TokenID == s.endOfThinkID {
		s.state = StateAnswering
	}
	s.output.WriteString(delta.Token)
	s.tokenIDs = append(s.tokenIDs, delta.TokenID)
	if s.OnUpdate != nil {
		s.OnUpdate(s.snapshot(delta.Token, elapsed))
	}
}

func (s *TextStreamer) snapshot(output string, elapsed float64) TelemetrySnapshot {
	tps := 0.0
	if elapsed > 0 {
		tps = float64(s.numTokens) / elapsed * 1000
	}
	return TelemetrySnapshot{
		Output:            output,
		State:             s.state,
		TPS:               tps,
		NumTokens:         s.numTokens,
		FirstTokenLatency: s.firstTokenLatency,
		Latency:           elapsed,
	}
}

// Output returns the accumulated generated text.
func (s *TextStreamer) Output() string {
	return s.output.String()
}

// TokenIDs returns the ids of the decoded tokens, warm-up excluded.
func (s *TextStreamer) TokenIDs() []int64 {
	return s.tokenIDs
}

// Telemetry returns the final snapshot for the stream consumed so far, with
// the full accumulated text as Output.
func (s *TextStreamer) Telemetry() TelemetrySnapshot {
	elapsed := 0.0
	if s.started {
		elapsed = float64(s.now().Sub(s.startTime)) / float64(time.Millisecond)
	}
	return s.snapshot(s.output.String(), elapsed)
}
