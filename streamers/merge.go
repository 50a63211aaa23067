package streamers

import (
	"strings"

	"github.com/sidegen-ml/sidegen/backends"
)

// Chunk is one recombined transcript segment with its time span in seconds.
type Chunk struct {
	Text      string     `json:"text"`
	Timestamp [2]float64 `json:"timestamp"`
}

// MergeStreamer recombines overlapping sliding-window transcription chunks
// into a single transcript. Window strides make consecutive chunks repeat
// text at their boundary; the repeated span is detected as the longest
// suffix of the transcript so far that prefixes the incoming chunk.
type MergeStreamer struct {
	// OnChunk, when set, is invoked once per consumed chunk.
	OnChunk func(Chunk)

	text   string
	chunks []Chunk
}

func NewMergeStreamer() *MergeStreamer {
	return &MergeStreamer{}
}

// Put consumes one transcribed chunk.
func (s *MergeStreamer) Put(delta backends.ChunkDelta) {
	s.text = mergeOverlap(s.text, delta.Text)
	chunk := Chunk{Text: delta.Text, Timestamp: delta.Timestamp}
	s.chunks = append(s.chunks, chunk)
	if s.OnChunk != nil {
		s.OnChunk(chunk)
	}
}

// Text returns the merged transcript.
func (s *MergeStreamer) Text() string {
	return s.text
}

// Chunks returns the raw chunks in arrival order.
func (s *MergeStreamer) Chunks() []Chunk {
	return s.chunks
}

func mergeOverlap(existing, incoming string) string {
	if existing == "" {
		return incoming
	}
	if incoming == "" {
		return existing
	}
	max := len(existing)
	if len(incoming) < max {
		max = len(incoming)
	}
	for k := max; k > 0; k-- {
		if existing[len(existing)-k:] == incoming[:k] {
			return existing + incoming[k:]
		}
	}
	if strings.HasSuffix(existing, " ") || strings.HasPrefix(incoming, " ") {
		return existing + incoming
	}
	return existing + " " + incoming
}
