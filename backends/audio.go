package backends

import "errors"

// ErrNoAudio indicates a message blob with neither raw samples nor a URL.
var ErrNoAudio = errors.New("No audio")

// AudioBlob is the wire form of an audio attachment. Exactly one variant is
// populated: raw PCM samples with a declared length, or a remote URL.
type AudioBlob struct {
	Samples []float32 `json:"audio,omitempty"`
	Length  int       `json:"audioLength,omitempty"`
	URL     string    `json:"audioUrl,omitempty"`
}

// Resolve validates the blob and returns the audio input for transcription.
// Raw samples are copied into a buffer of the declared length, matching the
// length the sender negotiated rather than whatever arrived on the wire.
func (b *AudioBlob) Resolve() (AudioInput, error) {
	if b == nil {
		return AudioInput{}, ErrNoAudio
	}
	if len(b.Samples) > 0 || b.Length > 0 {
		samples := make([]float32, b.Length)
		copy(samples, b.Samples)
		return AudioInput{Samples: samples}, nil
	}
	if b.URL != "" {
		return AudioInput{URL: b.URL}, nil
	}
	return AudioInput{}, ErrNoAudio
}
