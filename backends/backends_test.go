package backends

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTokenizer maps every whitespace-separated word to a stable id.
type fakeTokenizer struct {
	mu    sync.Mutex
	vocab map[string]int64
	words map[int64]string
	next  int64
}

func newFakeTokenizer() *fakeTokenizer {
	return &fakeTokenizer{vocab: map[string]int64{}, words: map[int64]string{}, next: 1}
}

func (f *fakeTokenizer) Encode(text string, _ bool) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for _, word := range strings.Fields(text) {
		id, ok := f.vocab[word]
		if !ok {
			id = f.next
			f.next++
			f.vocab[word] = id
			f.words[id] = word
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeTokenizer) Decode(ids []int64, _ bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	words := make([]string, len(ids))
	for i, id := range ids {
		word, ok := f.words[id]
		if !ok {
			return "", fmt.Errorf("unknown id %d", id)
		}
		words[i] = word
	}
	return strings.Join(words, " "), nil
}

func (f *fakeTokenizer) Destroy() error { return nil }

func TestStopFlag(t *testing.T) {
	flag := NewStopFlag()
	assert.False(t, flag.Interrupted())
	flag.Interrupt()
	assert.True(t, flag.Interrupted())
	flag.Interrupt()
	assert.True(t, flag.Interrupted())

	assert.False(t, NewStopFlag().Interrupted(), "a fresh flag is never interrupted")
}

func TestApplyChatTemplateDefaultsToQwen(t *testing.T) {
	prompt, err := ApplyChatTemplate("", []Message{{Role: "user", Content: "hi"}}, true)
	require.NoError(t, err)
	assert.Contains(t, prompt, "<|im_start|>user\nhi<|im_end|>")
	assert.True(t, strings.HasSuffix(prompt, "<|im_start|>assistant\n"))
}

func TestApplyChatTemplateUnknown(t *testing.T) {
	_, err := ApplyChatTemplate("nope", nil, true)
	assert.Error(t, err)
}

func TestEndOfThinkTokenID(t *testing.T) {
	tk := splitThinkTokenizer{newFakeTokenizer()}
	ids, err := tk.Encode("<think></think>", false)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	id, err := EndOfThinkTokenID(tk)
	require.NoError(t, err)
	assert.Equal(t, ids[1], id)
}

// splitThinkTokenizer encodes the think markers as two tokens, the way a real
// vocabulary does.
type splitThinkTokenizer struct {
	*fakeTokenizer
}

func (s splitThinkTokenizer) Encode(text string, addSpecialTokens bool) ([]int64, error) {
	text = strings.ReplaceAll(text, "><", "> <")
	return s.fakeTokenizer.Encode(text, addSpecialTokens)
}

func TestEndOfThinkTokenIDTooShort(t *testing.T) {
	tk := newFakeTokenizer()
	_, err := EndOfThinkTokenID(tk)
	assert.Error(t, err, "a single-token encoding cannot yield an end marker")
}

func TestAudioBlobResolve(t *testing.T) {
	t.Run("nil blob", func(t *testing.T) {
		var blob *AudioBlob
		_, err := blob.Resolve()
		assert.ErrorIs(t, err, ErrNoAudio)
	})
	t.Run("empty blob", func(t *testing.T) {
		_, err := (&AudioBlob{}).Resolve()
		assert.ErrorIs(t, err, ErrNoAudio)
	})
	t.Run("samples are copied to the declared length", func(t *testing.T) {
		blob := &AudioBlob{Samples: []float32{1, 2, 3}, Length: 2}
		audio, err := blob.Resolve()
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 2}, audio.Samples)
		assert.Empty(t, audio.URL)
	})
	t.Run("short samples are zero padded", func(t *testing.T) {
		blob := &AudioBlob{Samples: []float32{1}, Length: 3}
		audio, err := blob.Resolve()
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 0, 0}, audio.Samples)
	})
	t.Run("url", func(t *testing.T) {
		audio, err := (&AudioBlob{URL: "https://example.com/a.wav"}).Resolve()
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/a.wav", audio.URL)
		assert.Empty(t, audio.Samples)
	})
}

func TestModelConfigIsDistil(t *testing.T) {
	assert.True(t, ModelConfig{ModelID: "distil-whisper/distil-small.en"}.IsDistil())
	assert.False(t, ModelConfig{ModelID: "openai/whisper-tiny"}.IsDistil())
}

func TestGenerationConfigOptions(t *testing.T) {
	config := GenerationConfig{
		DoSample:          true,
		Temperature:       0.7,
		TopK:              3,
		TopP:              0.9,
		MaxNewTokens:      256,
		RepetitionPenalty: 1.15,
	}
	opts := config.Options()
	assert.True(t, opts.DoSample)
	assert.Equal(t, 3, opts.TopK)
	assert.Equal(t, 256, opts.MaxNewTokens)
	assert.InDelta(t, 1.15, opts.RepetitionPenalty, 1e-9)
}

func TestNewDownloadOptions(t *testing.T) {
	options := NewDownloadOptions()
	assert.Equal(t, "main", options.Branch)
	assert.Equal(t, 5, options.MaxRetries)
	assert.Equal(t, 5, options.ConcurrentConnections)
}

func TestLoadTokenizerUnknownRuntime(t *testing.T) {
	_, err := LoadTokenizer(nil, "PYTHON")
	assert.Error(t, err)
}
