package sidegen

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidegen-ml/sidegen/backends"
	"github.com/sidegen-ml/sidegen/events"
)

type wordTokenizer struct {
	mu    sync.Mutex
	vocab map[string]int64
	words map[int64]string
	next  int64
}

func newWordTokenizer() *wordTokenizer {
	return &wordTokenizer{vocab: map[string]int64{}, words: map[int64]string{}, next: 1}
}

func (f *wordTokenizer) Encode(text string, _ bool) ([]int64, error) {
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

func (f *wordTokenizer) Decode(ids []int64, _ bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	words := make([]string, 0, len(ids))
	for _, id := range ids {
		if word, ok := f.words[id]; ok {
			words = append(words, word)
		}
	}
	return strings.Join(words, " "), nil
}

func (f *wordTokenizer) Destroy() error { return nil }

type echoModel struct {
	tokens []string
}

func (m *echoModel) Generate(ctx context.Context, _ backends.GenerationInputs, _ backends.GenerationOptions) (<-chan backends.SequenceDelta, <-chan error, error) {
	deltas := make(chan backends.SequenceDelta)
	errs := make(chan error, 1)
	go func() {
		defer close(deltas)
		defer close(errs)
		deltas <- backends.SequenceDelta{}
		for _, token := range m.tokens {
			select {
			case <-ctx.Done():
				return
			case deltas <- backends.SequenceDelta{Token: token}:
			}
		}
	}()
	return deltas, errs, nil
}

type fakeProvider struct {
	mu        sync.Mutex
	loads     int
	progress  []backends.Progress
	destroyed []string
	loadErr   error
}

func (p *fakeProvider) Load(_ context.Context, config backends.ModelConfig, onProgress backends.ProgressFunc) (*backends.Instance, error) {
	p.mu.Lock()
	p.loads++
	p.mu.Unlock()
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	for _, progress := range p.progress {
		onProgress(progress)
	}
	modelID := config.ModelID
	return &backends.Instance{
		Config:     config,
		Tokenizer:  newWordTokenizer(),
		Generative: &echoModel{tokens: []string{"hi", " there"}},
		Destroy: func() error {
			p.mu.Lock()
			p.destroyed = append(p.destroyed, modelID)
			p.mu.Unlock()
			return nil
		},
	}, nil
}

func (p *fakeProvider) loadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loads
}

func TestSessionCachesInstance(t *testing.T) {
	provider := &fakeProvider{}
	pub := events.NewMemoryPublisher()
	session := NewSession(provider, pub)
	defer func() { require.NoError(t, session.Destroy()) }()

	config := backends.ModelConfig{Task: backends.TaskTextGeneration, ModelID: "a"}
	first, err := session.GetInstance(context.Background(), config)
	require.NoError(t, err)
	second, err := session.GetInstance(context.Background(), config)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, provider.loadCount())
	assert.Empty(t, provider.destroyed)
}

func TestSessionEvictsOnTaskSwitch(t *testing.T) {
	provider := &fakeProvider{}
	session := NewSession(provider, events.NewMemoryPublisher())
	defer func() { _ = session.Destroy() }()

	_, err := session.GetInstance(context.Background(), backends.ModelConfig{Task: backends.TaskTextGeneration, ModelID: "a"})
	require.NoError(t, err)
	_, err = session.GetInstance(context.Background(), backends.ModelConfig{Task: backends.TaskSpeechToText, ModelID: "b"})
	require.NoError(t, err)

	assert.Equal(t, 2, provider.loadCount())
	assert.Equal(t, []string{"a"}, provider.destroyed, "switching models destroys the cached instance")
}

func TestSessionProgressCoalescing(t *testing.T) {
	provider := &fakeProvider{progress: []backends.Progress{
		{Status: "progress", Progress: 0.1},
		{Status: "progress", Progress: 0.4},
		{Status: "progress", Progress: 1.2},
		{Status: "progress", Progress: 1.9},
		{Status: "progress", Progress: 2.0},
	}}
	pub := events.NewMemoryPublisher()
	session := NewSession(provider, pub)
	defer func() { _ = session.Destroy() }()

	_, err := session.GetInstance(context.Background(), backends.ModelConfig{Task: backends.TaskTextGeneration, ModelID: "a"})
	require.NoError(t, err)

	published := pub.Events()
	require.Len(t, published, 2, "only whole-percent transitions are forwarded")
	assert.InDelta(t, 1.2, published[0].Data.(backends.Progress).Progress, 1e-9)
	assert.InDelta(t, 2.0, published[1].Data.(backends.Progress).Progress, 1e-9)
}

func TestSessionDestroy(t *testing.T) {
	provider := &fakeProvider{}
	session := NewSession(provider, events.NewMemoryPublisher())
	_, err := session.GetInstance(context.Background(), backends.ModelConfig{Task: backends.TaskTextGeneration, ModelID: "a"})
	require.NoError(t, err)

	require.NoError(t, session.Destroy())
	assert.Equal(t, []string{"a"}, provider.destroyed)
	require.NoError(t, session.Destroy(), "destroying an empty session is a no-op")
}

func newTestRouter(t *testing.T, provider *fakeProvider) (*Router, *events.MemoryPublisher) {
	t.Helper()
	pub := events.NewMemoryPublisher()
	session := NewSession(provider, pub)
	t.Cleanup(func() { _ = session.Destroy() })
	store := NewStore(t.TempDir())
	return NewRouter(session, store, pub, zerolog.Nop()), pub
}

func TestRouterGenerate(t *testing.T) {
	router, pub := newTestRouter(t, &fakeProvider{})

	resp := router.Handle(context.Background(), Request{
		ID:       "req-1",
		Action:   ActionGenerate,
		Messages: []backends.Message{{Role: "user", Content: "hello"}},
	})
	require.NotNil(t, resp)
	assert.Equal(t, "req-1", resp.ID)
	assert.Empty(t, resp.Error)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "hi there", resp.Result.CleanedOutput)

	statuses := pub.Statuses()
	assert.Contains(t, statuses, events.StatusAssistant)
	assert.Contains(t, statuses, events.StatusEnd)
}

func TestRouterAssignsRequestID(t *testing.T) {
	router, _ := newTestRouter(t, &fakeProvider{})
	resp := router.Handle(context.Background(), Request{
		Action:   ActionGenerate,
		Messages: []backends.Message{{Role: "user", Content: "hello"}},
	})
	require.NotNil(t, resp)
	assert.NotEmpty(t, resp.ID)
}

func TestRouterUnsupportedTask(t *testing.T) {
	provider := &fakeProvider{}
	router, _ := newTestRouter(t, provider)
	require.NoError(t, router.Store.SetModelConfig(context.Background(), backends.ModelConfig{
		Task:    "translation",
		ModelID: "some/model",
	}))

	resp := router.Handle(context.Background(), Request{Action: ActionGenerate})
	require.NotNil(t, resp)
	assert.Equal(t, "Unsupported task", resp.Error)
	assert.Equal(t, 0, provider.loadCount(), "unsupported tasks never load a model")
}

func TestRouterNoResult(t *testing.T) {
	router, _ := newTestRouter(t, &fakeProvider{})
	require.NoError(t, router.Store.SetModelConfig(context.Background(), backends.ModelConfig{
		Task:    backends.TaskTextToSpeech,
		ModelID: "some/tts",
	}))

	resp := router.Handle(context.Background(), Request{Action: ActionGenerate})
	require.NotNil(t, resp)
	assert.Equal(t, "No result", resp.Error)
}

func TestRouterLoadFailure(t *testing.T) {
	router, pub := newTestRouter(t, &fakeProvider{loadErr: fmt.Errorf("no such model")})
	resp := router.Handle(context.Background(), Request{
		Action:   ActionGenerate,
		Messages: []backends.Message{{Role: "user", Content: "hello"}},
	})
	require.NotNil(t, resp)
	assert.Contains(t, resp.Error, "no such model")
	assert.Contains(t, pub.Statuses(), events.StatusError)
}

func TestRouterInterruptIdle(t *testing.T) {
	router, _ := newTestRouter(t, &fakeProvider{})
	resp := router.Handle(context.Background(), Request{Action: ActionInterrupt})
	assert.Nil(t, resp, "interrupts produce no response")
}

func TestRouterUnknownAction(t *testing.T) {
	router, _ := newTestRouter(t, &fakeProvider{})
	resp := router.Handle(context.Background(), Request{Action: "dance"})
	require.NotNil(t, resp)
	assert.Contains(t, resp.Error, "Unknown action")
}

func TestRouterCompose(t *testing.T) {
	router, pub := newTestRouter(t, &fakeProvider{})
	resp := router.Handle(context.Background(), Request{
		Action:       ActionCompose,
		Command:      CommandSummarize,
		SelectedText: "a very long article",
	})
	require.NotNil(t, resp)
	assert.Empty(t, resp.Error)
	require.NotNil(t, resp.Result)

	published := pub.Events()
	require.NotEmpty(t, published)
	assert.Equal(t, events.StatusAppend, published[0].Status, "the conversation is announced before generation")
	appendData := published[0].Data.(events.AppendData)
	require.Len(t, appendData.Messages, 3)
	assert.Equal(t, "system", appendData.Messages[0].Role)
	assert.Equal(t, "Summarize: a very long article", appendData.Messages[1].Content)
	assert.Equal(t, "Thinking...", appendData.Messages[2].Content)
}

func TestRouterComposeRephraseUsesContext(t *testing.T) {
	router, pub := newTestRouter(t, &fakeProvider{})
	resp := router.Handle(context.Background(), Request{
		Action:          ActionCompose,
		Command:         CommandRephrase,
		SelectedText:    "it works",
		SurroundingText: "we shipped it and it works now",
	})
	require.NotNil(t, resp)
	assert.Empty(t, resp.Error)

	appendData := pub.Events()[0].Data.(events.AppendData)
	assert.Contains(t, appendData.Messages[1].Content, `"it works"`)
	assert.Contains(t, appendData.Messages[1].Content, "surrounding context")
}

func TestRouterComposeNoSelection(t *testing.T) {
	router, _ := newTestRouter(t, &fakeProvider{})
	resp := router.Handle(context.Background(), Request{Action: ActionCompose, Command: CommandRewrite})
	require.NotNil(t, resp)
	assert.Equal(t, "No selection", resp.Error)
}

func TestRouterHandleJSON(t *testing.T) {
	router, _ := newTestRouter(t, &fakeProvider{})

	payload := router.HandleJSON(context.Background(), []byte(`{"id":"r1","action":"generate","messages":[{"role":"user","content":"hello"}]}`))
	require.NotNil(t, payload)
	var resp Response
	require.NoError(t, json.Unmarshal(payload, &resp))
	assert.Equal(t, "r1", resp.ID)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "hi there", resp.Result.CleanedOutput)

	assert.Nil(t, router.HandleJSON(context.Background(), []byte(`{"action":"interrupt"}`)))

	payload = router.HandleJSON(context.Background(), []byte(`{not json`))
	require.NotNil(t, payload)
	require.NoError(t, json.Unmarshal(payload, &resp))
	assert.Equal(t, "Malformed request", resp.Error)
}
