package sidegen

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sidegen-ml/sidegen/backends"
	"github.com/sidegen-ml/sidegen/events"
	"github.com/sidegen-ml/sidegen/metrics"
	"github.com/sidegen-ml/sidegen/pipelines"
)

// Request actions.
const (
	ActionGenerate  = "generate"
	ActionInterrupt = "interrupt"
	ActionCompose   = "compose"
)

// Compose commands.
const (
	CommandRewrite   = "rewrite"
	CommandSummarize = "summarize"
	CommandRephrase  = "rephrase"
)

// Request is one inbound protocol message.
type Request struct {
	ID       string             `json:"id,omitempty"`
	Action   string             `json:"action"`
	Messages []backends.Message `json:"messages,omitempty"`

	// Compose fields.
	Command         string `json:"command,omitempty"`
	SelectedText    string `json:"selectedText,omitempty"`
	SurroundingText string `json:"surroundingText,omitempty"`
}

// Response is the terminal reply to a request. Interrupts produce no
// response; every other request produces exactly one, carrying either a
// result or an error.
type Response struct {
	ID     string                      `json:"id,omitempty"`
	Result *pipelines.GenerationResult `json:"result,omitempty"`
	Error  string                      `json:"error,omitempty"`
}

// Router dispatches protocol requests. Generations run one at a time: a
// second generate request queues behind the active one. Interrupts bypass
// the queue and flip the stop flag of whatever generation is in flight.
type Router struct {
	Session   *Session
	Store     *Store
	Publisher events.Publisher
	Logger    zerolog.Logger
	// Now overrides the telemetry clock for the pipelines. Nil means
	// time.Now.
	Now func() time.Time

	mu     sync.Mutex
	active atomic.Pointer[backends.StopFlag]
}

func NewRouter(session *Session, store *Store, publisher events.Publisher, logger zerolog.Logger) *Router {
	return &Router{
		Session:   session,
		Store:     store,
		Publisher: publisher,
		Logger:    logger,
	}
}

// Handle processes one request. It returns nil for actions that produce no
// response, such as interrupts.
func (r *Router) Handle(ctx context.Context, req Request) *Response {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	logger := r.Logger.With().Str("requestId", req.ID).Str("action", req.Action).Logger()

	switch req.Action {
	case ActionGenerate:
		return r.generate(ctx, req, logger)
	case ActionInterrupt:
		r.Interrupt()
		return nil
	case ActionCompose:
		return r.compose(ctx, req, logger)
	default:
		logger.Warn().Msg("unknown action")
		return &Response{ID: req.ID, Error: fmt.Sprintf("Unknown action %s", req.Action)}
	}
}

// HandleJSON decodes a raw protocol message, dispatches it and returns the
// encoded response, or nil when the request produces none.
func (r *Router) HandleJSON(ctx context.Context, data []byte) []byte {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		r.Logger.Warn().Err(err).Msg("malformed request")
		payload, _ := json.Marshal(Response{Error: "Malformed request"})
		return payload
	}
	resp := r.Handle(ctx, req)
	if resp == nil {
		return nil
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		r.Logger.Error().Err(err).Msg("failed to encode response")
		return nil
	}
	return payload
}

// Interrupt flips the stop flag of the generation currently in flight, if
// any. Interrupting an idle router is a no-op, so a late interrupt can never
// cancel a generation that starts afterwards.
func (r *Router) Interrupt() {
	if flag := r.active.Load(); flag != nil {
		flag.Interrupt()
	}
}

func (r *Router) generate(ctx context.Context, req Request, logger zerolog.Logger) *Response {
	modelConfig, err := r.Store.ModelConfig(ctx, "")
	if err != nil {
		return r.fail(req, string(modelConfig.Task), err.Error(), logger)
	}
	switch modelConfig.Task {
	case backends.TaskTextGeneration, backends.TaskReasoning, backends.TaskMultimodalLLM,
		backends.TaskSpeechToText, backends.TaskTextToSpeech:
	default:
		logger.Warn().Str("task", string(modelConfig.Task)).Msg("unsupported task")
		metrics.RequestsTotal.WithLabelValues(string(modelConfig.Task), "unsupported").Inc()
		return &Response{ID: req.ID, Error: "Unsupported task"}
	}
	return r.run(ctx, req, modelConfig, logger)
}

func (r *Router) run(ctx context.Context, req Request, modelConfig backends.ModelConfig, logger zerolog.Logger) *Response {
	r.mu.Lock()
	defer r.mu.Unlock()

	stop := backends.NewStopFlag()
	r.active.Store(stop)
	defer r.active.Store(nil)

	metrics.ActiveGenerations.Inc()
	defer metrics.ActiveGenerations.Dec()

	task := string(modelConfig.Task)
	var result *pipelines.GenerationResult
	var err error

	// Speech synthesis has no backend yet and never loads a model.
	if modelConfig.Task == backends.TaskTextToSpeech {
		pipeline := &pipelines.TextToSpeechPipeline{
			Config:    modelConfig,
			Publisher: r.Publisher,
			Logger:    logger,
		}
		result, err = pipeline.Read(ctx, req.Messages, stop)
		return r.finish(req, task, result, err, logger)
	}

	instance, err := r.Session.GetInstance(ctx, modelConfig)
	if err != nil {
		return r.fail(req, task, err.Error(), logger)
	}
	generationConfig, err := r.Store.GenerationConfig(ctx)
	if err != nil {
		return r.fail(req, task, err.Error(), logger)
	}

	switch modelConfig.Task {
	case backends.TaskTextGeneration, backends.TaskReasoning:
		pipeline := &pipelines.TextGenerationPipeline{
			Instance:  instance,
			Publisher: r.Publisher,
			Logger:    logger,
			Reasoning: modelConfig.Task == backends.TaskReasoning,
			Now:       r.Now,
		}
		result, err = pipeline.Generate(ctx, req.Messages, generationConfig, stop)
	case backends.TaskMultimodalLLM:
		pipeline := &pipelines.MultimodalPipeline{
			Instance:  instance,
			Publisher: r.Publisher,
			Logger:    logger,
			Now:       r.Now,
		}
		result, err = pipeline.Generate(ctx, req.Messages, generationConfig, stop)
	case backends.TaskSpeechToText:
		pipeline := &pipelines.SpeechToTextPipeline{
			Instance:  instance,
			Publisher: r.Publisher,
			Logger:    logger,
			Now:       r.Now,
		}
		result, err = pipeline.Transcribe(ctx, req.Messages, stop)
	}
	return r.finish(req, task, result, err, logger)
}

func (r *Router) finish(req Request, task string, result *pipelines.GenerationResult, err error, logger zerolog.Logger) *Response {
	if err != nil {
		return r.fail(req, task, err.Error(), logger)
	}
	if result == nil {
		metrics.RequestsTotal.WithLabelValues(task, "empty").Inc()
		return &Response{ID: req.ID, Error: "No result"}
	}

	metrics.RequestsTotal.WithLabelValues(task, "ok").Inc()
	if result.Telemetry.NumTokens > 0 {
		metrics.TokensGeneratedTotal.Add(float64(result.Telemetry.NumTokens))
		metrics.TokensPerSecond.Set(result.Telemetry.TPS)
	}
	return &Response{ID: req.ID, Result: result}
}

const composePreamble = "You are a rewriting expert who can rewrite input text into a more formal tone. Just return the rewritten text without anything else."

// compose turns an editor command into a conversation, announces it to the
// client with an append event and runs it through text generation.
func (r *Router) compose(ctx context.Context, req Request, logger zerolog.Logger) *Response {
	if req.SelectedText == "" {
		return &Response{ID: req.ID, Error: "No selection"}
	}

	var userContent string
	switch req.Command {
	case CommandRewrite, "":
		userContent = "Rewrite: " + req.SelectedText
	case CommandSummarize:
		userContent = "Summarize: " + req.SelectedText
	case CommandRephrase:
		prompt := fmt.Sprintf(
			"Given the following selected text: %q\n\nAnd the surrounding context: %q\n\nRephrase and expand the selected text to make it clearer and more detailed.",
			req.SelectedText, req.SurroundingText)
		userContent = "Rephrase: " + prompt
	default:
		logger.Warn().Str("command", req.Command).Msg("unknown compose command")
		return &Response{ID: req.ID, Error: fmt.Sprintf("Unknown command %s", req.Command)}
	}

	messages := []backends.Message{
		{Role: "system", Content: composePreamble},
		{Role: "user", Content: userContent},
	}
	r.Publisher.Publish(events.Append(append(messages, backends.Message{
		Role:    "assistant",
		Content: "Thinking...",
	})))

	// Compose always runs text generation, regardless of the stored task.
	modelConfig, err := r.Store.ModelConfig(ctx, backends.TaskTextGeneration)
	if err != nil {
		return r.fail(req, string(backends.TaskTextGeneration), err.Error(), logger)
	}
	req.Messages = messages
	return r.run(ctx, req, modelConfig, logger)
}

func (r *Router) fail(req Request, task string, message string, logger zerolog.Logger) *Response {
	logger.Error().Str("task", task).Str("error", message).Msg("request failed")
	metrics.RequestsTotal.WithLabelValues(task, "error").Inc()
	r.Publisher.Publish(events.Error(message))
	return &Response{ID: req.ID, Error: message}
}
