// Package sidegen is the orchestration core of an on-device generative AI
// session. It owns the lifecycle of loaded model instances and routes
// protocol requests to the per-task pipelines, publishing progress, token
// and terminal events to the client as each generation advances.
package sidegen

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sidegen-ml/sidegen/backends"
	"github.com/sidegen-ml/sidegen/events"
	"github.com/sidegen-ml/sidegen/metrics"
)

// Session caches the most recently loaded model instance and loads a new
// one whenever a request names a different model or task. The cache holds a
// single slot: switching tasks evicts and destroys the previous instance.
type Session struct {
	provider  backends.Provider
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	instance *backends.Instance
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

func WithLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithNow overrides the session clock. Intended for tests.
func WithNow(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

func NewSession(provider backends.Provider, publisher events.Publisher, opts ...SessionOption) *Session {
	s := &Session{
		provider:  provider,
		publisher: publisher,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetInstance returns the cached instance when it matches config, otherwise
// loads a fresh one. Load progress is forwarded to the publisher, coalesced
// to whole-percent transitions so a chatty loader cannot flood the client.
func (s *Session) GetInstance(ctx context.Context, config backends.ModelConfig) (*backends.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.instance != nil && s.instance.Config == config {
		return s.instance, nil
	}
	if s.instance != nil {
		s.logger.Info().
			Str("modelId", s.instance.Config.ModelID).
			Str("task", string(s.instance.Config.Task)).
			Msg("evicting cached model instance")
		if err := s.instance.Destroy(); err != nil {
			s.logger.Warn().Err(err).Msg("error destroying model instance")
		}
		s.instance = nil
	}

	s.logger.Info().
		Str("modelId", config.ModelID).
		Str("task", string(config.Task)).
		Msg("loading model instance")
	start := s.now()

	lastFloor := 0.0
	instance, err := s.provider.Load(ctx, config, func(p backends.Progress) {
		floor := math.Floor(p.Progress)
		if floor == lastFloor {
			return
		}
		lastFloor = floor
		s.publisher.Publish(events.LoadProgress(p))
	})
	if err != nil {
		metrics.ModelLoadsTotal.WithLabelValues(string(config.Task), "error").Inc()
		return nil, err
	}
	metrics.ModelLoadsTotal.WithLabelValues(string(config.Task), "ok").Inc()
	metrics.ModelLoadSeconds.Observe(s.now().Sub(start).Seconds())

	s.instance = instance
	return instance, nil
}

// Destroy releases the cached instance, if any.
func (s *Session) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instance == nil {
		return nil
	}
	err := s.instance.Destroy()
	s.instance = nil
	return err
}
