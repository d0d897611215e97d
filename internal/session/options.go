package session

import (
	"context"
	"log/slog"
	"time"

	"career-compass/internal/domain"
)

const (
	defaultInferenceTimeout = 30 * time.Second
	defaultStoreTimeout     = 10 * time.Second
	defaultMaxMessageLength = 4000

	// FallbackReply is appended when the mentor cannot be reached or answers
	// with something unusable.
	FallbackReply = "Sorry, something went wrong."
)

// ChatInference is the conversational side of the mentor service.
type ChatInference interface {
	Chat(ctx context.Context, userID, message string, attachment *domain.Attachment) (string, error)
	Clear(ctx context.Context, userID string) error
}

// QuizInference decides the next quiz step from the answers so far.
type QuizInference interface {
	NextStep(ctx context.Context, stream domain.Stream, answers domain.Answers) (domain.QuizStep, error)
}

// ConversationStore is the durable copy of a user's transcript. Writes replace
// the whole document.
type ConversationStore interface {
	ReadConversation(ctx context.Context, userID string) ([]domain.Turn, bool, error)
	WriteConversation(ctx context.Context, userID string, turns []domain.Turn) error
}

// QuizStore is the durable copy of a user's quiz per stream.
type QuizStore interface {
	ReadQuiz(ctx context.Context, userID string, stream domain.Stream) (domain.QuizRecord, bool, error)
	WriteQuiz(ctx context.Context, userID string, rec domain.QuizRecord) error
}

type options struct {
	logger           *slog.Logger
	inferenceTimeout time.Duration
	storeTimeout     time.Duration
	maxMessageLength int
	fallbackReply    string
	now              func() time.Time
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithInferenceTimeout bounds every call to the mentor service.
func WithInferenceTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.inferenceTimeout = d
		}
	}
}

// WithStoreTimeout bounds every store read and write.
func WithStoreTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.storeTimeout = d
		}
	}
}

func WithMaxMessageLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxMessageLength = n
		}
	}
}

func WithFallbackReply(s string) Option {
	return func(o *options) {
		if s != "" {
			o.fallbackReply = s
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:           slog.Default(),
		inferenceTimeout: defaultInferenceTimeout,
		storeTimeout:     defaultStoreTimeout,
		maxMessageLength: defaultMaxMessageLength,
		fallbackReply:    FallbackReply,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Phase is the coarse state shown to the presentation layer.
type Phase string

const (
	PhaseLoading        Phase = "loading"
	PhaseIdle           Phase = "idle"
	PhaseSending        Phase = "sending"
	PhaseAwaitingAnswer Phase = "awaiting_answer"
	PhaseSubmitting     Phase = "submitting"
	PhaseFinished       Phase = "finished"
)

const (
	warnPersistFailed       = "persist_failed"
	warnInferenceFailed     = "inference_failed"
	warnInferenceResetError = "inference_reset_failed"
)
