package session

import (
	"errors"

	"career-compass/internal/domain"
)

// Store is the full persistence surface a Factory needs.
type Store interface {
	ConversationStore
	QuizStore
}

// Factory builds controllers that share the same collaborators. Each view of
// a session gets its own controller.
type Factory struct {
	chat  ChatInference
	quiz  QuizInference
	store Store
	opts  []Option
}

func NewFactory(chat ChatInference, quiz QuizInference, store Store, opts ...Option) (*Factory, error) {
	if chat == nil {
		return nil, errors.New("session: chat inference must not be nil")
	}
	if quiz == nil {
		return nil, errors.New("session: quiz inference must not be nil")
	}
	if store == nil {
		return nil, errors.New("session: store must not be nil")
	}
	return &Factory{chat: chat, quiz: quiz, store: store, opts: opts}, nil
}

func (f *Factory) NewChat() (*ChatController, error) {
	return NewChatController(f.chat, f.store, f.opts...)
}

func (f *Factory) NewQuiz(stream domain.Stream) (*QuizController, error) {
	return NewQuizController(f.quiz, f.store, stream, f.opts...)
}
