package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"career-compass/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryStore is an in-memory Store that records every write.
type memoryStore struct {
	mu            sync.Mutex
	conversations map[string][]domain.Turn
	quizzes       map[string]domain.QuizRecord
	readErr       error
	writeErr      error
	writes        int
	quizWrites    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		conversations: map[string][]domain.Turn{},
		quizzes:       map[string]domain.QuizRecord{},
	}
}

func (m *memoryStore) ReadConversation(_ context.Context, userID string) ([]domain.Turn, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, false, m.readErr
	}
	turns, ok := m.conversations[userID]
	if !ok {
		return nil, false, nil
	}
	return append([]domain.Turn(nil), turns...), true, nil
}

func (m *memoryStore) WriteConversation(_ context.Context, userID string, turns []domain.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.writeErr != nil {
		return m.writeErr
	}
	m.conversations[userID] = append([]domain.Turn{}, turns...)
	return nil
}

func quizKey(userID string, stream domain.Stream) string {
	return userID + "/" + string(stream)
}

func (m *memoryStore) ReadQuiz(_ context.Context, userID string, stream domain.Stream) (domain.QuizRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return domain.QuizRecord{}, false, m.readErr
	}
	rec, ok := m.quizzes[quizKey(userID, stream)]
	return rec, ok, nil
}

func (m *memoryStore) WriteQuiz(_ context.Context, userID string, rec domain.QuizRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quizWrites++
	if m.writeErr != nil {
		return m.writeErr
	}
	m.quizzes[quizKey(userID, rec.Stream)] = rec
	return nil
}

func (m *memoryStore) conversation(userID string) []domain.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversations[userID]
}

func (m *memoryStore) quiz(userID string, stream domain.Stream) (domain.QuizRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.quizzes[quizKey(userID, stream)]
	return rec, ok
}

// stubChat answers immediately.
type stubChat struct {
	mu         sync.Mutex
	reply      string
	err        error
	clearErr   error
	calls      int
	clears     int
	lastUser   string
	lastText   string
	lastAttach *domain.Attachment
}

func (s *stubChat) Chat(_ context.Context, userID, message string, attachment *domain.Attachment) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastUser = userID
	s.lastText = message
	s.lastAttach = attachment
	return s.reply, s.err
}

func (s *stubChat) Clear(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	return s.clearErr
}

// gatedChat blocks every Chat call until the test releases it.
type gatedChat struct {
	started chan struct{}
	release chan string
}

func newGatedChat() *gatedChat {
	return &gatedChat{started: make(chan struct{}, 4), release: make(chan string, 4)}
}

func (g *gatedChat) Chat(ctx context.Context, _, _ string, _ *domain.Attachment) (string, error) {
	g.started <- struct{}{}
	select {
	case reply := <-g.release:
		return reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gatedChat) Clear(_ context.Context, _ string) error { return nil }

type stepReply struct {
	step domain.QuizStep
	err  error
}

// scriptedQuiz returns queued replies in order and records the answers it saw.
type scriptedQuiz struct {
	mu      sync.Mutex
	replies []stepReply
	seen    []domain.Answers
}

func (s *scriptedQuiz) NextStep(_ context.Context, _ domain.Stream, answers domain.Answers) (domain.QuizStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, answers.Clone())
	if len(s.replies) == 0 {
		return domain.QuizStep{}, errors.New("no quiz reply configured")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r.step, r.err
}

func (s *scriptedQuiz) push(r ...stepReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, r...)
}

func (s *scriptedQuiz) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

type gatedCall struct {
	answers domain.Answers
	reply   chan stepReply
}

// gatedQuiz hands every NextStep call to the test, which decides when and
// with what it completes.
type gatedQuiz struct {
	calls chan gatedCall
}

func newGatedQuiz() *gatedQuiz {
	return &gatedQuiz{calls: make(chan gatedCall, 4)}
}

func (g *gatedQuiz) NextStep(ctx context.Context, _ domain.Stream, answers domain.Answers) (domain.QuizStep, error) {
	call := gatedCall{answers: answers.Clone(), reply: make(chan stepReply, 1)}
	g.calls <- call
	select {
	case r := <-call.reply:
		return r.step, r.err
	case <-ctx.Done():
		return domain.QuizStep{}, ctx.Err()
	}
}

func question(text string, options ...string) stepReply {
	return stepReply{step: domain.QuizStep{Kind: domain.StepQuestion, Question: domain.Question{Text: text, Options: options}}}
}

func result(text string) stepReply {
	return stepReply{step: domain.QuizStep{Kind: domain.StepResult, Result: text}}
}

func failure(err error) stepReply {
	return stepReply{err: err}
}

func expectSessionError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var sessErr *Error
	require.ErrorAs(t, err, &sessErr)
	require.Equal(t, code, sessErr.Code)
	require.Equal(t, reason, sessErr.Reason)
}
