package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"career-compass/internal/domain"
	"career-compass/internal/logger"
	"career-compass/internal/session"
)

type fakeStore struct {
	turns   map[string][]domain.Turn
	quizzes map[string]domain.QuizRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{turns: map[string][]domain.Turn{}, quizzes: map[string]domain.QuizRecord{}}
}

func (f *fakeStore) ReadConversation(_ context.Context, userID string) ([]domain.Turn, bool, error) {
	t, ok := f.turns[userID]
	return t, ok, nil
}

func (f *fakeStore) WriteConversation(_ context.Context, userID string, turns []domain.Turn) error {
	f.turns[userID] = append([]domain.Turn{}, turns...)
	return nil
}

func (f *fakeStore) ReadQuiz(_ context.Context, userID string, stream domain.Stream) (domain.QuizRecord, bool, error) {
	rec, ok := f.quizzes[userID+"/"+string(stream)]
	return rec, ok, nil
}

func (f *fakeStore) WriteQuiz(_ context.Context, userID string, rec domain.QuizRecord) error {
	f.quizzes[userID+"/"+string(rec.Stream)] = rec
	return nil
}

type fakeMentor struct {
	replies  []string
	attached []*domain.Attachment
	clears   int
	steps    []domain.QuizStep
	stepErr  error
}

func (f *fakeMentor) Chat(_ context.Context, _, _ string, a *domain.Attachment) (string, error) {
	f.attached = append(f.attached, a)
	if len(f.replies) == 0 {
		return "", errors.New("no reply")
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func (f *fakeMentor) Clear(context.Context, string) error {
	f.clears++
	return nil
}

func (f *fakeMentor) NextStep(context.Context, domain.Stream, domain.Answers) (domain.QuizStep, error) {
	if f.stepErr != nil {
		err := f.stepErr
		f.stepErr = nil
		return domain.QuizStep{}, err
	}
	step := f.steps[0]
	f.steps = f.steps[1:]
	return step, nil
}

func newChatREPL(t *testing.T, store *fakeStore, m *fakeMentor, input string) (*chatREPL, *bytes.Buffer) {
	t.Helper()
	c, err := session.NewChatController(m, store, session.WithLogger(logger.Nop()))
	require.NoError(t, err)
	var out bytes.Buffer
	return &chatREPL{
		chat: c,
		in:   strings.NewReader(input),
		out:  &out,
		readFile: func(path string) ([]byte, error) {
			if path == "resume.pdf" {
				return []byte("%PDF"), nil
			}
			return nil, os.ErrNotExist
		},
	}, &out
}

func TestChatREPL_Conversation(t *testing.T) {
	store := newFakeStore()
	m := &fakeMentor{replies: []string{"Tell me about your interests."}}
	r, out := newChatREPL(t, store, m, "hello\n/quit\nignored\n")

	require.NoError(t, r.run(context.Background(), "u1"))
	require.Contains(t, out.String(), "New conversation")
	require.Contains(t, out.String(), "Tell me about your interests.")
	require.Len(t, store.turns["u1"], 2)
}

func TestChatREPL_ShowsStoredTranscript(t *testing.T) {
	store := newFakeStore()
	store.turns["u1"] = []domain.Turn{
		{Sequence: 1, Role: domain.RoleUser, Content: "earlier question"},
		{Sequence: 2, Role: domain.RoleAssistant, Content: "earlier answer"},
	}
	r, out := newChatREPL(t, store, &fakeMentor{}, "")

	require.NoError(t, r.run(context.Background(), "u1"))
	require.Contains(t, out.String(), "earlier question")
	require.Contains(t, out.String(), "earlier answer")
	require.NotContains(t, out.String(), "New conversation")
}

func TestChatREPL_AttachSendsFileOnce(t *testing.T) {
	store := newFakeStore()
	m := &fakeMentor{replies: []string{"Nice resume.", "Sure."}}
	r, out := newChatREPL(t, store, m, "/attach resume.pdf\nreview this\nand now?\n")

	require.NoError(t, r.run(context.Background(), "u1"))
	require.Contains(t, out.String(), "Attached resume.pdf")
	require.Len(t, m.attached, 2)
	require.NotNil(t, m.attached[0])
	require.Equal(t, "application/pdf", m.attached[0].MediaType)
	require.Equal(t, []byte("%PDF"), m.attached[0].Data)
	require.Nil(t, m.attached[1])
}

func TestChatREPL_EmptyLineSendsStagedAttachment(t *testing.T) {
	store := newFakeStore()
	m := &fakeMentor{replies: []string{"Got your resume."}}
	r, out := newChatREPL(t, store, m, "\n/attach resume.pdf\n\n\n")

	require.NoError(t, r.run(context.Background(), "u1"))
	require.Len(t, m.attached, 1)
	require.Equal(t, []byte("%PDF"), m.attached[0].Data)
	require.Contains(t, out.String(), "Got your resume.")
	require.Equal(t, "resume.pdf", store.turns["u1"][0].Attachment.Name)
	require.Nil(t, r.staged)
}

func TestChatREPL_AttachErrors(t *testing.T) {
	r, out := newChatREPL(t, newFakeStore(), &fakeMentor{}, "/attach\n/attach missing.txt\n")

	require.NoError(t, r.run(context.Background(), "u1"))
	require.Contains(t, out.String(), "usage: /attach <path>")
	require.Contains(t, out.String(), "reading attachment")
	require.Nil(t, r.staged)
}

func TestChatREPL_FallbackShowsWarning(t *testing.T) {
	r, out := newChatREPL(t, newFakeStore(), &fakeMentor{}, "hi\n")

	require.NoError(t, r.run(context.Background(), "u1"))
	require.Contains(t, out.String(), session.FallbackReply)
	require.Contains(t, out.String(), "inference_failed")
}

func TestChatREPL_Reset(t *testing.T) {
	store := newFakeStore()
	store.turns["u1"] = []domain.Turn{{Sequence: 1, Role: domain.RoleUser, Content: "old"}}
	m := &fakeMentor{}
	r, out := newChatREPL(t, store, m, "/reset\n")

	require.NoError(t, r.run(context.Background(), "u1"))
	require.Contains(t, out.String(), "Conversation cleared")
	require.Empty(t, store.turns["u1"])
	require.Equal(t, 1, m.clears)
}

func TestChatREPL_LoadFailure(t *testing.T) {
	r, _ := newChatREPL(t, newFakeStore(), &fakeMentor{}, "")
	err := r.run(context.Background(), "  ")
	require.ErrorContains(t, err, "loading conversation")
}

func question(text string, options ...string) domain.QuizStep {
	return domain.QuizStep{Kind: domain.StepQuestion, Question: domain.Question{Text: text, Options: options}}
}

func newQuizREPL(t *testing.T, store *fakeStore, m *fakeMentor, input string) (*quizREPL, *bytes.Buffer) {
	t.Helper()
	q, err := session.NewQuizController(m, store, domain.StreamScience, session.WithLogger(logger.Nop()))
	require.NoError(t, err)
	var out bytes.Buffer
	return &quizREPL{quiz: q, in: strings.NewReader(input), out: &out}, &out
}

func TestQuizREPL_RunsToResult(t *testing.T) {
	store := newFakeStore()
	m := &fakeMentor{steps: []domain.QuizStep{
		question("Do you enjoy lab work?", "Yes", "No"),
		question("Pick a subject", "Physics", "Biology"),
		{Kind: domain.StepResult, Result: "Consider biomedical research."},
	}}
	r, out := newQuizREPL(t, store, m, "1\n2\nquit\n")

	require.NoError(t, r.run(context.Background(), "u1"))
	require.Contains(t, out.String(), "1. Yes")
	require.Contains(t, out.String(), "2. Biology")
	require.Contains(t, out.String(), "Consider biomedical research.")

	rec := store.quizzes["u1/science"]
	require.Equal(t, domain.Answers{
		{Question: "Do you enjoy lab work?", Answer: "Yes"},
		{Question: "Pick a subject", Answer: "Biology"},
	}, rec.Answers)
	require.Equal(t, "Consider biomedical research.", rec.Result)
}

func TestQuizREPL_RejectsBadInput(t *testing.T) {
	m := &fakeMentor{steps: []domain.QuizStep{question("Q1", "A", "B")}}
	r, out := newQuizREPL(t, newFakeStore(), m, "7\nmaybe\n")

	require.NoError(t, r.run(context.Background(), "u1"))
	require.Equal(t, 2, strings.Count(out.String(), "enter an option number"))
}

func TestQuizREPL_RetryAfterFailedQuestion(t *testing.T) {
	m := &fakeMentor{stepErr: errors.New("connection reset"), steps: []domain.QuizStep{question("Q1", "A")}}
	r, out := newQuizREPL(t, newFakeStore(), m, "retry\n")

	require.NoError(t, r.run(context.Background(), "u1"))
	require.Contains(t, out.String(), "quiz_error")
	require.Contains(t, out.String(), "Type retry to ask again")
	require.Contains(t, out.String(), "1. A")
}

func TestQuizREPL_Reset(t *testing.T) {
	store := newFakeStore()
	store.quizzes["u1/science"] = domain.QuizRecord{
		Stream:  domain.StreamScience,
		Answers: domain.Answers{{Question: "Q1", Answer: "A"}},
		Result:  "Engineering",
	}
	m := &fakeMentor{steps: []domain.QuizStep{question("Q1", "A", "B")}}
	r, out := newQuizREPL(t, store, m, "reset\n")

	require.NoError(t, r.run(context.Background(), "u1"))
	require.Contains(t, out.String(), "Quiz complete")
	require.Contains(t, out.String(), "2. B")
	require.Empty(t, store.quizzes["u1/science"].Answers)
	require.Empty(t, store.quizzes["u1/science"].Result)
}

func TestLevelOptions(t *testing.T) {
	debug := logger.New(append([]logger.Option{logger.WithWriter(&bytes.Buffer{})}, levelOptions("warn", true)...)...)
	require.True(t, debug.Enabled(context.Background(), slog.LevelDebug))

	warn := logger.New(append([]logger.Option{logger.WithWriter(&bytes.Buffer{})}, levelOptions("warn", false)...)...)
	require.False(t, warn.Enabled(context.Background(), slog.LevelInfo))
	require.True(t, warn.Enabled(context.Background(), slog.LevelWarn))
}

func TestRootCmd_RequiresUser(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	cmd := newRootCmd()
	cmd.SetArgs([]string{"chat", "--sqlite-path", t.TempDir() + "/m.db", "--mentor-url", "http://localhost:5000"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	require.ErrorContains(t, cmd.Execute(), "--user is required")
}

func TestRootCmd_UnknownStream(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"quiz", "--user", "u1", "--stream", "astrology"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	require.ErrorContains(t, cmd.Execute(), "unknown stream")
}
