package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"career-compass/internal/domain"
)

func TestNewFactory_ValidatesDependencies(t *testing.T) {
	_, err := NewFactory(nil, &scriptedQuiz{}, newMemoryStore())
	require.Error(t, err)
	_, err = NewFactory(&stubChat{}, nil, newMemoryStore())
	require.Error(t, err)
	_, err = NewFactory(&stubChat{}, &scriptedQuiz{}, nil)
	require.Error(t, err)
}

func TestFactory_ControllersShareStore(t *testing.T) {
	store := newMemoryStore()
	f, err := NewFactory(&stubChat{reply: "hi"}, &scriptedQuiz{}, store, WithLogger(quietLogger()))
	require.NoError(t, err)

	a, err := f.NewChat()
	require.NoError(t, err)
	_, err = a.Load(context.Background(), "user-1")
	require.NoError(t, err)
	_, err = a.Dispatch(context.Background(), SendMessage{Text: "hello"})
	require.NoError(t, err)

	b, err := f.NewChat()
	require.NoError(t, err)
	view, err := b.Load(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, view.Turns, 2)

	_, err = f.NewQuiz("music")
	require.Error(t, err)
	quiz, err := f.NewQuiz(domain.StreamCommerce)
	require.NoError(t, err)
	require.Equal(t, domain.StreamCommerce, quiz.View().Stream)
}
