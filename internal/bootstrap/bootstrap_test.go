package bootstrap

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"

	"career-compass/internal/config"
	"career-compass/internal/logger"
	"career-compass/internal/repository"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		StoreBackend:     config.BackendSQLite,
		SQLitePath:       filepath.Join(t.TempDir(), "mentor.db"),
		MentorBaseURL:    "http://localhost:5000",
		InferenceTimeout: time.Second,
		StoreTimeout:     time.Second,
		MaxMessageLength: 100,
		LogFormat:        "text",
	}
}

func failingLoader(t *testing.T) AWSLoader {
	return func(context.Context) (aws.Config, error) {
		t.Fatal("AWS config must not be loaded")
		return aws.Config{}, nil
	}
}

func TestBuild_SQLiteSkipsAWS(t *testing.T) {
	app, err := Build(context.Background(), sqliteConfig(t), logger.Nop(), WithAWSLoader(failingLoader(t)))
	require.NoError(t, err)
	defer app.Close()

	require.IsType(t, &repository.SQLiteStore{}, app.Store)
	require.NotNil(t, app.Mentor)

	chat, err := app.Factory.NewChat()
	require.NoError(t, err)
	view, err := chat.Load(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, view.Turns)
}

func TestBuild_DynamoDB(t *testing.T) {
	cfg := &config.Config{
		StoreBackend:     config.BackendDynamoDB,
		StateTable:       "mentor-state",
		MentorBaseURL:    "https://mentor.example.com",
		InferenceTimeout: time.Second,
		StoreTimeout:     time.Second,
		MaxMessageLength: 100,
	}
	loaded := false
	app, err := Build(context.Background(), cfg, logger.Nop(), WithAWSLoader(func(context.Context) (aws.Config, error) {
		loaded = true
		return aws.Config{Region: "eu-west-1"}, nil
	}))
	require.NoError(t, err)
	require.True(t, loaded)
	require.IsType(t, &repository.Client{}, app.Store)
	require.NoError(t, app.Close())
}

func TestBuild_AWSLoadError(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.StoreBackend = config.BackendDynamoDB
	cfg.StateTable = "t"
	_, err := Build(context.Background(), cfg, logger.Nop(), WithAWSLoader(func(context.Context) (aws.Config, error) {
		return aws.Config{}, errors.New("no credentials")
	}))
	require.ErrorContains(t, err, "no credentials")
}

func TestBuild_InvalidMentorURL(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.MentorBaseURL = "localhost:5000"
	_, err := Build(context.Background(), cfg, logger.Nop(), WithAWSLoader(failingLoader(t)))
	require.ErrorContains(t, err, "mentor client")
}

func TestBuild_NilConfig(t *testing.T) {
	_, err := Build(context.Background(), nil, nil)
	require.Error(t, err)
}
