// Package bootstrap wires configuration into a ready session factory. Both the
// Lambda and the terminal client start here.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"career-compass/internal/config"
	"career-compass/internal/integrations/mentor"
	"career-compass/internal/integrations/paramstore"
	"career-compass/internal/repository"
	"career-compass/internal/session"
)

// App holds the wired collaborators. Close releases the local database, if any.
type App struct {
	Factory *session.Factory
	Store   session.Store
	Mentor  *mentor.Client
	close   func() error
}

func (a *App) Close() error {
	if a == nil || a.close == nil {
		return nil
	}
	return a.close()
}

type AWSLoader func(ctx context.Context) (aws.Config, error)

type buildOptions struct {
	loadAWS AWSLoader
}

type Option func(*buildOptions)

// WithAWSLoader replaces config.LoadDefaultConfig.
func WithAWSLoader(l AWSLoader) Option {
	return func(o *buildOptions) {
		if l != nil {
			o.loadAWS = l
		}
	}
}

func defaultAWSLoader(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx)
}

// Build creates the store, the mentor client and the controller factory
// described by cfg. AWS configuration is only loaded when DynamoDB or
// Parameter Store is in use.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	o := buildOptions{loadAWS: defaultAWSLoader}
	for _, opt := range opts {
		opt(&o)
	}

	needAWS := cfg.StoreBackend == config.BackendDynamoDB || cfg.ParamPrefix != ""
	var awsCfg aws.Config
	if needAWS {
		var err error
		awsCfg, err = o.loadAWS(ctx)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load AWS config: %w", err)
		}
	}

	var ps *paramstore.Client
	if cfg.ParamPrefix != "" {
		var err error
		ps, err = paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, fmt.Errorf("bootstrap: create SSM client: %w", err)
		}
		if err := cfg.ApplyParameters(ctx, ps); err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
	}

	app := &App{}
	switch cfg.StoreBackend {
	case config.BackendDynamoDB:
		store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: create state client: %w", err)
		}
		app.Store = store
	case config.BackendSQLite:
		store, err := repository.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: open sqlite store: %w", err)
		}
		app.Store = store
		app.close = store.Close
	default:
		return nil, fmt.Errorf("bootstrap: unknown store backend %q", cfg.StoreBackend)
	}

	var mentorOpts []mentor.Option
	if ps != nil {
		mentorOpts = append(mentorOpts, mentor.WithTokenSource(ps, cfg.ParamPrefix))
	}
	client, err := mentor.NewClient(cfg.MentorBaseURL, mentorOpts...)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("bootstrap: create mentor client: %w", err)
	}
	app.Mentor = client

	factory, err := session.NewFactory(client, client, app.Store,
		session.WithLogger(log),
		session.WithInferenceTimeout(cfg.InferenceTimeout),
		session.WithStoreTimeout(cfg.StoreTimeout),
		session.WithMaxMessageLength(cfg.MaxMessageLength),
	)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("bootstrap: create session factory: %w", err)
	}
	app.Factory = factory

	log.Info("session engine ready",
		"store", cfg.StoreBackend,
		"mentor_base_url", cfg.MentorBaseURL,
		"token_source", ps != nil,
	)
	return app, nil
}
