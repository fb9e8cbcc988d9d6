package nfi

import (
	"context"

	"github.com/nfi/pkg/executor"
	"github.com/nfi/pkg/task"
	"github.com/nfi/pkg/vault"
	"github.com/pkg/errors"
)

// Scanner collects the forensic document of a single host.
type Scanner interface {
	Execute(ctx context.Context, target executor.Target) executor.Outcome
}

type Option func(*Service)

// WithScanner replaces the collector, mostly for tests.
func WithScanner(s Scanner) Option {
	return func(svc *Service) { svc.scanner = s }
}

// WithRunner selects where scans run. Defaults to task.Async.
func WithRunner(r task.Runner) Option {
	return func(svc *Service) { svc.runner = r }
}

// Service ties the store, the vault and the collector together. It is safe
// for concurrent use.
type Service struct {
	conf    *Configuration
	vault   *vault.Vault
	repos   *repositoryRegistry
	scanner Scanner
	runner  task.Runner
	tasks   *task.Dispatcher[*Snapshot]
}

func Open(conf *Configuration, opts ...Option) (*Service, error) {
	if conf == nil {
		return nil, errors.New("missing configuration")
	}

	v, err := vault.FromSettings(conf.Vault.EncryptionKey, conf.Vault.SecretKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize vault")
	}

	svc := &Service{
		conf:   conf,
		vault:  v,
		repos:  newRepositoryRegistry(conf.Database.Path),
		runner: task.Async{},
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.scanner == nil {
		svc.scanner = executor.New(conf.Collector, v)
	}
	svc.tasks = task.NewDispatcher[*Snapshot](svc.runner, conf.TaskConfig())
	return svc, nil
}

func (s *Service) Close() error {
	return s.repos.Close()
}
