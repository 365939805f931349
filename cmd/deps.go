// File: cmd/deps.go
package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/claimpilot/internal/browser"
	"github.com/xkilldash9x/claimpilot/internal/config"
	"github.com/xkilldash9x/claimpilot/internal/control"
	"github.com/xkilldash9x/claimpilot/internal/observability"
	"github.com/xkilldash9x/claimpilot/internal/pagehost"
	"github.com/xkilldash9x/claimpilot/internal/workstore"
)

// storeProvider creates the work store. Tests inject an in-memory store
// shared across command executions.
type storeProvider interface {
	// Create returns the store and a cleanup function releasing it.
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (workstore.Store, func(), error)
}

type defaultStoreProvider struct{}

func (defaultStoreProvider) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (workstore.Store, func(), error) {
	store, err := workstore.Open(ctx, cfg.Store(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open work store: %w", err)
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close work store.", zap.Error(err))
		}
	}
	return store, cleanup, nil
}

// deps are the collaborators commands reach outside the process for.
type deps struct {
	stores     storeProvider
	openTab    func(ctx context.Context, cfg config.BrowserConfig, siteMarker string, logger *zap.Logger) (pagehost.Tab, error)
	dial       control.DialFunc
	injector   func(logger *zap.Logger) control.Injector
	runProgram func(ctx context.Context, m tea.Model) error
}

func defaultDeps() deps {
	return deps{
		stores: defaultStoreProvider{},
		openTab: func(ctx context.Context, cfg config.BrowserConfig, siteMarker string, logger *zap.Logger) (pagehost.Tab, error) {
			s, err := browser.Open(ctx, cfg, siteMarker, logger)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		injector: func(logger *zap.Logger) control.Injector {
			inj := &control.ProcessInjector{Logger: logger}
			if cfgFile != "" {
				inj.Args = []string{"--config", cfgFile}
			}
			return inj
		},
		runProgram: func(ctx context.Context, m tea.Model) error {
			_, err := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen()).Run()
			return err
		},
	}
}

// env is what most commands need: configuration, a logger and the state
// protocol over an open store.
type env struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   workstore.Store
	state   *workstore.State
	cleanup func()
}

func setup(cmd *cobra.Command, d deps) (*env, error) {
	cfg, err := configFrom(cmd)
	if err != nil {
		return nil, err
	}
	logger := observability.GetLogger()
	store, cleanup, err := d.stores.Create(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		state:   workstore.NewState(store, logger),
		cleanup: cleanup,
	}, nil
}

func (e *env) surface(d deps) *control.Surface {
	var opts []control.Option
	if d.dial != nil {
		opts = append(opts, control.WithDialer(d.dial))
	}
	var inj control.Injector
	if d.injector != nil {
		inj = d.injector(e.logger)
	}
	return control.New(e.state, e.cfg.Control(), inj, e.logger, opts...)
}
