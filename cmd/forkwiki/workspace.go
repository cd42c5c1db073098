package main

import (
	"context"
	"fmt"
	"io"

	"forkwiki/pkg/auth"
	"forkwiki/pkg/config"
	"forkwiki/pkg/coordinator"
	"forkwiki/pkg/metrics"
	"forkwiki/pkg/session"
	"forkwiki/pkg/wiki"

	"go.uber.org/zap"
)

// workspace is an authenticated coordinator bound to the configured backend
// and the local identity key.
type workspace struct {
	cfg     *config.Config
	logger  *zap.Logger
	keypair *auth.Keypair
	machine *session.Machine
	coord   *coordinator.Coordinator
	authURL string
	created bool
	closer  io.Closer
}

func openWorkspace(ctx context.Context, logger *zap.Logger, m *metrics.WikiMetrics) (*workspace, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	backend, closer, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	kp, created, err := auth.LoadOrCreateKeypair(cfg.KeyFile)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	if created {
		logger.Info("Generated new identity",
			zap.String("identity", string(kp.Identity())),
			zap.String("key_file", cfg.KeyFile))
	}

	machine := session.NewMachine(logger, m)
	coord := coordinator.New(machine, logger, coordinator.Options{
		Discovery: wiki.DiscoveryConfig{
			ProbeTimeout: cfg.Discovery.Timeout,
			Concurrency:  cfg.Discovery.Concurrency,
		},
		Metrics: m,
	})

	local := auth.NewLocalFlow(kp, backend, logger)
	local.AutoApprove = true
	flow := &recordingFlow{AuthFlow: local}
	if err := session.Run(ctx, flow, machine); err != nil {
		closer.Close()
		return nil, err
	}

	ws := &workspace{
		cfg:     cfg,
		logger:  logger,
		keypair: kp,
		machine: machine,
		coord:   coord,
		authURL: flow.url,
		created: created,
		closer:  closer,
	}
	if err := coord.HandleState(ctx, machine.Current()); err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to load pages: %w", err)
	}
	return ws, nil
}

func (w *workspace) Close() error {
	return w.closer.Close()
}

// recordingFlow keeps the auth URL its flow handed out.
type recordingFlow struct {
	session.AuthFlow
	url string
}

func (f *recordingFlow) Start(ctx context.Context) (string, error) {
	url, err := f.AuthFlow.Start(ctx)
	f.url = url
	return url, err
}
