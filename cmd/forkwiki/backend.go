package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"forkwiki/pkg/config"
	"forkwiki/pkg/storage"
	"forkwiki/pkg/transport"

	"go.uber.org/zap"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openBackend builds the storage backend selected by cfg.Storage.Backend.
func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Backend, io.Closer, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return storage.NewMemoryBackend(), nopCloser{}, nil

	case config.BackendDisk:
		size, err := cfg.CacheSizeBytes()
		if err != nil {
			return nil, nil, err
		}
		logger.Debug("Opening disk storage",
			zap.String("dir", cfg.Storage.DiskDir),
			zap.String("cache", config.FormatSize(int64(size))))
		return storage.NewDiskBackend(cfg.Storage.DiskDir, size), nopCloser{}, nil

	case config.BackendRedis:
		backend, err := storage.NewRedisBackend(cfg.Storage.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := backend.Ping(pingCtx); err != nil {
			backend.Close()
			return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Storage.RedisURL, err)
		}
		return backend, backend, nil

	case config.BackendGRPC:
		retry := transport.RetryConfig{
			MaxRetries:   cfg.Retry.MaxRetries,
			BaseDelay:    cfg.Retry.BaseDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			JitterFactor: cfg.Retry.JitterFactor,
		}
		client, err := transport.Dial(cfg.Storage.GRPCAddress, retry, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to storage server: %w", err)
		}
		return client, client, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalidConfig, cfg.Storage.Backend)
}
