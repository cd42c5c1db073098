package integration

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"forkwiki/pkg/address"
	"forkwiki/pkg/storage"
	"forkwiki/pkg/transport"
	"forkwiki/pkg/types"
	"forkwiki/pkg/wiki"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// TestStorageServerRestart checks that a client keeps working once the
// storage server comes back on the same address.
func TestStorageServerRestart(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	backend := storage.NewMemoryBackend()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()

	server := transport.NewServer(backend, logger)
	server.Serve(lis)

	client, err := transport.Dial(addr, transport.RetryConfig{
		MaxRetries:   12,
		BaseDelay:    50 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		JitterFactor: 0.1,
	}, logger)
	require.NoError(t, err)
	defer client.Close()

	store := wiki.NewPageStore(storage.NewSession(client, "alice", logger), "alice", logger, nil)
	loc, err := store.Create(ctx, "# Survives\nrestarts", "page")
	require.NoError(t, err)

	server.Stop()

	shortCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	_, err = store.Get(shortCtx, loc.Owner, loc.ID)
	cancel()
	require.Error(t, err)
	assert.True(t, errors.Is(err, wiki.ErrFetchFailure), "got %v", err)

	lis, err = net.Listen("tcp", addr)
	require.NoError(t, err)
	restarted := transport.NewServer(backend, logger)
	restarted.Serve(lis)
	defer restarted.Stop()

	content, err := store.Get(ctx, loc.Owner, loc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PageContent("# Survives\nrestarts"), content)

	assert.Equal(t, []types.PageLocator{loc}, store.List(ctx, "alice"))
}

func TestFollowsOverTransport(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := transport.NewServer(storage.NewMemoryBackend(), logger)
	server.Serve(lis)
	defer server.Stop()

	client, err := transport.Dial(lis.Addr().String(), transport.DefaultRetryConfig(), logger)
	require.NoError(t, err)
	defer client.Close()

	alice := storage.NewSession(client, "alice", logger)
	require.NoError(t, alice.Put(ctx, address.FollowsRoot+"bob", []byte(`{"created_at":1}`)))

	keys, err := alice.List(ctx, address.OwnerURL("alice", address.FollowsRoot))
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}
