// Package social provides the follow graph used to bound fork discovery.
package social

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"forkwiki/pkg/address"
	"forkwiki/pkg/storage"
	"forkwiki/pkg/types"

	"go.uber.org/zap"
)

// Graph reports who an identity follows. Implementations return an empty
// slice on failure instead of an error.
type Graph interface {
	Follows(ctx context.Context, identity types.Identity) []types.Identity
}

// Static is a fixed follow graph.
type Static map[types.Identity][]types.Identity

func (s Static) Follows(_ context.Context, identity types.Identity) []types.Identity {
	follows := s[identity]
	out := make([]types.Identity, len(follows))
	copy(out, follows)
	return out
}

// followRecord is the body written for each follow entry.
type followRecord struct {
	CreatedAt int64 `json:"created_at"`
}

// StorageGraph reads follows from each identity's follows folder and writes
// the session owner's own follows.
type StorageGraph struct {
	capability storage.Capability
	logger     *zap.Logger
	now        func() time.Time
}

func NewStorageGraph(capability storage.Capability, logger *zap.Logger) *StorageGraph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StorageGraph{
		capability: capability,
		logger:     logger,
		now:        time.Now,
	}
}

// Follows lists the identities followed by identity, in storage order.
// Entries whose last segment is not a valid identity are skipped.
func (g *StorageGraph) Follows(ctx context.Context, identity types.Identity) []types.Identity {
	urls, err := g.capability.List(ctx, address.OwnerURL(identity, address.FollowsRoot))
	if err != nil {
		g.logger.Warn("Failed to list follows",
			zap.String("identity", string(identity)),
			zap.Error(err))
		return []types.Identity{}
	}

	follows := make([]types.Identity, 0, len(urls))
	seen := make(map[types.Identity]bool, len(urls))
	for _, url := range urls {
		follow := types.Identity(url[strings.LastIndex(url, "/")+1:])
		if err := address.ValidateIdentity(follow); err != nil {
			g.logger.Debug("Skipping malformed follow entry", zap.String("url", url), zap.Error(err))
			continue
		}
		if seen[follow] {
			continue
		}
		seen[follow] = true
		follows = append(follows, follow)
	}
	return follows
}

// Follow records that the session owner follows identity.
func (g *StorageGraph) Follow(ctx context.Context, identity types.Identity) error {
	if err := address.ValidateIdentity(identity); err != nil {
		return err
	}
	body, err := json.Marshal(followRecord{CreatedAt: g.now().UnixMicro()})
	if err != nil {
		return fmt.Errorf("failed to encode follow: %w", err)
	}
	if err := g.capability.Put(ctx, address.FollowsRoot+string(identity), body); err != nil {
		return fmt.Errorf("failed to follow %s: %w", identity, err)
	}
	return nil
}

// Unfollow removes a follow entry. Removing an absent entry is not an error.
func (g *StorageGraph) Unfollow(ctx context.Context, identity types.Identity) error {
	if err := address.ValidateIdentity(identity); err != nil {
		return err
	}
	err := g.capability.Delete(ctx, address.FollowsRoot+string(identity))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to unfollow %s: %w", identity, err)
	}
	return nil
}
