// Package storage defines the storage capability consumed by the wiki core and
// the key/value backends that can serve it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"forkwiki/pkg/address"
	"forkwiki/pkg/types"

	"go.uber.org/zap"
)

var (
	ErrNotFound    = errors.New("object not found")
	ErrForbidden   = errors.New("path outside granted capabilities")
	ErrInvalidPath = errors.New("invalid storage path")
)

// Capability is what an authenticated session may do against the network.
// Put, Delete and path-form List act on the session owner's namespace; Get
// and URL-form List may address any owner.
type Capability interface {
	Put(ctx context.Context, path string, content []byte) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Get(ctx context.Context, url string) ([]byte, error)
}

// Backend is a flat key/value store partitioned by owner. Paths are absolute
// ("/pub/wiki.app/x"). Read and Erase report ErrNotFound for missing keys.
type Backend interface {
	Write(ctx context.Context, owner types.Identity, path string, data []byte) error
	Read(ctx context.Context, owner types.Identity, path string) ([]byte, error)
	Erase(ctx context.Context, owner types.Identity, path string) error
	Keys(ctx context.Context, owner types.Identity, prefix string) ([]string, error)
}

// DefaultScopes are the write capabilities a wiki session asks for.
var DefaultScopes = []string{address.NamespaceRoot, address.FollowsRoot}

// Session binds a Backend to one owner and a set of writable path prefixes.
type Session struct {
	backend Backend
	owner   types.Identity
	scopes  []string
	logger  *zap.Logger
}

func NewSession(backend Backend, owner types.Identity, logger *zap.Logger, scopes ...string) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return &Session{
		backend: backend,
		owner:   owner,
		scopes:  scopes,
		logger:  logger,
	}
}

func (s *Session) Owner() types.Identity {
	return s.owner
}

func (s *Session) Put(ctx context.Context, path string, content []byte) error {
	if err := s.checkWrite(path); err != nil {
		return err
	}
	if err := s.backend.Write(ctx, s.owner, path, content); err != nil {
		return fmt.Errorf("failed to put %s: %w", path, err)
	}
	s.logger.Debug("put", zap.String("owner", string(s.owner)), zap.String("path", path), zap.Int("bytes", len(content)))
	return nil
}

func (s *Session) Delete(ctx context.Context, path string) error {
	if err := s.checkWrite(path); err != nil {
		return err
	}
	if err := s.backend.Erase(ctx, s.owner, path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	s.logger.Debug("delete", zap.String("owner", string(s.owner)), zap.String("path", path))
	return nil
}

// List returns locator URLs under prefix. A bare path lists the session
// owner's namespace; a pubky:// URL lists the named owner's public folder.
func (s *Session) List(ctx context.Context, prefix string) ([]string, error) {
	owner, path := s.owner, prefix
	if strings.Contains(prefix, "://") {
		var err error
		owner, path, err = address.SplitURL(prefix)
		if err != nil {
			return nil, err
		}
	}
	if err := validatePath(path); err != nil {
		return nil, err
	}
	keys, err := s.backend.Keys(ctx, owner, path)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	urls := make([]string, 0, len(keys))
	for _, key := range keys {
		urls = append(urls, address.OwnerURL(owner, key))
	}
	return urls, nil
}

func (s *Session) Get(ctx context.Context, url string) ([]byte, error) {
	owner, path, err := address.SplitURL(url)
	if err != nil {
		return nil, err
	}
	if err := validatePath(path); err != nil {
		return nil, err
	}
	data, err := s.backend.Read(ctx, owner, path)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", url, err)
	}
	return data, nil
}

func (s *Session) checkWrite(path string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	for _, scope := range s.scopes {
		if strings.HasPrefix(path, scope) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrForbidden, path)
}

func validatePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: %q must be absolute", ErrInvalidPath, path)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." || seg == "." {
			return fmt.Errorf("%w: %q contains relative segments", ErrInvalidPath, path)
		}
	}
	return nil
}
