// Package wiki implements page storage, fork discovery and page comparison
// on top of a storage capability.
package wiki

import (
	"context"
	"errors"
	"fmt"
	"time"

	"forkwiki/pkg/address"
	"forkwiki/pkg/metrics"
	"forkwiki/pkg/storage"
	"forkwiki/pkg/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PageStore performs page CRUD for one authenticated identity. Writes go to
// the owner's namespace; reads and listings may target any identity.
type PageStore struct {
	capability storage.Capability
	owner      types.Identity
	logger     *zap.Logger
	metrics    *metrics.WikiMetrics
	newID      func() types.PageID
}

func NewPageStore(capability storage.Capability, owner types.Identity, logger *zap.Logger, m *metrics.WikiMetrics) *PageStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PageStore{
		capability: capability,
		owner:      owner,
		logger:     logger,
		metrics:    m,
		newID: func() types.PageID {
			return types.PageID(uuid.NewString())
		},
	}
}

// Owner returns the identity whose namespace receives writes.
func (s *PageStore) Owner() types.Identity {
	return s.owner
}

// Create writes content under explicitID, or under a fresh random id when
// explicitID is empty.
func (s *PageStore) Create(ctx context.Context, content types.PageContent, explicitID types.PageID) (loc types.PageLocator, err error) {
	start := time.Now()
	defer func() { s.observe("create", err, start) }()

	id := explicitID
	if id == "" {
		id = s.newID()
	}
	loc = types.NewLocator(s.owner, id)
	if err := address.ValidateLocator(loc); err != nil {
		return types.PageLocator{}, err
	}
	if err := s.capability.Put(ctx, address.NamespacePath(id), []byte(content)); err != nil {
		return types.PageLocator{}, fmt.Errorf("%w: create %s: %w", ErrWriteFailure, loc, err)
	}

	s.logger.Info("Created page", zap.Stringer("locator", loc))
	return loc, nil
}

// Update overwrites the page at id. A missing page is created.
func (s *PageStore) Update(ctx context.Context, id types.PageID, content types.PageContent) (err error) {
	start := time.Now()
	defer func() { s.observe("update", err, start) }()

	if err := address.ValidatePageID(id); err != nil {
		return err
	}
	if err := s.capability.Put(ctx, address.NamespacePath(id), []byte(content)); err != nil {
		return fmt.Errorf("%w: update %s: %w", ErrWriteFailure, id, err)
	}

	s.logger.Info("Updated page", zap.String("owner", string(s.owner)), zap.String("id", string(id)))
	return nil
}

// Delete removes the page at id. Deleting an absent page succeeds.
func (s *PageStore) Delete(ctx context.Context, id types.PageID) (err error) {
	start := time.Now()
	defer func() { s.observe("delete", err, start) }()

	if err := address.ValidatePageID(id); err != nil {
		return err
	}
	if err := s.capability.Delete(ctx, address.NamespacePath(id)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Debug("Delete of absent page", zap.String("id", string(id)))
			return nil
		}
		return fmt.Errorf("%w: delete %s: %w", ErrWriteFailure, id, err)
	}

	s.logger.Info("Deleted page", zap.String("owner", string(s.owner)), zap.String("id", string(id)))
	return nil
}

// Get fetches any page. Absence yields ErrNotFound; every other storage
// failure yields ErrFetchFailure wrapping the cause.
func (s *PageStore) Get(ctx context.Context, owner types.Identity, id types.PageID) (content types.PageContent, err error) {
	start := time.Now()
	defer func() { s.observe("get", err, start) }()

	loc := types.NewLocator(owner, id)
	if err := address.ValidateLocator(loc); err != nil {
		return "", err
	}
	data, err := s.capability.Get(ctx, address.ToLocatorURL(loc))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, loc)
		}
		return "", fmt.Errorf("%w: %s: %w", ErrFetchFailure, loc, err)
	}
	return types.PageContent(data), nil
}

// List enumerates the pages of owner. It never fails: an enumeration error
// is logged and yields an empty result.
func (s *PageStore) List(ctx context.Context, owner types.Identity) []types.PageLocator {
	pages, _ := s.Scan(ctx, owner)
	return pages
}

// Scan is List with diagnostics: it also returns the enumeration error or the
// parse errors of entries that were skipped.
func (s *PageStore) Scan(ctx context.Context, owner types.Identity) ([]types.PageLocator, []error) {
	start := time.Now()

	urls, err := s.capability.List(ctx, address.OwnerURL(owner, address.NamespaceRoot))
	if err != nil {
		err = fmt.Errorf("%w: list %s: %w", ErrFetchFailure, owner, err)
		s.observe("list", err, start)
		s.logger.Warn("Failed to list pages", zap.String("owner", string(owner)), zap.Error(err))
		return []types.PageLocator{}, []error{err}
	}

	pages := make([]types.PageLocator, 0, len(urls))
	var warnings []error
	for _, url := range urls {
		loc, err := address.ParseStorageURL(url)
		if err != nil {
			s.logger.Warn("Skipping unparsable listing entry", zap.String("url", url), zap.Error(err))
			warnings = append(warnings, err)
			continue
		}
		pages = append(pages, loc)
	}
	s.observe("list", nil, start)
	return pages, warnings
}

func (s *PageStore) observe(op string, err error, start time.Time) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	s.metrics.ObserveStore(op, result, start)
}
