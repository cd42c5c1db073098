package coordinator

import (
	"context"
	"errors"

	"forkwiki/pkg/address"
	"forkwiki/pkg/links"
	"forkwiki/pkg/types"
	"forkwiki/pkg/wiki"

	"go.uber.org/zap"
)

// RefreshList rebuilds the title cache from the own namespace. Pages whose
// content cannot be fetched are logged and left out.
func (c *Coordinator) RefreshList(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	sc, opCtx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()
	return c.refresh(opCtx, sc)
}

func (c *Coordinator) refresh(ctx context.Context, sc *scope) error {
	titles := types.TitleCache{}
	for _, loc := range sc.store.List(ctx, sc.identity) {
		content, err := sc.store.Get(ctx, loc.Owner, loc.ID)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Warn("Omitting page from title cache", zap.Stringer("locator", loc), zap.Error(err))
			continue
		}
		titles[loc] = address.ExtractTitle(content)
	}
	if err := c.interrupted(ctx, sc); err != nil {
		return err
	}

	return c.commit(sc, func() {
		c.titles = titles
		c.observeTitlesLocked()
		if c.opts.Metrics != nil {
			c.opts.Metrics.CacheRefreshes.Inc()
		}
	})
}

// interrupted reports ErrStale if sc ended, or ctx's error if only the caller
// gave up.
func (c *Coordinator) interrupted(ctx context.Context, sc *scope) error {
	if ctx.Err() == nil {
		return nil
	}
	if err := c.commit(sc, func() {}); err != nil {
		return err
	}
	return ctx.Err()
}

// CreatePage writes a new own page, returns to the list and refreshes it.
// An empty explicitID selects a random id.
func (c *Coordinator) CreatePage(ctx context.Context, content types.PageContent, explicitID types.PageID) (types.PageLocator, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	sc, opCtx, done, err := c.begin(ctx)
	if err != nil {
		return types.PageLocator{}, err
	}
	defer done()

	loc, err := sc.store.Create(opCtx, content, explicitID)
	if err != nil {
		return types.PageLocator{}, err
	}
	if err := c.commit(sc, c.resetViewLocked); err != nil {
		return loc, err
	}
	return loc, c.refresh(opCtx, sc)
}

// UpdatePage overwrites an own page, returns to the list and refreshes it.
func (c *Coordinator) UpdatePage(ctx context.Context, id types.PageID, content types.PageContent) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	sc, opCtx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := sc.store.Update(opCtx, id, content); err != nil {
		return err
	}
	if err := c.commit(sc, c.resetViewLocked); err != nil {
		return err
	}
	return c.refresh(opCtx, sc)
}

// DeletePage removes an own page, returns to the list and refreshes it.
func (c *Coordinator) DeletePage(ctx context.Context, id types.PageID) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	sc, opCtx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := sc.store.Delete(opCtx, id); err != nil {
		return err
	}
	if err := c.commit(sc, c.resetViewLocked); err != nil {
		return err
	}
	return c.refresh(opCtx, sc)
}

// ViewPage shows any page and discovers its forks. Moving from one page to
// another pushes the page being left.
func (c *Coordinator) ViewPage(ctx context.Context, owner types.Identity, id types.PageID) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	sc, opCtx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()
	return c.show(opCtx, sc, types.NewLocator(owner, id), true)
}

func (c *Coordinator) show(ctx context.Context, sc *scope, loc types.PageLocator, push bool) error {
	if err := address.ValidateLocator(loc); err != nil {
		return err
	}
	content, err := sc.store.Get(ctx, loc.Owner, loc.ID)
	if err != nil {
		if ierr := c.interrupted(ctx, sc); ierr != nil {
			return ierr
		}
		return err
	}
	forks := sc.discovery.Discover(ctx, sc.identity, loc.ID)
	if err := c.interrupted(ctx, sc); err != nil {
		return err
	}

	return c.commit(sc, func() {
		if push && c.view == types.ViewPage && !c.current.IsZero() && c.current != loc {
			c.nav.Push(c.current)
		}
		c.view = types.ViewPage
		c.current = loc
		c.content = content
		c.draft = ""
		c.forks = forks
	})
}

// FollowLink views the page an "owner/id" link inside content points to.
func (c *Coordinator) FollowLink(ctx context.Context, href string) error {
	loc, err := address.ParseLink(href)
	if err != nil {
		return err
	}
	return c.ViewPage(ctx, loc.Owner, loc.ID)
}

// GoBack returns to the previously viewed page, or to the list when there is
// none. Frames whose page no longer exists are dropped; a frame that fails
// for any other reason stays on the stack.
func (c *Coordinator) GoBack(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.nav.Depth() == 0 {
		c.resetViewLocked()
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	sc, opCtx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	for {
		c.mu.Lock()
		prev, ok := c.nav.Pop()
		if !ok {
			c.resetViewLocked()
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		err := c.show(opCtx, sc, prev, false)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, wiki.ErrNotFound):
			c.logger.Info("Skipping missing page in history", zap.Stringer("locator", prev))
			continue
		case !errors.Is(err, ErrStale):
			c.mu.Lock()
			c.nav.Push(prev)
			c.mu.Unlock()
		}
		return err
	}
}

// GoToList shows the page list and clears the navigation stack.
func (c *Coordinator) GoToList() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetViewLocked()
}

// BeginCreate opens an empty draft.
func (c *Coordinator) BeginCreate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scope == nil {
		return ErrNotAuthenticated
	}
	c.view = types.ViewCreate
	c.current = types.PageLocator{}
	c.content = ""
	c.draft = ""
	return nil
}

// EditCurrentPage opens the viewed page for editing. Only own pages can be
// edited; foreign pages are forked instead.
func (c *Coordinator) EditCurrentPage() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scope == nil {
		return ErrNotAuthenticated
	}
	if c.view != types.ViewPage || c.current.IsZero() {
		return ErrNoPage
	}
	if c.current.Owner != c.scope.identity {
		return ErrNotOwner
	}
	c.view = types.ViewEdit
	c.draft = c.content
	return nil
}

// SetDraft replaces the draft of the create or edit view.
func (c *Coordinator) SetDraft(content types.PageContent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.view != types.ViewEdit && c.view != types.ViewCreate {
		return ErrWrongView
	}
	c.draft = content
	return nil
}

// ForkCurrentPage copies the viewed foreign page into the own namespace
// under the same page id and views the copy.
func (c *Coordinator) ForkCurrentPage(ctx context.Context) (types.PageLocator, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	sc, opCtx, done, err := c.begin(ctx)
	if err != nil {
		return types.PageLocator{}, err
	}
	defer done()

	c.mu.Lock()
	view, source, content := c.view, c.current, c.content
	c.mu.Unlock()
	if view != types.ViewPage || source.IsZero() {
		return types.PageLocator{}, ErrNoPage
	}
	if source.Owner == sc.identity {
		return types.PageLocator{}, ErrOwnPage
	}

	_, err = sc.store.Get(opCtx, sc.identity, source.ID)
	switch {
	case err == nil:
		return types.PageLocator{}, ErrForkExists
	case !errors.Is(err, wiki.ErrNotFound):
		return types.PageLocator{}, err
	}

	loc, err := sc.store.Create(opCtx, content, source.ID)
	if err != nil {
		return types.PageLocator{}, err
	}
	c.logger.Info("Forked page", zap.Stringer("from", source), zap.Stringer("to", loc))

	if err := c.refresh(opCtx, sc); err != nil {
		return loc, err
	}
	return loc, c.show(opCtx, sc, loc, true)
}

// CompareWith diffs the viewed page against another locator.
func (c *Coordinator) CompareWith(ctx context.Context, other types.PageLocator) ([]wiki.DiffLine, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	sc, opCtx, done, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	c.mu.Lock()
	current, content := c.current, c.content
	c.mu.Unlock()
	if current.IsZero() {
		return nil, ErrNoPage
	}

	otherContent, err := sc.store.Get(opCtx, other.Owner, other.ID)
	if err != nil {
		return nil, err
	}
	if err := c.commit(sc, func() {}); err != nil {
		return nil, err
	}
	return wiki.Compare(content, otherContent), nil
}

// ShareLink renders a link to the viewed page for pasting into other pages.
func (c *Coordinator) ShareLink() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current.IsZero() {
		return "", ErrNoPage
	}
	return address.ShareLink(c.current), nil
}

// Links returns the links inside the viewed page.
func (c *Coordinator) Links() []links.Link {
	c.mu.Lock()
	content := c.content
	c.mu.Unlock()
	return links.Extract(content)
}

// Follows lists the identities the session follows.
func (c *Coordinator) Follows(ctx context.Context) ([]types.Identity, error) {
	sc, opCtx, done, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return sc.graph.Follows(opCtx, sc.identity), nil
}

type writableGraph interface {
	Follow(ctx context.Context, identity types.Identity) error
	Unfollow(ctx context.Context, identity types.Identity) error
}

// Follow adds identity to the session's follows.
func (c *Coordinator) Follow(ctx context.Context, identity types.Identity) error {
	return c.editFollows(ctx, identity, true)
}

// Unfollow removes identity from the session's follows.
func (c *Coordinator) Unfollow(ctx context.Context, identity types.Identity) error {
	return c.editFollows(ctx, identity, false)
}

func (c *Coordinator) editFollows(ctx context.Context, identity types.Identity, follow bool) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	sc, opCtx, done, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	graph, ok := sc.graph.(writableGraph)
	if !ok {
		return ErrUnsupported
	}
	if follow {
		return graph.Follow(opCtx, identity)
	}
	return graph.Unfollow(opCtx, identity)
}
