// Package coordinator is the single owner of a wiki session's view state. It
// reacts to session transitions and routes UI operations to the page store
// and fork discovery.
package coordinator

import (
	"context"
	"errors"
	"sync"

	"forkwiki/pkg/metrics"
	"forkwiki/pkg/navigation"
	"forkwiki/pkg/session"
	"forkwiki/pkg/social"
	"forkwiki/pkg/storage"
	"forkwiki/pkg/types"
	"forkwiki/pkg/wiki"

	"go.uber.org/zap"
)

var (
	ErrNotAuthenticated = errors.New("session is not authenticated")
	// ErrStale is returned when the session changed while an operation was in
	// flight; its results were discarded.
	ErrStale       = errors.New("session changed during operation")
	ErrNoPage      = errors.New("no page is being viewed")
	ErrNotOwner    = errors.New("page belongs to another identity")
	ErrOwnPage     = errors.New("page already belongs to this identity")
	ErrForkExists  = errors.New("a page with this id already exists in the own namespace")
	ErrWrongView   = errors.New("operation not available in the current view")
	ErrUnsupported = errors.New("follow graph is read-only")
)

// GraphFactory builds the follow graph for an authenticated session.
type GraphFactory func(capability storage.Capability, logger *zap.Logger) social.Graph

// Options tune a Coordinator. Zero values select the defaults.
type Options struct {
	Graph     GraphFactory
	Discovery wiki.DiscoveryConfig
	Metrics   *metrics.WikiMetrics
}

// scope is everything bound to one authenticated session. It is replaced,
// never mutated, when the session changes.
type scope struct {
	epoch     uint64
	identity  types.Identity
	store     *wiki.PageStore
	discovery *wiki.Discovery
	graph     social.Graph
	ctx       context.Context
	cancel    context.CancelFunc
}

type Coordinator struct {
	machine *session.Machine
	logger  *zap.Logger
	opts    Options

	// opMu serializes operations end to end.
	opMu sync.Mutex

	// mu guards the fields below. It is never held across storage calls.
	mu      sync.Mutex
	seen    bool
	state   session.State
	scope   *scope
	titles  types.TitleCache
	nav     *navigation.Stack
	view    types.ViewKind
	current types.PageLocator
	content types.PageContent
	draft   types.PageContent
	forks   wiki.ForkResult
}

func New(machine *session.Machine, logger *zap.Logger, opts Options) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Graph == nil {
		opts.Graph = func(capability storage.Capability, logger *zap.Logger) social.Graph {
			return social.NewStorageGraph(capability, logger)
		}
	}
	return &Coordinator{
		machine: machine,
		logger:  logger,
		opts:    opts,
		titles:  types.TitleCache{},
		nav:     navigation.New(),
		view:    types.ViewList,
	}
}

// Run feeds every session transition to the coordinator until ctx ends.
// Title cache rebuilds run in the background so that a later transition can
// cancel them.
func (c *Coordinator) Run(ctx context.Context) error {
	states, cancel := c.machine.Subscribe()
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case st, ok := <-states:
			if !ok {
				return nil
			}
			if !c.applyState(st) {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := c.RefreshList(ctx); err != nil && !errors.Is(err, ErrStale) && !errors.Is(err, ErrNotAuthenticated) {
					c.logger.Warn("Failed to refresh page list",
						zap.Uint64("epoch", st.Epoch),
						zap.Error(err))
				}
			}()
		}
	}
}

// HandleState applies a session state and, when it is Authenticated,
// rebuilds the title cache before returning.
func (c *Coordinator) HandleState(ctx context.Context, st session.State) error {
	if !c.applyState(st) {
		return nil
	}
	return c.RefreshList(ctx)
}

// applyState records st and reports whether a new authenticated scope was
// opened. States older than the last one handled are ignored. Leaving a
// session cancels its in-flight operations and clears all view state.
func (c *Coordinator) applyState(st session.State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seen && st.Epoch <= c.state.Epoch {
		return false
	}
	c.seen = true
	c.state = st
	if c.scope != nil {
		c.scope.cancel()
		c.scope = nil
	}
	c.resetViewLocked()
	c.titles = types.TitleCache{}
	c.observeTitlesLocked()

	c.logger.Debug("Handling session state",
		zap.Stringer("status", st.Status),
		zap.Uint64("epoch", st.Epoch))
	if st.Status != session.Authenticated {
		return false
	}
	c.scope = c.newScope(st)
	return true
}

func (c *Coordinator) newScope(st session.State) *scope {
	ctx, cancel := context.WithCancel(context.Background())
	logger := c.logger.With(zap.String("identity", string(st.Identity)))
	store := wiki.NewPageStore(st.Storage, st.Identity, logger, c.opts.Metrics)
	graph := c.opts.Graph(st.Storage, logger)
	return &scope{
		epoch:     st.Epoch,
		identity:  st.Identity,
		store:     store,
		discovery: wiki.NewDiscovery(store, graph, c.opts.Discovery, logger, c.opts.Metrics),
		graph:     graph,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// begin returns the current scope and a context cancelled when either ctx or
// the scope ends.
func (c *Coordinator) begin(ctx context.Context) (*scope, context.Context, context.CancelFunc, error) {
	c.mu.Lock()
	sc := c.scope
	c.mu.Unlock()
	if sc == nil {
		return nil, nil, nil, ErrNotAuthenticated
	}

	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(sc.ctx, cancel)
	return sc, opCtx, func() {
		stop()
		cancel()
	}, nil
}

// commit runs apply under mu if sc is still the live scope.
func (c *Coordinator) commit(sc *scope, apply func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scope != sc {
		if c.opts.Metrics != nil {
			c.opts.Metrics.StaleResults.Inc()
		}
		c.logger.Debug("Discarding stale result", zap.Uint64("epoch", sc.epoch))
		return ErrStale
	}
	apply()
	return nil
}

func (c *Coordinator) resetViewLocked() {
	c.nav.Reset()
	c.view = types.ViewList
	c.current = types.PageLocator{}
	c.content = ""
	c.draft = ""
	c.forks = wiki.ForkResult{Forks: types.ForkSet{}}
}

func (c *Coordinator) observeTitlesLocked() {
	if c.opts.Metrics != nil {
		c.opts.Metrics.TitleCacheEntries.Set(float64(len(c.titles)))
	}
}

// State returns the last session state handled.
func (c *Coordinator) State() session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the authenticated identity, or "" when not authenticated.
func (c *Coordinator) Identity() types.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scope == nil {
		return ""
	}
	return c.scope.identity
}

// Titles returns a copy of the title cache.
func (c *Coordinator) Titles() types.TitleCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.titles.Clone()
}

// Forks returns the fork set of the page being viewed.
func (c *Coordinator) Forks() types.ForkSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(types.ForkSet{}, c.forks.Forks...)
}

// ForkWarnings lists candidates the last discovery could not check.
func (c *Coordinator) ForkWarnings() []wiki.ProbeWarning {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wiki.ProbeWarning(nil), c.forks.Warnings...)
}

// Depth is the navigation stack depth; zero means "back" leads to the list.
func (c *Coordinator) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nav.Depth()
}

func (c *Coordinator) View() types.ViewKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Current returns the page being viewed or edited.
func (c *Coordinator) Current() types.PageLocator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Coordinator) Content() types.PageContent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content
}

func (c *Coordinator) Draft() types.PageContent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}
