package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"forkwiki/pkg/address"
	"forkwiki/pkg/metrics"
	"forkwiki/pkg/session"
	"forkwiki/pkg/social"
	"forkwiki/pkg/storage"
	"forkwiki/pkg/types"
	"forkwiki/pkg/wiki"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const (
	alice types.Identity = "alice"
	bob   types.Identity = "bob"
	carol types.Identity = "carol"
)

// testBackend wraps a memory backend with injectable read failures and a
// read gate that blocks until the caller's context ends.
type testBackend struct {
	*storage.MemoryBackend
	failPaths []string
	block     atomic.Bool
	entered   chan struct{}
}

func newTestBackend() *testBackend {
	return &testBackend{
		MemoryBackend: storage.NewMemoryBackend(),
		entered:       make(chan struct{}, 16),
	}
}

func (b *testBackend) Read(ctx context.Context, owner types.Identity, path string) ([]byte, error) {
	if b.block.Load() {
		b.entered <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	for _, p := range b.failPaths {
		if strings.HasSuffix(path, p) {
			return nil, errors.New("disk error")
		}
	}
	return b.MemoryBackend.Read(ctx, owner, path)
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	backend *testBackend
	machine *session.Machine
	coord   *Coordinator
	metrics *metrics.WikiMetrics
}

func staticGraph(graph social.Static) GraphFactory {
	return func(storage.Capability, *zap.Logger) social.Graph { return graph }
}

func newFixture(t *testing.T, graph GraphFactory) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	m := metrics.New(prometheus.NewRegistry())
	machine := session.NewMachine(logger, m)
	return &fixture{
		t:       t,
		ctx:     context.Background(),
		backend: newTestBackend(),
		machine: machine,
		coord:   New(machine, logger, Options{Graph: graph, Metrics: m}),
		metrics: m,
	}
}

// login authenticates as identity and lets the coordinator handle it.
func (f *fixture) login(identity types.Identity) {
	f.t.Helper()
	require.NoError(f.t, f.machine.BeginAuth("pubkyauth:///?caps=/pub/wiki.app/:rw&secret=abc"))
	require.NoError(f.t, f.coord.HandleState(f.ctx, f.machine.Current()))
	require.NoError(f.t, f.machine.Confirm(identity, storage.NewSession(f.backend, identity, nil)))
	require.NoError(f.t, f.coord.HandleState(f.ctx, f.machine.Current()))
}

// seed writes a page straight into owner's namespace.
func (f *fixture) seed(owner types.Identity, id types.PageID, content string) {
	f.t.Helper()
	sess := storage.NewSession(f.backend, owner, nil)
	require.NoError(f.t, sess.Put(f.ctx, address.NamespacePath(id), []byte(content)))
}

func TestScenarioCreateShowsTitle(t *testing.T) {
	f := newFixture(t, staticGraph(nil))
	f.login(alice)

	loc, err := f.coord.CreatePage(f.ctx, "# Hi\nbody", "")
	require.NoError(t, err)

	assert.Equal(t, "Hi", f.coord.Titles()[loc])
	assert.Equal(t, types.ViewList, f.coord.View())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TitleCacheEntries))
}

func TestScenarioUpdateThenDelete(t *testing.T) {
	f := newFixture(t, staticGraph(nil))
	f.login(alice)

	loc, err := f.coord.CreatePage(f.ctx, "# Hi\nbody", "")
	require.NoError(t, err)

	require.NoError(t, f.coord.UpdatePage(f.ctx, loc.ID, "# Hello again"))
	assert.Equal(t, "Hello again", f.coord.Titles()[loc])

	require.NoError(t, f.coord.DeletePage(f.ctx, loc.ID))
	assert.NotContains(t, f.coord.Titles(), loc)

	err = f.coord.ViewPage(f.ctx, loc.Owner, loc.ID)
	assert.ErrorIs(t, err, wiki.ErrNotFound)
	assert.NotErrorIs(t, err, wiki.ErrFetchFailure)
}

func TestScenarioForkDiscovery(t *testing.T) {
	f := newFixture(t, staticGraph(social.Static{alice: {bob, carol}}))
	f.seed(bob, "p", "# Bob's page")
	f.login(alice)

	require.NoError(t, f.coord.ViewPage(f.ctx, bob, "p"))
	assert.Equal(t, []string{"bob/p"}, f.coord.Forks().Strings())
	assert.Empty(t, f.coord.ForkWarnings())

	// Once alice holds p as well, she is listed first.
	f.seed(alice, "p", "# Alice's page")
	require.NoError(t, f.coord.ViewPage(f.ctx, bob, "p"))
	assert.Equal(t, []string{"alice/p", "bob/p"}, f.coord.Forks().Strings())
}

func TestScenarioBackNavigation(t *testing.T) {
	f := newFixture(t, staticGraph(nil))
	for _, id := range []types.PageID{"a", "b", "c"} {
		f.seed(bob, id, "# "+string(id))
	}
	f.login(alice)

	for _, id := range []types.PageID{"a", "b", "c"} {
		require.NoError(t, f.coord.ViewPage(f.ctx, bob, id))
	}
	assert.Equal(t, 2, f.coord.Depth())

	require.NoError(t, f.coord.GoBack(f.ctx))
	assert.Equal(t, types.NewLocator(bob, "b"), f.coord.Current())
	require.NoError(t, f.coord.GoBack(f.ctx))
	assert.Equal(t, types.NewLocator(bob, "a"), f.coord.Current())
	assert.Equal(t, 0, f.coord.Depth())

	require.NoError(t, f.coord.GoBack(f.ctx))
	assert.Equal(t, types.ViewList, f.coord.View())
	assert.True(t, f.coord.Current().IsZero())
	assert.Equal(t, 0, f.coord.Depth())
}

func TestGoBackSkipsDeletedPages(t *testing.T) {
	f := newFixture(t, staticGraph(nil))
	for _, id := range []types.PageID{"a", "b", "c"} {
		f.seed(bob, id, "# "+string(id))
	}
	f.login(alice)

	for _, id := range []types.PageID{"a", "b", "c"} {
		require.NoError(t, f.coord.ViewPage(f.ctx, bob, id))
	}
	require.NoError(t, f.backend.Erase(f.ctx, bob, address.NamespacePath("b")))

	require.NoError(t, f.coord.GoBack(f.ctx))
	assert.Equal(t, types.NewLocator(bob, "a"), f.coord.Current())
	assert.Equal(t, 0, f.coord.Depth())
}

func TestGoBackReachesListWhenHistoryIsGone(t *testing.T) {
	f := newFixture(t, staticGraph(nil))
	f.seed(bob, "a", "# a")
	f.seed(bob, "b", "# b")
	f.login(alice)

	require.NoError(t, f.coord.ViewPage(f.ctx, bob, "a"))
	require.NoError(t, f.coord.ViewPage(f.ctx, bob, "b"))
	require.NoError(t, f.backend.Erase(f.ctx, bob, address.NamespacePath("a")))

	require.NoError(t, f.coord.GoBack(f.ctx))
	assert.Equal(t, types.ViewList, f.coord.View())
	assert.True(t, f.coord.Current().IsZero())
	assert.Equal(t, 0, f.coord.Depth())
}

func TestGoBackKeepsFrameOnFetchFailure(t *testing.T) {
	f := newFixture(t, staticGraph(nil))
	f.seed(bob, "a", "# a")
	f.seed(bob, "b", "# b")
	f.login(alice)

	require.NoError(t, f.coord.ViewPage(f.ctx, bob, "a"))
	require.NoError(t, f.coord.ViewPage(f.ctx, bob, "b"))
	f.backend.failPaths = []string{"/a"}

	assert.ErrorIs(t, f.coord.GoBack(f.ctx), wiki.ErrFetchFailure)
	assert.Equal(t, 1, f.coord.Depth())
	assert.Equal(t, types.NewLocator(bob, "b"), f.coord.Current())

	f.backend.failPaths = nil
	require.NoError(t, f.coord.GoBack(f.ctx))
	assert.Equal(t, types.NewLocator(bob, "a"), f.coord.Current())
}

func TestViewingSamePageTwiceDoesNotGrowStack(t *testing.T) {
	f := newFixture(t, staticGraph(nil))
	f.seed(bob, "a", "a")
	f.seed(bob, "b", "b")
	f.login(alice)

	require.NoError(t, f.coord.ViewPage(f.ctx, bob, "a"))
	require.NoError(t, f.coord.ViewPage(f.ctx, bob, "a"))
	assert.Equal(t, 0, f.coord.Depth())

	require.NoError(t, f.coord.ViewPage(f.ctx, bob, "b"))
	require.NoError(t, f.coord.FollowLink(f.ctx, "bob/b"))
	assert.Equal(t, 1, f.coord.Depth())

	f.coord.GoToList()
	assert.Equal(t, 0, f.coord.Depth())
	assert.Equal(t, types.ViewList, f.coord.View())
}

func TestFailedViewKeepsState(t *testing.T) {
	f := newFixture(t, staticGraph(nil))
	f.seed(bob, "a", "# A")
	f.login(alice)

	require.NoError(t, f.coord.ViewPage(f.ctx, bob, "a"))
	err := f.coord.ViewPage(f.ctx, bob, "missing")
	assert.ErrorIs(t, err, wiki.ErrNotFound)
	assert.Equal(t, types.NewLocator(bob, "a"), f.coord.Current())
	assert.Equal(t, 0, f.coord.Depth())

	assert.ErrorIs(t, f.coord.FollowLink(f.ctx, "https://example.com"), address.ErrParse)
}

func TestRefreshOmitsUnreadablePages(t *testing.T) {
	f := newFixture(t, staticGraph(nil))
	f.seed(alice, "good", "# Good")
	f.seed(alice, "broken", "# Broken")
	f.backend.failPaths = []string{"/broken"}
	f.login(alice)

	titles := f.coord.Titles()
	assert.Equal(t, types.TitleCache{types.NewLocator(alice, "good"): "Good"}, titles)
}

func TestEditAndForkRules(t *testing.T) {
	f := newFixture(t, staticGraph(social.Static{alice: {bob}}))
	f.seed(bob, "soup", "# Soup\nsalt")
	f.login(alice)

	assert.ErrorIs(t, f.coord.EditCurrentPage(), ErrNoPage)
	_, err := f.coord.ForkCurrentPage(f.ctx)
	assert.ErrorIs(t, err, ErrNoPage)

	require.NoError(t, f.coord.ViewPage(f.ctx, bob, "soup"))
	assert.ErrorIs(t, f.coord.EditCurrentPage(), ErrNotOwner)

	fork, err := f.coord.ForkCurrentPage(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, types.NewLocator(alice, "soup"), fork)
	assert.Equal(t, fork, f.coord.Current())
	assert.Equal(t, 1, f.coord.Depth(), "the forked page is pushed")
	assert.Equal(t, "Soup", f.coord.Titles()[fork])
	assert.Equal(t, []string{"alice/soup", "bob/soup"}, f.coord.Forks().Strings())

	_, err = f.coord.ForkCurrentPage(f.ctx)
	assert.ErrorIs(t, err, ErrOwnPage)

	require.NoError(t, f.coord.EditCurrentPage())
	assert.Equal(t, types.ViewEdit, f.coord.View())
	assert.Equal(t, types.PageContent("# Soup\nsalt"), f.coord.Draft())
	require.NoError(t, f.coord.SetDraft("# Soup\nsalt and pepper"))
	require.NoError(t, f.coord.UpdatePage(f.ctx, fork.ID, f.coord.Draft()))
	assert.Equal(t, types.ViewList, f.coord.View())

	// A second fork of the same id would overwrite alice's copy.
	require.NoError(t, f.coord.ViewPage(f.ctx, bob, "soup"))
	_, err = f.coord.ForkCurrentPage(f.ctx)
	assert.ErrorIs(t, err, ErrForkExists)
}

func TestDraftRequiresEditor(t *testing.T) {
	f := newFixture(t, staticGraph(nil))
	f.login(alice)

	assert.ErrorIs(t, f.coord.SetDraft("x"), ErrWrongView)
	require.NoError(t, f.coord.BeginCreate())
	assert.Equal(t, types.ViewCreate, f.coord.View())
	require.NoError(t, f.coord.SetDraft("# New"))
	assert.Equal(t, types.PageContent("# New"), f.coord.Draft())
}

func TestCompareShareAndLinks(t *testing.T) {
	f := newFixture(t, staticGraph(nil))
	f.seed(bob, "soup", "# Soup\nthe quick brown fox\nsee (carol's take)[carol/soup]")
	f.seed(carol, "soup", "# Soup\nthe quick red fox")
	f.login(alice)

	_, err := f.coord.ShareLink()
	assert.ErrorIs(t, err, ErrNoPage)

	require.NoError(t, f.coord.ViewPage(f.ctx, bob, "soup"))

	link, err := f.coord.ShareLink()
	require.NoError(t, err)
	assert.Equal(t, "[link](bob/soup)", link)

	found := f.coord.Links()
	require.Len(t, found, 1)
	assert.Equal(t, types.NewLocator(carol, "soup"), found[0].Target)

	diff, err := f.coord.CompareWith(f.ctx, types.NewLocator(carol, "soup"))
	require.NoError(t, err)
	assert.Equal(t, []wiki.DiffLine{
		{Kind: wiki.Unchanged, Old: "# Soup", New: "# Soup"},
		{Kind: wiki.Removed, Old: "the quick brown fox"},
		{Kind: wiki.Removed, Old: "see (carol's take)[carol/soup]"},
		{Kind: wiki.Added, New: "the quick red fox"},
	}, diff)

	require.NoError(t, f.coord.FollowLink(f.ctx, found[0].Href))
	assert.Equal(t, types.NewLocator(carol, "soup"), f.coord.Current())
	assert.Equal(t, 1, f.coord.Depth())
}

func TestFollowsThroughStorageGraph(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(bob, "p", "# P")
	f.login(alice)

	require.NoError(t, f.coord.Follow(f.ctx, bob))
	follows, err := f.coord.Follows(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.Identity{bob}, follows)

	require.NoError(t, f.coord.ViewPage(f.ctx, bob, "p"))
	assert.Equal(t, []string{"bob/p"}, f.coord.Forks().Strings())

	require.NoError(t, f.coord.Unfollow(f.ctx, bob))
	follows, err = f.coord.Follows(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, follows)
}

func TestStaticGraphIsReadOnly(t *testing.T) {
	f := newFixture(t, staticGraph(social.Static{}))
	f.login(alice)
	assert.ErrorIs(t, f.coord.Follow(f.ctx, bob), ErrUnsupported)
}

func TestOperationsRequireAuthentication(t *testing.T) {
	f := newFixture(t, staticGraph(nil))
	ctx := f.ctx

	_, err := f.coord.CreatePage(ctx, "x", "")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.ErrorIs(t, f.coord.UpdatePage(ctx, "p", "x"), ErrNotAuthenticated)
	assert.ErrorIs(t, f.coord.DeletePage(ctx, "p"), ErrNotAuthenticated)
	assert.ErrorIs(t, f.coord.ViewPage(ctx, bob, "p"), ErrNotAuthenticated)
	assert.ErrorIs(t, f.coord.RefreshList(ctx), ErrNotAuthenticated)
	assert.ErrorIs(t, f.coord.BeginCreate(), ErrNotAuthenticated)
	_, err = f.coord.Follows(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.NoError(t, f.coord.GoBack(ctx))
	assert.Empty(t, f.coord.Identity())
}

func TestRevokeDiscardsInFlightWork(t *testing.T) {
	f := newFixture(t, staticGraph(nil))
	f.seed(bob, "slow", "# Slow")
	f.login(alice)

	f.backend.block.Store(true)
	result := make(chan error, 1)
	go func() { result <- f.coord.ViewPage(f.ctx, bob, "slow") }()

	select {
	case <-f.backend.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("view never reached storage")
	}

	require.NoError(t, f.machine.Revoke())
	require.NoError(t, f.coord.HandleState(f.ctx, f.machine.Current()))

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrStale)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight view was not cancelled")
	}

	assert.Equal(t, session.Initializing, f.coord.State().Status)
	assert.Equal(t, types.ViewList, f.coord.View())
	assert.True(t, f.coord.Current().IsZero())
	assert.Empty(t, f.coord.Titles())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StaleResults))
}

func TestHandleStateIgnoresOlderEpochs(t *testing.T) {
	f := newFixture(t, staticGraph(nil))
	f.seed(alice, "p", "# P")
	f.login(alice)
	authenticated := f.machine.Current()

	require.NoError(t, f.coord.HandleState(f.ctx, session.State{Status: session.Initializing, Epoch: 1}))
	assert.Equal(t, session.Authenticated, f.coord.State().Status)
	assert.Equal(t, authenticated.Epoch, f.coord.State().Epoch)
	assert.Len(t, f.coord.Titles(), 1)
	assert.Equal(t, alice, f.coord.Identity())
}

func TestRunFollowsMachine(t *testing.T) {
	f := newFixture(t, staticGraph(nil))
	f.seed(alice, "p", "# From storage")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.coord.Run(ctx) }()

	require.NoError(t, f.machine.BeginAuth("pubkyauth:///?caps=/pub/wiki.app/:rw&secret=abc"))
	require.NoError(t, f.machine.Confirm(alice, storage.NewSession(f.backend, alice, nil)))

	assert.Eventually(t, func() bool {
		return f.coord.Titles()[types.NewLocator(alice, "p")] == "From storage"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.machine.Revoke())
	assert.Eventually(t, func() bool {
		return f.coord.State().Status == session.Initializing && len(f.coord.Titles()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
