package wiki

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"forkwiki/pkg/metrics"
	"forkwiki/pkg/social"
	"forkwiki/pkg/storage"
	"forkwiki/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakePages answers probes from fixed tables and tracks peak concurrency.
type fakePages struct {
	has    map[types.Identity]bool
	fail   map[types.Identity]error
	hang   map[types.Identity]bool
	stuck  map[types.Identity]chan struct{}
	delay  time.Duration
	active atomic.Int32
	peak   atomic.Int32
	calls  atomic.Int32
}

func (f *fakePages) Get(ctx context.Context, owner types.Identity, id types.PageID) (types.PageContent, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if ch, ok := f.stuck[owner]; ok {
		<-ch
		return "", fmt.Errorf("%w: released", ErrFetchFailure)
	}
	if f.hang[owner] {
		<-ctx.Done()
		return "", fmt.Errorf("%w: %w", ErrFetchFailure, ctx.Err())
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := f.fail[owner]; err != nil {
		return "", err
	}
	if f.has[owner] {
		return types.PageContent("# " + string(id)), nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrNotFound, owner, id)
}

func TestDiscoverAmongOrdering(t *testing.T) {
	tests := []struct {
		name    string
		has     []types.Identity
		follows []types.Identity
		want    []string
	}{
		{
			name:    "only a follow holds the page",
			has:     []types.Identity{"B"},
			follows: []types.Identity{"B", "C"},
			want:    []string{"B/p"},
		},
		{
			name:    "own first then follows in order",
			has:     []types.Identity{"A", "B", "C"},
			follows: []types.Identity{"C", "B"},
			want:    []string{"A/p", "C/p", "B/p"},
		},
		{
			name:    "duplicates and self in follows dropped",
			has:     []types.Identity{"A", "B"},
			follows: []types.Identity{"B", "A", "B"},
			want:    []string{"A/p", "B/p"},
		},
		{
			name:    "malformed follows skipped",
			has:     []types.Identity{"B"},
			follows: []types.Identity{"", "x/y", "B"},
			want:    []string{"B/p"},
		},
		{
			name: "nobody holds it",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages := &fakePages{has: map[types.Identity]bool{}}
			for _, id := range tt.has {
				pages.has[id] = true
			}
			d := NewDiscovery(pages, nil, DiscoveryConfig{}, zaptest.NewLogger(t), nil)

			result := d.DiscoverAmong(context.Background(), "A", tt.follows, "p")
			assert.Equal(t, tt.want, result.Forks.Strings())
			assert.Empty(t, result.Warnings)
		})
	}
}

// The own namespace is probed like any other candidate, so a page that does
// not exist there is not listed as an own fork.
func TestDiscoverProbesOwnIdentity(t *testing.T) {
	pages := &fakePages{has: map[types.Identity]bool{"B": true}}
	d := NewDiscovery(pages, nil, DiscoveryConfig{}, nil, nil)

	result := d.DiscoverAmong(context.Background(), "A", []types.Identity{"B"}, "p")
	assert.False(t, result.Forks.Contains("A"))
	assert.Equal(t, int32(2), pages.calls.Load())
}

func TestDiscoverIsolatesFailures(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	pages := &fakePages{
		has:  map[types.Identity]bool{"A": true, "B": true, "D": true},
		fail: map[types.Identity]error{"B": fmt.Errorf("%w: boom", ErrFetchFailure)},
		hang: map[types.Identity]bool{"C": true},
	}
	d := NewDiscovery(pages, nil, DiscoveryConfig{ProbeTimeout: 50 * time.Millisecond}, zaptest.NewLogger(t), m)

	start := time.Now()
	result := d.DiscoverAmong(context.Background(), "A", []types.Identity{"B", "C", "D"}, "p")

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{"A/p", "D/p"}, result.Forks.Strings())
	require.Len(t, result.Warnings, 2)
	assert.Equal(t, types.Identity("B"), result.Warnings[0].Owner)
	assert.ErrorIs(t, result.Warnings[0], ErrFetchFailure)
	assert.Equal(t, types.Identity("C"), result.Warnings[1].Owner)
	assert.ErrorIs(t, result.Warnings[1], context.DeadlineExceeded)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DiscoveryCandidates.WithLabelValues(metrics.OutcomeFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DiscoveryCandidates.WithLabelValues(metrics.OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DiscoveryCandidates.WithLabelValues(metrics.OutcomeTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DiscoveryRuns))
}

func TestDiscoverDoesNotWaitForGetterIgnoringContext(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	pages := &fakePages{
		has:   map[types.Identity]bool{"B": true},
		stuck: map[types.Identity]chan struct{}{"C": release},
	}
	d := NewDiscovery(pages, nil, DiscoveryConfig{ProbeTimeout: 50 * time.Millisecond}, zaptest.NewLogger(t), m)

	results := make(chan ForkResult, 1)
	go func() {
		results <- d.DiscoverAmong(context.Background(), "A", []types.Identity{"B", "C"}, "p")
	}()

	var result ForkResult
	select {
	case result = <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("discovery blocked on a getter that ignores its context")
	}

	assert.Equal(t, []string{"B/p"}, result.Forks.Strings())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, types.Identity("C"), result.Warnings[0].Owner)
	assert.ErrorIs(t, result.Warnings[0], context.DeadlineExceeded)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DiscoveryCandidates.WithLabelValues(metrics.OutcomeTimeout)))
}

func TestDiscoverRespectsConcurrencyLimit(t *testing.T) {
	pages := &fakePages{has: map[types.Identity]bool{}, delay: 10 * time.Millisecond}
	follows := make([]types.Identity, 12)
	for i := range follows {
		follows[i] = types.Identity(fmt.Sprintf("user%d", i))
		pages.has[follows[i]] = i%2 == 0
	}
	d := NewDiscovery(pages, nil, DiscoveryConfig{Concurrency: 3}, nil, nil)

	result := d.DiscoverAmong(context.Background(), "A", follows, "p")
	assert.Len(t, result.Forks, 6)
	assert.LessOrEqual(t, pages.peak.Load(), int32(3))
	assert.Equal(t, int32(13), pages.calls.Load())
}

func TestDiscoverCancelledContext(t *testing.T) {
	pages := &fakePages{has: map[types.Identity]bool{"A": true, "B": true}}
	d := NewDiscovery(pages, nil, DiscoveryConfig{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := d.DiscoverAmong(ctx, "A", []types.Identity{"B"}, "p")
	assert.NotNil(t, result.Forks)
	assert.Empty(t, result.Forks)
	assert.Equal(t, int32(0), pages.calls.Load())
}

func TestDiscoverUsesFollowGraph(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	alice := newTestStore(t, backend, "alice")
	bob := newTestStore(t, backend, "bob")

	_, err := alice.Create(ctx, "# Original", "recipe")
	require.NoError(t, err)
	_, err = bob.Create(ctx, "# Bob's fork", "recipe")
	require.NoError(t, err)

	graph := social.Static{"alice": {"carol", "bob"}}
	d := NewDiscovery(alice, graph, DiscoveryConfig{}, zaptest.NewLogger(t), metrics.NewNop())

	result := d.Discover(ctx, "alice", "recipe")
	assert.Equal(t, []string{"alice/recipe", "bob/recipe"}, result.Forks.Strings())
	assert.Empty(t, result.Warnings)
}
