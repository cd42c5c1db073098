package session

import (
	"testing"
	"time"

	"forkwiki/pkg/metrics"
	"forkwiki/pkg/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testCapability() storage.Capability {
	return storage.NewSession(storage.NewMemoryBackend(), "alice", nil)
}

// driveTo puts a fresh machine into status through documented transitions.
func driveTo(t *testing.T, status Status) *Machine {
	t.Helper()
	m := NewMachine(zaptest.NewLogger(t), nil)
	switch status {
	case ShowingQR:
		require.NoError(t, m.BeginAuth("pubkyauth:///?secret=x"))
	case Authenticated:
		require.NoError(t, m.BeginAuth("pubkyauth:///?secret=x"))
		require.NoError(t, m.Confirm("alice", testCapability()))
	case Failed:
		require.NoError(t, m.Fail("boom"))
	}
	return m
}

func TestTransitions(t *testing.T) {
	type op struct {
		name string
		do   func(m *Machine) error
	}
	ops := []op{
		{"begin", func(m *Machine) error { return m.BeginAuth("pubkyauth:///?secret=y") }},
		{"confirm", func(m *Machine) error { return m.Confirm("alice", testCapability()) }},
		{"fail", func(m *Machine) error { return m.Fail("nope") }},
		{"revoke", func(m *Machine) error { return m.Revoke() }},
		{"restart", func(m *Machine) error { return m.Restart() }},
	}
	allowed := map[Status]map[string]Status{
		Initializing:  {"begin": ShowingQR, "fail": Failed},
		ShowingQR:     {"confirm": Authenticated, "fail": Failed},
		Authenticated: {"revoke": Initializing},
		Failed:        {"restart": Initializing},
	}

	for from, targets := range allowed {
		for _, o := range ops {
			t.Run(from.String()+"/"+o.name, func(t *testing.T) {
				m := driveTo(t, from)
				before := m.Current()

				err := o.do(m)
				want, ok := targets[o.name]
				if !ok {
					assert.ErrorIs(t, err, ErrInvalidTransition)
					assert.Equal(t, before, m.Current())
					return
				}
				require.NoError(t, err)
				after := m.Current()
				assert.Equal(t, want, after.Status)
				assert.Equal(t, before.Epoch+1, after.Epoch)
			})
		}
	}
}

func TestInitializingNeverJumpsToAuthenticated(t *testing.T) {
	m := NewMachine(nil, nil)
	assert.ErrorIs(t, m.Confirm("alice", testCapability()), ErrInvalidTransition)
	assert.Equal(t, Initializing, m.Current().Status)
}

func TestConfirmValidatesInput(t *testing.T) {
	m := driveTo(t, ShowingQR)
	assert.ErrorIs(t, m.Confirm("", testCapability()), ErrInvalidTransition)
	assert.ErrorIs(t, m.Confirm("alice", nil), ErrInvalidTransition)
	assert.ErrorIs(t, m.BeginAuth(""), ErrInvalidTransition)
	assert.Equal(t, ShowingQR, m.Current().Status)
}

func TestAuthenticatedIdentityIsStable(t *testing.T) {
	m := driveTo(t, Authenticated)
	state := m.Current()

	assert.Error(t, m.BeginAuth("other"))
	assert.Error(t, m.Confirm("mallory", testCapability()))
	assert.Equal(t, state.Identity, m.Current().Identity)
	assert.Equal(t, state.Epoch, m.Current().Epoch)
}

func TestStateErr(t *testing.T) {
	m := driveTo(t, Failed)
	err := m.Current().Err()
	assert.ErrorIs(t, err, ErrAuth)
	assert.Contains(t, err.Error(), "boom")
	assert.NoError(t, driveTo(t, Authenticated).Current().Err())
}

func receive(t *testing.T, ch <-chan State) State {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "channel closed")
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state")
		return State{}
	}
}

func TestSubscribeDeliversEveryStateInOrder(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMachine(zaptest.NewLogger(t), metrics.New(registry))
	states, cancel := m.Subscribe()
	defer cancel()

	// Transitions complete without anyone reading.
	require.NoError(t, m.BeginAuth("pubkyauth:///?secret=1"))
	require.NoError(t, m.Confirm("alice", testCapability()))
	require.NoError(t, m.Revoke())
	require.NoError(t, m.Fail("later"))

	want := []Status{Initializing, ShowingQR, Authenticated, Initializing, Failed}
	for i, status := range want {
		s := receive(t, states)
		assert.Equal(t, status, s.Status)
		assert.Equal(t, uint64(i), s.Epoch)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.SessionTransitions.WithLabelValues("initializing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.SessionTransitions.WithLabelValues("error")))
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	m := NewMachine(nil, nil)
	states, cancel := m.Subscribe()
	receive(t, states)

	cancel()
	cancel()

	select {
	case _, ok := <-states:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
	assert.NoError(t, m.BeginAuth("pubkyauth:///?secret=1"))
}
