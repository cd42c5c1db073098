// Package session models the authentication lifecycle of a wiki session.
package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"forkwiki/pkg/address"
	"forkwiki/pkg/metrics"
	"forkwiki/pkg/storage"
	"forkwiki/pkg/types"

	"go.uber.org/zap"
)

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrAuth              = errors.New("authentication failed")
)

// Status is the tag of a session state.
type Status int

const (
	Initializing Status = iota
	ShowingQR
	Authenticated
	Failed
)

func (s Status) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case ShowingQR:
		return "showing_qr"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

// State is one snapshot of the session. Only the fields belonging to Status
// are set. Epoch increases by one on every transition.
type State struct {
	Status   Status
	Epoch    uint64
	AuthURL  string
	Identity types.Identity
	Storage  storage.Capability
	Message  string
}

// Err returns an ErrAuth error for a failed state and nil otherwise.
func (s State) Err() error {
	if s.Status != Failed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrAuth, s.Message)
}

// Machine holds the current session state. Transitions are serialized and
// every subscriber observes them in the same order.
type Machine struct {
	mu      sync.Mutex
	state   State
	subs    map[int]*subscriber
	nextSub int
	logger  *zap.Logger
	metrics *metrics.WikiMetrics
}

func NewMachine(logger *zap.Logger, m *metrics.WikiMetrics) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		state:   State{Status: Initializing},
		subs:    make(map[int]*subscriber),
		logger:  logger,
		metrics: m,
	}
}

func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// BeginAuth moves Initializing to ShowingQR.
func (m *Machine) BeginAuth(authURL string) error {
	if authURL == "" {
		return fmt.Errorf("%w: empty auth url", ErrInvalidTransition)
	}
	return m.transition(State{Status: ShowingQR, AuthURL: authURL}, Initializing)
}

// Confirm moves ShowingQR to Authenticated.
func (m *Machine) Confirm(identity types.Identity, capability storage.Capability) error {
	if err := address.ValidateIdentity(identity); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTransition, err)
	}
	if capability == nil {
		return fmt.Errorf("%w: missing storage capability", ErrInvalidTransition)
	}
	return m.transition(State{Status: Authenticated, Identity: identity, Storage: capability}, ShowingQR)
}

// Fail moves Initializing or ShowingQR to the error state.
func (m *Machine) Fail(message string) error {
	return m.transition(State{Status: Failed, Message: message}, Initializing, ShowingQR)
}

// Revoke ends an authenticated session.
func (m *Machine) Revoke() error {
	return m.transition(State{Status: Initializing}, Authenticated)
}

// Restart leaves the error state.
func (m *Machine) Restart() error {
	return m.transition(State{Status: Initializing}, Failed)
}

func (m *Machine) transition(next State, from ...Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(from, m.state.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state.Status, next.Status)
	}
	prev := m.state.Status
	next.Epoch = m.state.Epoch + 1
	m.state = next

	for _, sub := range m.subs {
		sub.enqueue(next)
	}
	if m.metrics != nil {
		m.metrics.SessionTransitions.WithLabelValues(next.Status.String()).Inc()
	}
	m.logger.Info("Session transition",
		zap.Stringer("from", prev),
		zap.Stringer("to", next.Status),
		zap.Uint64("epoch", next.Epoch),
		zap.String("identity", string(next.Identity)))
	return nil
}

// Subscribe returns a channel that first yields the current state and then
// every later state in order. The cancel func stops delivery and closes the
// channel.
func (m *Machine) Subscribe() (<-chan State, func()) {
	sub := newSubscriber()

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = sub
	sub.enqueue(m.state)
	m.mu.Unlock()

	go sub.run()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(sub.done)
		})
	}
	return sub.out, cancel
}

// subscriber buffers states without bound so a slow reader never blocks a
// transition or loses a state.
type subscriber struct {
	mu    sync.Mutex
	queue []State
	wake  chan struct{}
	out   chan State
	done  chan struct{}
}

func newSubscriber() *subscriber {
	return &subscriber{
		wake: make(chan struct{}, 1),
		out:  make(chan State),
		done: make(chan struct{}),
	}
}

func (s *subscriber) enqueue(state State) {
	s.mu.Lock()
	s.queue = append(s.queue, state)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}
