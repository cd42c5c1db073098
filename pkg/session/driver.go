package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"forkwiki/pkg/storage"
	"forkwiki/pkg/types"

	"go.uber.org/zap"
)

// Approval is what an auth provider hands back once the user consents.
type Approval struct {
	Identity types.Identity
	Storage  storage.Capability
}

// AuthFlow is a push-style auth provider: Start yields the URL to show and
// Await blocks until the user approves or the flow fails.
type AuthFlow interface {
	Start(ctx context.Context) (string, error)
	Await(ctx context.Context) (Approval, error)
}

// Run drives m through one auth flow. Failures move m to the error state and
// are returned wrapped in ErrAuth.
func Run(ctx context.Context, flow AuthFlow, m *Machine) error {
	authURL, err := flow.Start(ctx)
	if err != nil {
		return fail(m, fmt.Errorf("failed to start auth flow: %w", err))
	}
	if err := m.BeginAuth(authURL); err != nil {
		return err
	}

	approval, err := flow.Await(ctx)
	if err != nil {
		return fail(m, fmt.Errorf("failed to await approval: %w", err))
	}
	if err := m.Confirm(approval.Identity, approval.Storage); err != nil {
		return fail(m, err)
	}
	return nil
}

func fail(m *Machine, err error) error {
	if ferr := m.Fail(err.Error()); ferr != nil {
		m.logger.Warn("Could not record auth failure", zap.Error(ferr))
	}
	return fmt.Errorf("%w: %w", ErrAuth, err)
}

// Report is one observation from a polled auth provider.
type Report struct {
	Status   Status
	AuthURL  string
	Identity types.Identity
	Storage  storage.Capability
	Message  string
	// Revoked reports an explicit end of an authenticated session.
	Revoked bool
}

// StatusProvider is a pull-style auth provider.
type StatusProvider interface {
	Status(ctx context.Context) (Report, error)
}

// Poll queries provider every interval and applies each report to m until ctx
// ends. Provider errors are logged and retried on the next tick.
func Poll(ctx context.Context, provider StatusProvider, m *Machine, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := provider.Status(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			m.logger.Warn("Failed to poll auth status", zap.Error(err))
		case err == nil:
			if err := Apply(m, report); err != nil {
				m.logger.Warn("Ignoring auth report", zap.Stringer("status", report.Status), zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Apply advances m toward report by at most the documented transitions.
// Leaving Initializing goes through ShowingQR, so a provider must report the
// auth URL it used even when it reports an already authenticated session.
// Stale reports are ignored: an authenticated session only leaves that state
// on an explicit revoke.
func Apply(m *Machine, report Report) error {
	current := m.Current()
	switch current.Status {
	case Initializing:
		switch report.Status {
		case ShowingQR, Authenticated:
			if report.AuthURL == "" {
				m.logger.Warn("Ignoring session report without auth URL",
					zap.String("reported", report.Status.String()))
				return nil
			}
			if err := m.BeginAuth(report.AuthURL); err != nil {
				return err
			}
			if report.Status == Authenticated {
				return m.Confirm(report.Identity, report.Storage)
			}
		case Failed:
			return m.Fail(report.Message)
		}
	case ShowingQR:
		switch report.Status {
		case Authenticated:
			return m.Confirm(report.Identity, report.Storage)
		case Failed:
			return m.Fail(report.Message)
		}
	case Authenticated:
		if report.Revoked {
			return m.Revoke()
		}
	case Failed:
		// Only an explicit restart leaves the error state.
	default:
		return errors.New("unknown session status")
	}
	return nil
}
