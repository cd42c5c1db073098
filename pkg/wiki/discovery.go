package wiki

import (
	"context"
	"errors"
	"fmt"
	"time"

	"forkwiki/pkg/address"
	"forkwiki/pkg/metrics"
	"forkwiki/pkg/social"
	"forkwiki/pkg/types"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultProbeTimeout = 5 * time.Second
	DefaultConcurrency  = 8
)

// PageGetter fetches a page by locator.
type PageGetter interface {
	Get(ctx context.Context, owner types.Identity, id types.PageID) (types.PageContent, error)
}

// ProbeWarning records a candidate that could not be checked.
type ProbeWarning struct {
	Owner types.Identity
	Err   error
}

func (w ProbeWarning) Error() string {
	return fmt.Sprintf("fork probe %s: %v", w.Owner, w.Err)
}

func (w ProbeWarning) Unwrap() error {
	return w.Err
}

// ForkResult is the outcome of a discovery run. Warnings list candidates
// omitted because of a failure other than absence.
type ForkResult struct {
	Forks    types.ForkSet
	Warnings []ProbeWarning
}

// DiscoveryConfig bounds the fan-out.
type DiscoveryConfig struct {
	ProbeTimeout time.Duration
	Concurrency  int
}

// Discovery finds which of the viewer's own namespace and their follows hold
// a given page id.
type Discovery struct {
	pages   PageGetter
	graph   social.Graph
	config  DiscoveryConfig
	logger  *zap.Logger
	metrics *metrics.WikiMetrics
}

func NewDiscovery(pages PageGetter, graph social.Graph, config DiscoveryConfig, logger *zap.Logger, m *metrics.WikiMetrics) *Discovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DefaultProbeTimeout
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}
	return &Discovery{
		pages:   pages,
		graph:   graph,
		config:  config,
		logger:  logger,
		metrics: m,
	}
}

// Discover looks up own's follows and probes them for id.
func (d *Discovery) Discover(ctx context.Context, own types.Identity, id types.PageID) ForkResult {
	var follows []types.Identity
	if d.graph != nil {
		follows = d.graph.Follows(ctx, own)
	}
	return d.DiscoverAmong(ctx, own, follows, id)
}

// DiscoverAmong probes own and then follows for id. Found locators keep
// candidate order with own first. Absent candidates are dropped silently and
// failing ones are dropped with a warning. It never fails; if ctx ends early
// the result holds whatever finished.
func (d *Discovery) DiscoverAmong(ctx context.Context, own types.Identity, follows []types.Identity, id types.PageID) ForkResult {
	start := time.Now()
	candidates := d.candidates(own, follows)
	found := make([]bool, len(candidates))
	failures := make([]error, len(candidates))

	g := new(errgroup.Group)
	g.SetLimit(d.config.Concurrency)
	for i, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			found[i], failures[i] = d.probe(ctx, candidate, id)
			return nil
		})
	}
	_ = g.Wait()

	result := ForkResult{Forks: types.ForkSet{}}
	for i, candidate := range candidates {
		switch {
		case found[i]:
			result.Forks = append(result.Forks, types.NewLocator(candidate, id))
		case failures[i] != nil:
			result.Warnings = append(result.Warnings, ProbeWarning{Owner: candidate, Err: failures[i]})
		}
	}

	if d.metrics != nil {
		d.metrics.DiscoveryRuns.Inc()
		d.metrics.DiscoveryLatency.Observe(time.Since(start).Seconds())
		d.metrics.ForkSetSize.Observe(float64(len(result.Forks)))
	}
	d.logger.Debug("Fork discovery finished",
		zap.String("id", string(id)),
		zap.Int("candidates", len(candidates)),
		zap.Int("forks", len(result.Forks)),
		zap.Int("warnings", len(result.Warnings)),
		zap.Duration("elapsed", time.Since(start)))
	return result
}

// probe reports whether candidate holds id. A nil error with false means the
// page is absent. It returns within the probe timeout whether or not the
// getter honours its context.
func (d *Discovery) probe(ctx context.Context, candidate types.Identity, id types.PageID) (bool, error) {
	probeCtx, cancel := context.WithTimeout(ctx, d.config.ProbeTimeout)
	defer cancel()

	// Get runs detached so a getter that ignores probeCtx cannot hold the
	// probe past its deadline. done is buffered; a late result is dropped.
	done := make(chan error, 1)
	go func() {
		_, err := d.pages.Get(probeCtx, candidate, id)
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-probeCtx.Done():
		select {
		case err = <-done:
		default:
			err = fmt.Errorf("%w: %s/%s: %w", ErrFetchFailure, candidate, id, probeCtx.Err())
		}
	}

	outcome := metrics.OutcomeFound
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		outcome = metrics.OutcomeAbsent
		err = nil
	case ctx.Err() == nil && errors.Is(probeCtx.Err(), context.DeadlineExceeded):
		outcome = metrics.OutcomeTimeout
		err = fmt.Errorf("timed out after %s: %w", d.config.ProbeTimeout, err)
	default:
		outcome = metrics.OutcomeFailed
	}

	if d.metrics != nil {
		d.metrics.DiscoveryCandidates.WithLabelValues(outcome).Inc()
	}
	if err != nil {
		d.logger.Warn("Fork probe failed",
			zap.String("candidate", string(candidate)),
			zap.String("id", string(id)),
			zap.String("outcome", outcome),
			zap.Error(err))
		return false, err
	}
	return outcome == metrics.OutcomeFound, nil
}

// candidates returns own followed by follows, without repeats or malformed
// identities.
func (d *Discovery) candidates(own types.Identity, follows []types.Identity) []types.Identity {
	out := make([]types.Identity, 0, len(follows)+1)
	seen := make(map[types.Identity]bool, len(follows)+1)
	for _, candidate := range append([]types.Identity{own}, follows...) {
		if seen[candidate] {
			continue
		}
		if err := address.ValidateIdentity(candidate); err != nil {
			if candidate != "" {
				d.logger.Debug("Skipping malformed candidate", zap.String("candidate", string(candidate)), zap.Error(err))
			}
			continue
		}
		seen[candidate] = true
		out = append(out, candidate)
	}
	return out
}
