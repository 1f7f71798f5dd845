// Package poller drives the acquisition loop: it periodically pulls raw
// telemetry from the active transport, normalizes it and keeps the latest
// good snapshot available to every consumer.
package poller

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mvolli/growatt-bridge/internal/pkg/contxt"
	"github.com/mvolli/growatt-bridge/internal/pkg/errs"
	"github.com/mvolli/growatt-bridge/internal/pkg/model"
	"github.com/mvolli/growatt-bridge/internal/pkg/normalize"
	"github.com/mvolli/growatt-bridge/internal/pkg/transport"
)

type State string

const (
	// StateIdle means no fetch has completed yet.
	StateIdle State = "idle"
	// StateFetching is the first fetch in progress.
	StateFetching State = "fetching"
	// StateReady means the latest fetch succeeded.
	StateReady State = "ready"
	// StateDegraded means the latest fetch failed; Latest still serves the
	// last good snapshot when one exists.
	StateDegraded State = "degraded"
)

// Device settings change rarely; re-reading them every poll would double the
// cloud request volume for nothing.
const configRefreshInterval = time.Hour

type service struct {
	transport  transport.Transport
	normalizer *normalize.Normalizer
	kind       model.ConnectionType
	interval   time.Duration
	timeout    time.Duration
	logger     *zap.Logger

	flight sync.Mutex // held for the duration of a refresh

	mu          sync.Mutex // guards the fields below
	state       State
	snapshot    model.DeviceSnapshot
	hasSnapshot bool
	lastErr     error
	configRaw   model.RawTelemetry
	configAt    time.Time
}

func New(tr transport.Transport, n *normalize.Normalizer, kind model.ConnectionType, interval, timeout time.Duration) *service {
	return &service{
		transport:  tr,
		normalizer: n,
		kind:       kind,
		interval:   interval,
		timeout:    timeout,
		logger:     zap.L(),
		state:      StateIdle,
	}
}

// Run refreshes immediately, then on every tick until ctx is cancelled.
func (s *service) Run(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("initial poll failed", zap.Error(err))
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warn("poll failed", zap.Error(err))
			}
		}
	}
}

// Refresh performs one fetch-and-normalize cycle. Overlapping calls do not
// queue: when a refresh is already in flight the call returns immediately
// and the caller reads whatever Latest holds.
func (s *service) Refresh(ctx context.Context) error {
	if !s.flight.TryLock() {
		return nil
	}
	defer s.flight.Unlock()

	s.mu.Lock()
	if !s.hasSnapshot {
		s.state = StateFetching
	}
	s.mu.Unlock()

	fetchCtx, cancel := contxt.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.transport.FetchRaw(fetchCtx)
	if err != nil {
		classified := errs.Classify(err)
		s.logger.Warn("telemetry fetch failed", zap.Error(classified))
		s.mu.Lock()
		s.state = StateDegraded
		s.lastErr = classified
		s.mu.Unlock()
		return classified
	}

	s.mergeConfig(ctx, raw)
	snap := s.normalizer.Normalize(raw, s.kind)

	s.mu.Lock()
	s.snapshot = snap
	s.hasSnapshot = true
	s.state = StateReady
	s.lastErr = nil
	s.mu.Unlock()
	return nil
}

// mergeConfig folds cached device settings under the live reading. Live keys
// win; a config fetch failure never degrades a successful poll.
func (s *service) mergeConfig(ctx context.Context, raw model.RawTelemetry) {
	fetcher, ok := s.transport.(transport.ConfigFetcher)
	if !ok {
		return
	}

	s.mu.Lock()
	cached := s.configRaw
	stale := time.Since(s.configAt) >= configRefreshInterval
	s.mu.Unlock()

	if stale {
		cfg, err := fetcher.FetchConfig(ctx)
		if err != nil {
			s.logger.Debug("device config fetch failed", zap.Error(err))
		} else {
			cached = cfg
			s.mu.Lock()
			s.configRaw = cfg
			s.configAt = time.Now()
			s.mu.Unlock()
		}
	}

	for k, v := range cached {
		if _, exists := raw[k]; !exists {
			raw[k] = v
		}
	}
}

// Latest returns the most recent good snapshot and the coordinator state.
// Before the first success the snapshot is the all-defaults value.
func (s *service) Latest() (model.DeviceSnapshot, State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasSnapshot {
		return model.NewDeviceSnapshot(), s.state
	}
	return s.snapshot, s.state
}

func (s *service) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Rediscover forgets the transport's device binding when it supports that;
// the next refresh re-resolves it. The transports keep their device state
// unsynchronized and rely on the coordinator serializing every access, so
// the call waits for any in-flight refresh and blocks the next one.
func (s *service) Rediscover() {
	r, ok := s.transport.(transport.Rediscoverer)
	if !ok {
		return
	}
	s.flight.Lock()
	r.Rediscover()
	s.flight.Unlock()

	s.mu.Lock()
	s.configAt = time.Time{}
	s.mu.Unlock()
}

func (s *service) Close() error {
	return s.transport.Close()
}
