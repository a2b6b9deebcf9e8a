// Package sweeper periodically purges expired and invalidated refresh tokens from the ledger.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// DefaultInterval is the sweep period when none is configured.
const DefaultInterval = 24 * time.Hour

// leaseTTL bounds how long a crashed replica can block other sweepers.
const leaseTTL = 10 * time.Minute

const leaseKey = "authsessions:sweeper:lease"

// Purger deletes every record with expiresAt < now or isValid = false and reports the count.
type Purger interface {
	PurgeExpiredOrInvalid(ctx context.Context, now time.Time) (int64, error)
}

// Locker grants a lease so only one replica sweeps per period.
// TryAcquire returns false without error when another holder owns the lease.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocker sets the lease used to coordinate replicas. Default is LocalLocker.
func WithLocker(l Locker) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithMeter records purged counts on the given meter.
func WithMeter(m metric.Meter) Option {
	return func(s *Sweeper) {
		if m != nil {
			s.meter = m
		}
	}
}

// WithRunOnStart makes Run perform one pass before waiting for the first tick.
func WithRunOnStart(v bool) Option {
	return func(s *Sweeper) { s.runOnStart = v }
}

// Sweeper runs PurgeExpiredOrInvalid on a fixed interval.
type Sweeper struct {
	purger     Purger
	locker     Locker
	interval   time.Duration
	now        func() time.Time
	meter      metric.Meter
	purged     metric.Int64Counter
	runOnStart bool
}

// New returns a Sweeper over purger. A non-positive interval falls back to DefaultInterval.
func New(purger Purger, interval time.Duration, opts ...Option) (*Sweeper, error) {
	if purger == nil {
		return nil, errors.New("sweeper: purger is required")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Sweeper{
		purger:   purger,
		locker:   LocalLocker{},
		interval: interval,
		now:      time.Now,
		meter:    noop.NewMeterProvider().Meter("sweeper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	purged, err := s.meter.Int64Counter("session.sweeper.purged",
		metric.WithDescription("Refresh token records deleted by the expiry sweeper"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}
	s.purged = purged
	return s, nil
}

// Interval returns the sweep period.
func (s *Sweeper) Interval() time.Duration { return s.interval }

// Run sweeps every interval until ctx is cancelled. Pass failures are logged and the loop continues.
func (s *Sweeper) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("sweeper: started")
	if s.runOnStart {
		s.runLogged(ctx)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweeper: stopped")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Sweeper) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("sweeper: pass failed")
	}
}

// RunOnce performs a single pass. It returns 0 without error when another replica holds the lease.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	release, ok, err := s.locker.TryAcquire(ctx, leaseKey, leaseTTL)
	if err != nil {
		return 0, err
	}
	if !ok {
		log.Debug().Msg("sweeper: lease held elsewhere, skipping pass")
		return 0, nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("sweeper: lease release failed")
		}
	}()

	n, err := s.purger.PurgeExpiredOrInvalid(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	s.purged.Add(ctx, n)
	log.Info().Int64("purged", n).Msgf("purged %d expired/invalid refresh tokens", n)
	return n, nil
}

// LocalLocker always grants the lease. Use it when a single process sweeps.
type LocalLocker struct{}

// TryAcquire always succeeds.
func (LocalLocker) TryAcquire(context.Context, string, time.Duration) (func(context.Context) error, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}
