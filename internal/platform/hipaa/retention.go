package hipaa

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ArtifactSweeper is implemented by stores that can drop expired artifacts.
type ArtifactSweeper interface {
	Sweep(ctx context.Context, before time.Time) (int, error)
}

// RetentionPolicy bounds how long generated reports may be kept. Reports are
// transient copies of data the laboratory already holds, so the window is
// measured in minutes or hours rather than years.
type RetentionPolicy struct {
	// MaxAge is how long an artifact stays downloadable.
	MaxAge time.Duration
	// Interval is how often expired artifacts are purged. Zero disables the
	// background loop; Purge can still be called directly.
	Interval time.Duration
}

// Validate checks the policy for usable values.
func (p RetentionPolicy) Validate() error {
	if p.MaxAge <= 0 {
		return fmt.Errorf("retention max age must be positive, got %s", p.MaxAge)
	}
	if p.Interval < 0 {
		return fmt.Errorf("retention interval must not be negative, got %s", p.Interval)
	}
	return nil
}

// RetentionService purges artifacts older than the policy allows.
type RetentionService struct {
	store  ArtifactSweeper
	policy RetentionPolicy
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	lastRun   time.Time
	lastCount int
}

// NewRetentionService creates a RetentionService for store.
func NewRetentionService(store ArtifactSweeper, policy RetentionPolicy, logger zerolog.Logger) (*RetentionService, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &RetentionService{
		store:  store,
		policy: policy,
		logger: logger.With().Str("component", "retention-service").Logger(),
		now:    time.Now,
	}, nil
}

// Cutoff returns the creation time before which artifacts are expired.
func (s *RetentionService) Cutoff() time.Time {
	return s.now().UTC().Add(-s.policy.MaxAge)
}

// Purge removes every expired artifact once and returns how many went.
func (s *RetentionService) Purge(ctx context.Context) (int, error) {
	cutoff := s.Cutoff()
	removed, err := s.store.Sweep(ctx, cutoff)

	s.mu.Lock()
	s.lastRun = s.now().UTC()
	s.lastCount = removed
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Int("removed", removed).Msg("retention purge failed")
		return removed, err
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Time("cutoff", cutoff).Msg("expired reports purged")
	}
	return removed, nil
}

// LastRun reports when Purge last ran and how many artifacts it removed.
func (s *RetentionService) LastRun() (time.Time, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastCount
}

// Run purges on every policy interval until ctx is cancelled. It returns
// immediately when the interval is zero.
func (s *RetentionService) Run(ctx context.Context) {
	if s.policy.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.policy.Interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.policy.Interval).
		Dur("max_age", s.policy.MaxAge).
		Msg("retention sweeper started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("retention sweeper stopped")
			return
		case <-ticker.C:
			// Errors are logged in Purge; the next tick retries.
			_, _ = s.Purge(ctx)
		}
	}
}
