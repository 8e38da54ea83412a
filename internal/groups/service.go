package groups

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/linkpulse/internal/metrics"
	"github.com/leozw/linkpulse/internal/protocol"
	"github.com/leozw/linkpulse/internal/session"
)

var (
	ErrNotConnected      = errors.New("tenant has no active session")
	ErrTimeout           = errors.New("group fetch timed out")
	ErrRateLimitExceeded = errors.New("group fetch rate limit retries exhausted")
	ErrRemote            = errors.New("group fetch failed")
)

type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Service bounds the remote group-listing call: a hard timeout per
// attempt and exponential backoff on rate-limit signals. All other
// remote errors fail immediately.
type Service struct {
	registry    *session.Registry
	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
	metrics     *metrics.Collector
	logger      *zap.Logger

	// sleep is replaceable in tests.
	sleep func(time.Duration)
}

func NewService(registry *session.Registry, timeout time.Duration, maxRetries int, backoffBase time.Duration, collector *metrics.Collector, logger *zap.Logger) *Service {
	return &Service{
		registry:    registry,
		timeout:     timeout,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		metrics:     collector,
		logger:      logger,
		sleep:       time.Sleep,
	}
}

// Fetch lists the tenant's groups, normalized to {id, name} pairs.
func (s *Service) Fetch(ctx context.Context, tenantID string) ([]Group, error) {
	client, ok := s.registry.Get(tenantID)
	if !ok {
		return nil, ErrNotConnected
	}

	start := time.Now()
	defer func() {
		s.metrics.ObserveGroupFetch(time.Since(start).Seconds())
	}()

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		infos, err := client.FetchGroups(attemptCtx)
		cancel()

		switch {
		case err == nil:
			groups := make([]Group, 0, len(infos))
			for _, info := range infos {
				groups = append(groups, Group{ID: info.ID, Name: info.Name})
			}
			return groups, nil
		case errors.Is(err, context.DeadlineExceeded):
			s.logger.Error("Group fetch timed out",
				zap.String("tenant_id", tenantID),
				zap.Duration("timeout", s.timeout),
			)
			return nil, ErrTimeout
		case errors.Is(err, protocol.ErrRateLimited):
			// 1x, 2x, 4x the base before the next attempt.
			wait := s.backoffBase << (attempt - 1)
			s.logger.Warn("Rate limit hit, backing off",
				zap.String("tenant_id", tenantID),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
			)
			s.sleep(wait)
		default:
			return nil, fmt.Errorf("%w: %v", ErrRemote, err)
		}
	}
	return nil, ErrRateLimitExceeded
}
