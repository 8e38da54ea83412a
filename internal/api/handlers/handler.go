package handlers

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/leozw/linkpulse/internal/config"
	"github.com/leozw/linkpulse/internal/groups"
	"github.com/leozw/linkpulse/internal/links"
	"github.com/leozw/linkpulse/internal/metrics"
	"github.com/leozw/linkpulse/internal/session"
	"github.com/leozw/linkpulse/internal/store"
)

type Handler struct {
	manager   *session.Manager
	registry  *session.Registry
	store     *store.Files
	engine    *links.Engine
	groups    *groups.Service
	shortener *links.Shortener
	metrics   *metrics.Collector
	logger    *zap.Logger

	baseURL     string
	channels    []string
	sendChannel string
	limiters    *tenantLimiters
}

func NewHandler(manager *session.Manager, registry *session.Registry, files *store.Files, engine *links.Engine, groupSvc *groups.Service, shortener *links.Shortener, collector *metrics.Collector, logger *zap.Logger, cfg *config.Config) *Handler {
	return &Handler{
		manager:     manager,
		registry:    registry,
		store:       files,
		engine:      engine,
		groups:      groupSvc,
		shortener:   shortener,
		metrics:     collector,
		logger:      logger,
		baseURL:     strings.TrimRight(cfg.Links.BaseURL, "/"),
		channels:    cfg.Links.Channels,
		sendChannel: cfg.Ingest.Platform,
		limiters:    newTenantLimiters(cfg.Send.RatePerSecond, cfg.Send.Burst),
	}
}

// tenantLimiters paces outbound sends per tenant so one tenant's blast
// cannot starve the others or trip the remote network's limits.
type tenantLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newTenantLimiters(perSecond float64, burst int) *tenantLimiters {
	return &tenantLimiters{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (t *tenantLimiters) get(tenantID string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[tenantID]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[tenantID] = l
	}
	return l
}
