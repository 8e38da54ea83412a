package links

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/linkpulse/internal/metrics"
	"github.com/leozw/linkpulse/internal/store"
)

// ErrLinkNotFound is returned when a click references a tracking id the
// tenant's store does not contain, or the tenant has no store at all.
var ErrLinkNotFound = errors.New("link not found")

// urlPattern matches scheme-prefixed URLs, www-prefixed hosts, and bare
// domain-dot-tld forms. Bare domains are recognized on the listed TLDs
// only, with an optional two-letter country suffix (com.br, co.uk).
var urlPattern = regexp.MustCompile(`(?i)(?:https?://|www\.)[^\s]+|\b[a-z0-9][a-z0-9.-]*\.(?:com|org|net|io|co|dev|app|me|info)(?:\.[a-z]{2})?(?:/[^\s]*)?`)

// ExtractURLs scans text for URL-like substrings and returns them in
// first-seen order, duplicates included.
func ExtractURLs(text string) []string {
	matches := urlPattern.FindAllString(text, -1)
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		m = strings.TrimRight(m, ".,!?;:)")
		if m != "" {
			urls = append(urls, m)
		}
	}
	return urls
}

// Engine assigns stable tracking ids to outbound URLs, rewrites messages
// into per-channel redirect form, and attributes clicks.
type Engine struct {
	store   *store.Files
	baseURL string
	metrics *metrics.Collector
	logger  *zap.Logger
}

func NewEngine(files *store.Files, baseURL string, collector *metrics.Collector, logger *zap.Logger) *Engine {
	return &Engine{
		store:   files,
		baseURL: strings.TrimRight(baseURL, "/"),
		metrics: collector,
		logger:  logger,
	}
}

func (e *Engine) redirectURL(tenantID, trackingID, channel string) string {
	return fmt.Sprintf("%s/click/%s/%s/%s", e.baseURL, tenantID, trackingID, channel)
}

// RewriteForSend replaces every distinct URL in text with a tracking
// redirect, one rewritten message per requested channel. The same
// tracking id backs every channel; only the redirect's channel segment
// differs. New URLs are persisted before any rewritten text is returned.
func (e *Engine) RewriteForSend(tenantID, text string, channels []string) (map[string]string, error) {
	out := make(map[string]string, len(channels))

	urls := distinct(ExtractURLs(text))
	if len(urls) == 0 {
		for _, ch := range channels {
			out[ch] = text
		}
		return out, nil
	}

	if err := e.store.EnsureLinkStore(tenantID); err != nil {
		return nil, fmt.Errorf("ensure link store: %w", err)
	}

	assigned := make(map[string]string, len(urls))
	err := e.store.UpdateLinks(tenantID, func(links []store.TrackedLink) ([]store.TrackedLink, error) {
		for _, u := range urls {
			found := false
			for i := range links {
				if links[i].URL == u {
					assigned[u] = links[i].ID
					found = true
					break
				}
			}
			if found {
				continue
			}
			id := uuid.New().String()
			links = append(links, store.TrackedLink{
				ID:        id,
				URL:       u,
				Count:     0,
				Channels:  map[string]int{},
				Timestamp: time.Now(),
			})
			assigned[u] = id
			e.metrics.RecordLinkTracked()
			e.logger.Info("Tracking new link",
				zap.String("tenant_id", tenantID),
				zap.String("tracking_id", id),
				zap.String("url", u),
			)
		}
		return links, nil
	})
	if err != nil {
		return nil, err
	}

	// Longer URLs first so a URL that prefixes another is not clobbered.
	sort.Slice(urls, func(i, j int) bool { return len(urls[i]) > len(urls[j]) })

	for _, ch := range channels {
		msg := text
		for _, u := range urls {
			msg = strings.ReplaceAll(msg, u, e.redirectURL(tenantID, assigned[u], ch))
		}
		out[ch] = msg
	}
	return out, nil
}

// ResolveClick increments the aggregate and channel counters for one
// click and returns the original URL to redirect to. The increment is a
// single read-modify-write under the tenant's store lock.
func (e *Engine) ResolveClick(tenantID, trackingID, channel string) (string, error) {
	var target string
	err := e.store.UpdateLinks(tenantID, func(links []store.TrackedLink) ([]store.TrackedLink, error) {
		for i := range links {
			if links[i].ID != trackingID {
				continue
			}
			links[i].Count++
			if links[i].Channels == nil {
				links[i].Channels = map[string]int{}
			}
			links[i].Channels[channel]++
			target = links[i].URL
			return links, nil
		}
		return nil, ErrLinkNotFound
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrLinkNotFound
		}
		return "", err
	}
	return target, nil
}

// Status reports whether a URL is already tracked for the tenant. Pure
// lookup, no mutation.
func (e *Engine) Status(tenantID, url string) (bool, error) {
	links, err := e.store.LoadLinks(tenantID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	for _, l := range links {
		if l.URL == url {
			return true, nil
		}
	}
	return false, nil
}

// List returns every tracked link for the tenant.
func (e *Engine) List(tenantID string) ([]store.TrackedLink, error) {
	links, err := e.store.LoadLinks(tenantID)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return links, nil
}

// ListSince returns the tracked links created at or after the cutoff.
func (e *Engine) ListSince(tenantID string, cutoff time.Time) ([]store.TrackedLink, error) {
	links, err := e.List(tenantID)
	if err != nil {
		return nil, err
	}
	matched := make([]store.TrackedLink, 0, len(links))
	for _, l := range links {
		if !l.Timestamp.Before(cutoff) {
			matched = append(matched, l)
		}
	}
	return matched, nil
}

func distinct(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}
