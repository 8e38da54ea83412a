package store

import "time"

// TrackedLink is one entry in a tenant's tracked-link store. The
// URL → ID mapping is stable for the lifetime of the store: resending
// the same URL reuses the existing ID.
type TrackedLink struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	Bitly     string            `json:"bitly,omitempty"`
	Count     int               `json:"count"`
	Channels  map[string]int    `json:"channels,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// UsageEntry records when a tenant last started a connect/pairing
// operation. The idle reaper sweeps entries older than the idle timeout.
type UsageEntry struct {
	TenantID  string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}
