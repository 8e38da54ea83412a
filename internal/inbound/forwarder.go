package inbound

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/leozw/linkpulse/internal/metrics"
)

// Forwarder delivers accepted inbound messages to the external ingest
// endpoint. Delivery is fire-and-forget: failures are logged, counted,
// and otherwise swallowed.
type Forwarder struct {
	client   *http.Client
	endpoint string
	platform string
	metrics  *metrics.Collector
	logger   *zap.Logger
}

func NewForwarder(endpoint, platform string, timeout time.Duration, collector *metrics.Collector, logger *zap.Logger) *Forwarder {
	return &Forwarder{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		platform: platform,
		metrics:  collector,
		logger:   logger,
	}
}

type ingestPayload struct {
	TenantID string `json:"tenantId"`
	GroupID  string `json:"groupId"`
	Message  string `json:"message"`
	Platform string `json:"platform"`
}

func (f *Forwarder) Forward(ctx context.Context, tenantID, groupID, text string) {
	payload := ingestPayload{
		TenantID: tenantID,
		GroupID:  groupID,
		Message:  text,
		Platform: f.platform,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		f.logger.Error("Failed to marshal ingest payload", zap.Error(err))
		f.metrics.RecordForward(false)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		f.logger.Error("Failed to build ingest request", zap.Error(err))
		f.metrics.RecordForward(false)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("Ingest forward failed",
			zap.String("tenant_id", tenantID),
			zap.String("group_id", groupID),
			zap.Error(err),
		)
		f.metrics.RecordForward(false)
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode >= 400 {
		f.logger.Warn("Ingest endpoint rejected forward",
			zap.String("tenant_id", tenantID),
			zap.String("group_id", groupID),
			zap.Int("status", resp.StatusCode),
		)
		f.metrics.RecordForward(false)
		return
	}
	f.metrics.RecordForward(true)
}
