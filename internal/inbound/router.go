package inbound

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/leozw/linkpulse/internal/protocol"
	"github.com/leozw/linkpulse/internal/store"
)

// unsupportedPlaceholder stands in for content types we cannot render
// as text. Processing never fails on message shape.
const unsupportedPlaceholder = "[unsupported message]"

// Router filters inbound message batches and forwards the survivors to
// the ingest endpoint. The allow-list is re-read on every batch so
// edits take effect immediately.
type Router struct {
	store     *store.Files
	forwarder *Forwarder
	logger    *zap.Logger

	wg sync.WaitGroup
}

func NewRouter(files *store.Files, forwarder *Forwarder, logger *zap.Logger) *Router {
	return &Router{
		store:     files,
		forwarder: forwarder,
		logger:    logger,
	}
}

// HandleBatch applies the filter chain to one batch of inbound events:
// self-originated messages, non-group traffic, and non-allow-listed
// groups are dropped. Accepted messages are forwarded asynchronously.
func (r *Router) HandleBatch(ctx context.Context, tenantID, selfJID string, messages []protocol.Message) {
	allowList, err := r.store.LoadAllowList(tenantID)
	if err != nil {
		r.logger.Error("Failed to load allow-list",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		return
	}
	allowed := make(map[string]bool, len(allowList))
	for _, g := range allowList {
		allowed[g] = true
	}

	self := protocol.NormalizeJID(selfJID)
	for _, msg := range messages {
		if msg.FromMe || protocol.NormalizeJID(msg.Sender) == self {
			continue
		}
		if !protocol.IsGroupJID(msg.Chat) {
			continue
		}
		if !allowed[msg.Chat] {
			continue
		}

		text := messageText(msg)
		groupID := msg.Chat
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.forwarder.Forward(ctx, tenantID, groupID, text)
		}()
	}
}

// Wait blocks until every in-flight forward has finished. Used on
// shutdown.
func (r *Router) Wait() {
	r.wg.Wait()
}

func messageText(msg protocol.Message) string {
	if msg.Conversation != "" {
		return msg.Conversation
	}
	if msg.ExtendedText != "" {
		return msg.ExtendedText
	}
	return unsupportedPlaceholder
}
