package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// frame is the wire format spoken with the messaging gateway.
type frame struct {
	Type        string          `json:"type"`
	TenantID    string          `json:"tenant_id,omitempty"`
	Credentials json.RawMessage `json:"credentials,omitempty"`
	State       string          `json:"state,omitempty"`
	Cause       string          `json:"cause,omitempty"`
	PairingCode string          `json:"pairing_code,omitempty"`
	SelfID      string          `json:"self_id,omitempty"`
	Messages    []Message       `json:"messages,omitempty"`
	RequestID   string          `json:"request_id,omitempty"`
	Chat        string          `json:"chat,omitempty"`
	Text        string          `json:"text,omitempty"`
	Groups      []GroupInfo     `json:"groups,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// GatewayClient speaks the JSON gateway protocol over a websocket and
// adapts it to the Client event stream.
type GatewayClient struct {
	conn   *websocket.Conn
	logger *zap.Logger

	events  chan Event
	writeMu sync.Mutex

	mu      sync.Mutex
	selfID  string
	pending map[string]chan frame
	closed  bool
}

// NewGatewayDialer returns a Dialer that connects tenants through the
// configured messaging gateway.
func NewGatewayDialer(gatewayURL string, handshakeTimeout time.Duration, logger *zap.Logger) Dialer {
	return func(ctx context.Context, tenantID string, creds json.RawMessage) (Client, error) {
		u, err := url.Parse(gatewayURL)
		if err != nil {
			return nil, fmt.Errorf("invalid gateway url: %w", err)
		}
		q := u.Query()
		q.Set("tenant", tenantID)
		u.RawQuery = q.Encode()

		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("dial gateway: %w", err)
		}

		c := &GatewayClient{
			conn:    conn,
			logger:  logger.With(zap.String("tenant_id", tenantID)),
			events:  make(chan Event, 64),
			pending: make(map[string]chan frame),
		}
		if err := c.writeFrame(frame{Type: "auth", TenantID: tenantID, Credentials: creds}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("gateway auth: %w", err)
		}
		go c.readLoop()
		return c, nil
	}
}

func (c *GatewayClient) readLoop() {
	defer close(c.events)
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.logger.Warn("Gateway read failed", zap.Error(err))
				c.events <- ConnectionUpdate{State: StateClose, Cause: CauseTransient}
			}
			return
		}

		switch f.Type {
		case "connection.update":
			if f.SelfID != "" {
				c.mu.Lock()
				c.selfID = f.SelfID
				c.mu.Unlock()
			}
			c.events <- ConnectionUpdate{
				State:       ConnState(f.State),
				Cause:       DisconnectCause(f.Cause),
				PairingCode: f.PairingCode,
			}
		case "creds.update":
			c.events <- CredentialsUpdate{Credentials: f.Credentials}
		case "messages.upsert":
			c.events <- MessagesUpsert{Messages: f.Messages}
		case "groups.result":
			c.mu.Lock()
			ch, ok := c.pending[f.RequestID]
			delete(c.pending, f.RequestID)
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		default:
			c.logger.Debug("Unknown gateway frame", zap.String("type", f.Type))
		}
	}
}

func (c *GatewayClient) writeFrame(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}

func (c *GatewayClient) Events() <-chan Event {
	return c.events
}

func (c *GatewayClient) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

func (c *GatewayClient) SendText(ctx context.Context, chatJID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.writeFrame(frame{Type: "send", Chat: chatJID, Text: text}); err != nil {
		return fmt.Errorf("send to %s: %w", chatJID, err)
	}
	return nil
}

func (c *GatewayClient) FetchGroups(ctx context.Context) ([]GroupInfo, error) {
	id := uuid.New().String()
	ch := make(chan frame, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.writeFrame(frame{Type: "groups.fetch", RequestID: id}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("request groups: %w", err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case f := <-ch:
		switch f.Error {
		case "":
			return f.Groups, nil
		case "rate-overlimit":
			return nil, ErrRateLimited
		default:
			return nil, errors.New(f.Error)
		}
	}
}

func (c *GatewayClient) Logout(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.writeFrame(frame{Type: "logout"}); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (c *GatewayClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
