package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrRateLimited is returned by FetchGroups when the remote network
// throttles the request. Callers decide whether to retry.
var ErrRateLimited = errors.New("rate-overlimit")

type ConnState string

const (
	StateOpen  ConnState = "open"
	StateClose ConnState = "close"
)

type DisconnectCause string

const (
	CauseTransient DisconnectCause = "transient"
	CauseLoggedOut DisconnectCause = "logged_out"
)

// Event is the closed set of events a Client emits. Consumers dispatch
// with a type switch over the three variants below.
type Event interface {
	event()
}

// ConnectionUpdate reports a connection state change. PairingCode is
// non-empty when the network issued a fresh pairing code; Cause is only
// meaningful when State is StateClose.
type ConnectionUpdate struct {
	State       ConnState
	Cause       DisconnectCause
	PairingCode string
}

func (ConnectionUpdate) event() {}

// CredentialsUpdate carries the updated credential bundle. It must be
// persisted before the next reconnect or the pairing is lost.
type CredentialsUpdate struct {
	Credentials json.RawMessage
}

func (CredentialsUpdate) event() {}

type MessagesUpsert struct {
	Messages []Message
}

func (MessagesUpsert) event() {}

type Message struct {
	Sender       string `json:"sender"`
	Chat         string `json:"chat"`
	FromMe       bool   `json:"from_me"`
	Conversation string `json:"conversation,omitempty"`
	ExtendedText string `json:"extended_text,omitempty"`
}

type GroupInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client is the opaque handle to one tenant's connection on the
// messaging network.
type Client interface {
	Events() <-chan Event
	SelfID() string
	SendText(ctx context.Context, chatJID, text string) error
	FetchGroups(ctx context.Context) ([]GroupInfo, error)
	Logout(ctx context.Context) error
	Close() error
}

// Dialer opens a connection for a tenant. creds is nil when the tenant
// has never paired; the network then starts a pairing handshake.
type Dialer func(ctx context.Context, tenantID string, creds json.RawMessage) (Client, error)

// NormalizeJID strips the device suffix from the user part of a JID, so
// that "5511999:12@s.whatsapp.net" and "5511999@s.whatsapp.net" compare
// equal.
func NormalizeJID(jid string) string {
	at := strings.IndexByte(jid, '@')
	if at < 0 {
		return jid
	}
	user := jid[:at]
	if colon := strings.IndexByte(user, ':'); colon >= 0 {
		user = user[:colon]
	}
	return user + jid[at:]
}

func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@g.us")
}
