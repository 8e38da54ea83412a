package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/leozw/linkpulse/internal/protocol"
)

type recordingClient struct {
	mu   sync.Mutex
	sent []sentText
}

type sentText struct {
	JID  string
	Text string
}

func (r *recordingClient) Events() <-chan protocol.Event { return nil }

func (r *recordingClient) SelfID() string { return "self@s.whatsapp.net" }

func (r *recordingClient) SendText(_ context.Context, chatJID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentText{JID: chatJID, Text: text})
	return nil
}

func (r *recordingClient) FetchGroups(context.Context) ([]protocol.GroupInfo, error) {
	return nil, nil
}

func (r *recordingClient) Logout(context.Context) error { return nil }

func (r *recordingClient) Close() error { return nil }

func newSendRouter(h *Handler, tenantID string) *gin.Engine {
	r := gin.New()
	authed := r.Group("/api/v1")
	authed.Use(func(c *gin.Context) {
		c.Set("tenant_id", tenantID)
		c.Next()
	})
	authed.POST("/sendmessage", h.SendMessage)
	authed.GET("/fetchGroups", h.FetchGroups)
	return r
}

func TestSendMessageRewritesAndFansOut(t *testing.T) {
	t.Parallel()
	h, engine := newTestHandler(t)

	client := &recordingClient{}
	h.registry.Register("t1", client)

	router := newSendRouter(h, "t1")
	body, _ := json.Marshal(gin.H{
		"message":   "promo: https://shop.example.com/sale",
		"groupJids": []string{"a@g.us", "b@g.us"},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sendmessage", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	client.mu.Lock()
	sent := append([]sentText(nil), client.sent...)
	client.mu.Unlock()
	if len(sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sent))
	}
	if sent[0].JID != "a@g.us" || sent[1].JID != "b@g.us" {
		t.Fatalf("unexpected recipients: %+v", sent)
	}

	tracked, err := engine.List("t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(tracked) != 1 {
		t.Fatalf("expected one tracked link, got %d", len(tracked))
	}
	redirect := "/click/t1/" + tracked[0].ID + "/whatsapp"
	for _, s := range sent {
		if !strings.Contains(s.Text, redirect) {
			t.Fatalf("sent text missing tracking redirect %q: %q", redirect, s.Text)
		}
	}
}

func TestSendMessageNotConnected(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t)

	router := newSendRouter(h, "t1")
	body, _ := json.Marshal(gin.H{
		"message":   "hello",
		"groupJids": []string{"a@g.us"},
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sendmessage", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 when not connected, got %d", w.Code)
	}
}

func TestFetchGroupsNotConnected(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t)

	router := newSendRouter(h, "t1")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/fetchGroups", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 when not connected, got %d", w.Code)
	}
}
