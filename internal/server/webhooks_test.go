package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"archon/internal/config"
	"archon/internal/domain"
)

func TestPostEventSignsBody(t *testing.T) {
	var gotBody []byte
	var gotSig, gotEvent, gotDelivery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Archon-Signature")
		gotEvent = r.Header.Get("X-Archon-Event")
		gotDelivery = r.Header.Get("X-Archon-Delivery")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	d := &webhookDispatcher{project: "proj-1", client: &http.Client{}}
	hook := config.WebhookConfig{URL: srv.URL, Secret: "hush"}
	evt := domain.Event{
		ID:         7,
		Type:       "gate.created",
		ProjectID:  "proj-1",
		EntityKind: "gate",
		EntityID:   "gate_1",
		ActorID:    "tester",
		TS:         "2025-03-01T12:00:00Z",
		Payload:    `{"gate_type":"tier_complete"}`,
	}
	if err := d.postEvent(context.Background(), hook, evt); err != nil {
		t.Fatalf("post: %v", err)
	}
	if gotEvent != "gate.created" || gotDelivery != "7" {
		t.Fatalf("headers = %q %q", gotEvent, gotDelivery)
	}
	if !strings.HasPrefix(gotSig, "sha256=") {
		t.Fatalf("signature = %q", gotSig)
	}
	mac := hmac.New(sha256.New, []byte("hush"))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Fatalf("signature does not cover the delivered body: got %q want %q", gotSig, want)
	}

	var delivered webhookEvent
	if err := json.Unmarshal(gotBody, &delivered); err != nil {
		t.Fatalf("body: %v", err)
	}
	if delivered.ID != 7 || string(delivered.Payload) != `{"gate_type":"tier_complete"}` {
		t.Fatalf("delivered = %+v", delivered)
	}
}

func TestPostEventWithoutSecretOmitsSignature(t *testing.T) {
	var sig string
	set := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig = r.Header.Get("X-Archon-Signature")
		_, set = r.Header["X-Archon-Signature"]
	}))
	defer srv.Close()

	d := &webhookDispatcher{project: "proj-1", client: &http.Client{}}
	hook := config.WebhookConfig{URL: srv.URL}
	if err := d.postEvent(context.Background(), hook, domain.Event{ID: 1, Type: "task.created"}); err != nil {
		t.Fatalf("post: %v", err)
	}
	if set || sig != "" {
		t.Fatalf("unsigned hook must not carry a signature header, got %q", sig)
	}
}

func TestEventFilter(t *testing.T) {
	if !newEventFilter(nil).match("anything") {
		t.Fatal("empty filter must match every event")
	}
	f := newEventFilter([]string{"gate.created", " ", "task.status_changed"})
	if !f.match("gate.created") || !f.match("task.status_changed") {
		t.Fatal("listed events must match")
	}
	if f.match("review.recorded") {
		t.Fatal("unlisted events must not match")
	}
}
