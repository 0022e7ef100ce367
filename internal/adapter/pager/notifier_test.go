package pager

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/TheraGate/internal/port/notifier"
)

// Compile-time interface check.
var _ notifier.Notifier = (*Notifier)(nil)

func TestSendNotConfigured(t *testing.T) {
	err := NewNotifier("", "").Send(context.Background(), notifier.Notification{Title: "x"})
	if !errors.Is(err, notifier.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendTriggersEvent(t *testing.T) {
	var got event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, "rk-1")
	if !n.Capabilities().Paging {
		t.Fatal("expected Paging capability")
	}
	err := n.Send(context.Background(), notifier.Notification{
		Title:      "Key compromise",
		Message:    "webhook/production",
		Level:      "critical",
		IncidentID: "inc-7",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.RoutingKey != "rk-1" || got.EventAction != "trigger" || got.DedupKey != "inc-7" {
		t.Fatalf("unexpected event %+v", got)
	}
	if got.Payload.Severity != "critical" || got.Payload.Source != "theragate" {
		t.Fatalf("unexpected payload %+v", got.Payload)
	}
}

func TestSeverityMapping(t *testing.T) {
	tests := map[string]string{"critical": "critical", "error": "error", "warning": "warning", "info": "info", "": "info", "high": "info"}
	for in, want := range tests {
		if got := severity(in); got != want {
			t.Errorf("severity(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad routing key", http.StatusBadRequest)
	}))
	defer srv.Close()

	if err := NewNotifier(srv.URL, "rk").Send(context.Background(), notifier.Notification{Title: "x"}); err == nil {
		t.Fatal("expected error for 400 response")
	}
}
