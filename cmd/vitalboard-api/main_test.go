package main

import (
	"context"
	"errors"
	"testing"

	"github.com/vitalboard/backend/internal/calendar"
	"github.com/vitalboard/backend/internal/credentials"
	"go.uber.org/zap"
)

func TestNewCalendarControllerIsInitialized(t *testing.T) {
	controller, err := newCalendarController(credentials.NewMemoryStore(), zap.NewNop())
	if err != nil {
		t.Fatalf("newCalendarController: %v", err)
	}

	// An uninitialized controller would refuse the fetch outright; the
	// startup-wired one gets as far as the credential lookup.
	_, err = controller.FetchEvents(context.Background(), "user-without-credential")
	if errors.Is(err, calendar.ErrNotInitialized) {
		t.Fatalf("expected controller initialized at construction, got %v", err)
	}
	if !errors.Is(err, calendar.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected for missing credential, got %v", err)
	}
}

func TestLoopbackURL(t *testing.T) {
	if got := loopbackURL(":8080"); got != "http://127.0.0.1:8080" {
		t.Fatalf("unexpected loopback URL %q", got)
	}
	if got := loopbackURL("0.0.0.0:9000"); got != "http://0.0.0.0:9000" {
		t.Fatalf("unexpected loopback URL %q", got)
	}
}
