package accountsvc_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/creditrail/credit-api/internal/pkg/accountsvc"
)

func TestUserExists(t *testing.T) {
	known := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path == "/internal/users/"+known.String() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := accountsvc.NewClient(srv.URL, "secret", 2*time.Second)

	if err := client.UserExists(context.Background(), known); err != nil {
		t.Fatalf("expected known user, got %v", err)
	}
	if err := client.UserExists(context.Background(), uuid.New()); !errors.Is(err, accountsvc.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestGetSubscriptionCredits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"amount": 300, "period_end": "2026-10-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	client := accountsvc.NewClient(srv.URL, "", 2*time.Second)

	sc, err := client.GetSubscriptionCredits(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if sc.Amount != 300 {
		t.Fatalf("expected amount 300, got %d", sc.Amount)
	}
	if sc.PeriodEnd.Format(time.RFC3339) != "2026-10-01T00:00:00Z" {
		t.Fatalf("unexpected period end: %v", sc.PeriodEnd)
	}
}

func TestUnreachableServiceIsUnavailable(t *testing.T) {
	// Nothing listens on this port.
	client := accountsvc.NewClient("http://127.0.0.1:1", "", time.Second)

	if err := client.UserExists(context.Background(), uuid.New()); !errors.Is(err, accountsvc.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestUnconfiguredClientIsUnavailable(t *testing.T) {
	client := accountsvc.NewClient("", "", time.Second)

	if err := client.UserExists(context.Background(), uuid.New()); !errors.Is(err, accountsvc.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable for unconfigured client, got %v", err)
	}
}
