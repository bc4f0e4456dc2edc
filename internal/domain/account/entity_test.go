package account_test

import (
	"testing"
	"time"

	"github.com/creditrail/credit-api/internal/domain/account"
)

func TestExpiryFromFixedDays(t *testing.T) {
	acc := &account.CreditAccount{ExpirationPolicy: account.PolicyFixedDays, ExpirationDays: 90}
	ref := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

	got := acc.ExpiryFrom(ref)
	if got == nil {
		t.Fatal("expected expiry, got nil")
	}
	want := time.Date(2026, time.June, 13, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestExpiryFromEndOfMonth(t *testing.T) {
	acc := &account.CreditAccount{ExpirationPolicy: account.PolicyEndOfMonth}
	ref := time.Date(2026, time.February, 10, 9, 30, 0, 0, time.UTC)

	got := acc.ExpiryFrom(ref)
	if got == nil {
		t.Fatal("expected expiry, got nil")
	}
	want := time.Date(2026, time.February, 28, 23, 59, 59, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestExpiryFromEndOfYear(t *testing.T) {
	acc := &account.CreditAccount{ExpirationPolicy: account.PolicyEndOfYear}
	ref := time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)

	got := acc.ExpiryFrom(ref)
	if got == nil {
		t.Fatal("expected expiry, got nil")
	}
	want := time.Date(2026, time.December, 31, 23, 59, 59, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestExpiryFromNeverAndSubscription(t *testing.T) {
	never := &account.CreditAccount{ExpirationPolicy: account.PolicyNever}
	if got := never.ExpiryFrom(time.Now()); got != nil {
		t.Fatalf("expected nil expiry for never policy, got %v", got)
	}

	sub := &account.CreditAccount{ExpirationPolicy: account.PolicySubscriptionPeriod}
	if got := sub.ExpiryFrom(time.Now()); got != nil {
		t.Fatalf("expected nil expiry for subscription_period policy, got %v", got)
	}
}

func TestTransferable(t *testing.T) {
	if account.TypeCompensation.Transferable() {
		t.Fatal("compensation credits must not be transferable")
	}
	for _, ct := range []account.CreditType{
		account.TypePromotional, account.TypeBonus, account.TypeReferral, account.TypeSubscription,
	} {
		if !ct.Transferable() {
			t.Fatalf("expected %s to be transferable", ct)
		}
	}
}
