package credit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/creditrail/credit-api/internal/domain/account"
	"github.com/creditrail/credit-api/internal/domain/campaign"
	"github.com/creditrail/credit-api/internal/pkg/events"
)

// RegisterEventHandlers wires the engine's reactions to the platform's
// lifecycle events. Every handler is idempotent: grants dedupe on their
// reference or the campaign's per-user cap, the purge is naturally repeatable.
func RegisterEventHandlers(sub *events.Subscriber, svc *Service) {
	sub.Handle(events.SubjectUserCreated, svc.handleUserCreated)
	sub.Handle(events.SubjectUserDeleted, svc.handleUserDeleted)
	sub.Handle(events.SubjectSubscriptionCreated, svc.handleSubscription)
	sub.Handle(events.SubjectSubscriptionRenewed, svc.handleSubscription)
	sub.Handle(events.SubjectOrderCompleted, svc.handleOrderCompleted)
}

// handleUserCreated grants the active signup campaign, if there is one.
func (s *Service) handleUserCreated(ctx context.Context, payload []byte) error {
	var evt events.UserCreated
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("%w: user.created payload", ErrInvalidInput)
	}

	camp, err := s.campaigns.FindActiveByKind(ctx, campaign.KindSignup)
	if errors.Is(err, campaign.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	registeredAt := evt.CreatedAt
	if registeredAt.IsZero() {
		registeredAt = time.Now()
	}
	_, err = s.Allocate(ctx, AllocateParams{
		UserID:     evt.UserID,
		CampaignID: &camp.ID,
		Profile: &campaign.UserProfile{
			UserID:       evt.UserID,
			RegisteredAt: registeredAt,
			IsNewUser:    true,
		},
	})
	if errors.Is(err, campaign.ErrNotEligible) || errors.Is(err, campaign.ErrBudgetExhausted) || errors.Is(err, campaign.ErrNotActive) {
		log.Debug().Err(err).Str("user_id", evt.UserID.String()).Msg("signup grant skipped")
		return nil
	}
	return err
}

func (s *Service) handleUserDeleted(ctx context.Context, payload []byte) error {
	var evt events.UserDeleted
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("%w: user.deleted payload", ErrInvalidInput)
	}
	return s.PurgeUser(ctx, evt.UserID)
}

// handleSubscription grants subscription credits for the billing period. The
// reference carries the period end, so renewals grant once per period no
// matter how often the event redelivers.
func (s *Service) handleSubscription(ctx context.Context, payload []byte) error {
	var evt events.SubscriptionEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("%w: subscription payload", ErrInvalidInput)
	}

	amount := evt.Credits
	periodEnd := evt.PeriodEnd
	if amount == 0 && s.accountSvc != nil {
		sc, err := s.accountSvc.GetSubscriptionCredits(ctx, evt.UserID)
		if err != nil {
			return err
		}
		amount = sc.Amount
		if periodEnd.IsZero() {
			periodEnd = sc.PeriodEnd
		}
	}
	if amount <= 0 {
		log.Debug().Str("user_id", evt.UserID.String()).Msg("subscription grants no credits")
		return nil
	}

	var expiresAt *time.Time
	if !periodEnd.IsZero() {
		expiresAt = &periodEnd
	}
	_, err := s.Allocate(ctx, AllocateParams{
		UserID:        evt.UserID,
		CreditType:    account.TypeSubscription,
		Amount:        amount,
		ExpiresAt:     expiresAt,
		ReferenceType: RefSubscription,
		ReferenceID:   fmt.Sprintf("%s:%s", evt.SubscriptionID, periodEnd.UTC().Format(time.RFC3339)),
	})
	return err
}

// handleOrderCompleted rewards both sides of a referral when the referred
// user's order lands. Each side dedupes on its own order-derived reference,
// so one side failing eligibility never blocks the other.
func (s *Service) handleOrderCompleted(ctx context.Context, payload []byte) error {
	var evt events.OrderCompleted
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("%w: order.completed payload", ErrInvalidInput)
	}
	if evt.ReferrerID == nil {
		return nil
	}

	camp, err := s.campaigns.FindActiveByKind(ctx, campaign.KindReferral)
	if errors.Is(err, campaign.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.grantReferral(ctx, camp, *evt.ReferrerID, evt.OrderID.String()); err != nil {
		return err
	}
	return s.grantReferral(ctx, camp, evt.UserID, evt.OrderID.String()+":referee")
}

func (s *Service) grantReferral(ctx context.Context, camp *campaign.Campaign, userID uuid.UUID, refID string) error {
	_, err := s.Allocate(ctx, AllocateParams{
		UserID:        userID,
		CampaignID:    &camp.ID,
		Profile:       &campaign.UserProfile{UserID: userID},
		ReferenceType: RefOrder,
		ReferenceID:   refID,
	})
	if errors.Is(err, campaign.ErrNotEligible) || errors.Is(err, campaign.ErrBudgetExhausted) || errors.Is(err, campaign.ErrNotActive) {
		log.Debug().Err(err).Str("user_id", userID.String()).Msg("referral grant skipped")
		return nil
	}
	return err
}
