package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/creditrail/credit-api/internal/domain/account"
	"github.com/creditrail/credit-api/internal/domain/campaign"
	"github.com/creditrail/credit-api/internal/pkg/accountsvc"
	"github.com/creditrail/credit-api/internal/pkg/events"
)

const opTimeout = 5 * time.Second

// Service is the credit ledger engine: allocation, consumption, transfer,
// expiration and refund, all executed as single database transactions with
// events published after commit.
type Service struct {
	db          *sqlx.DB
	accounts    *account.Store
	ledger      *LedgerRepository
	allocations *AllocationRepository
	campaigns   *campaign.Repository
	publisher   *events.Publisher
	accountSvc  *accountsvc.Client // nil when the collaborator isn't configured
}

func NewService(
	db *sqlx.DB,
	accounts *account.Store,
	ledger *LedgerRepository,
	allocations *AllocationRepository,
	campaigns *campaign.Repository,
	publisher *events.Publisher,
	accountSvc *accountsvc.Client,
) *Service {
	return &Service{
		db:          db,
		accounts:    accounts,
		ledger:      ledger,
		allocations: allocations,
		campaigns:   campaigns,
		publisher:   publisher,
		accountSvc:  accountSvc,
	}
}

// AllocateParams describes one grant request.
type AllocateParams struct {
	UserID     uuid.UUID
	CreditType account.CreditType
	// Amount in minor credit units. Zero with a campaign means "the
	// campaign's configured grant".
	Amount     int64
	CampaignID *uuid.UUID
	// Profile is evaluated against the campaign's eligibility rules.
	Profile   *campaign.UserProfile
	ExpiresAt *time.Time
	// Reference deduplicates direct grants across event redelivery.
	ReferenceType string
	ReferenceID   string
}

// AllocateResult reports the grant. AlreadyGranted means the per-user cap or
// the reference dedupe matched a prior grant, which is returned instead.
type AllocateResult struct {
	Allocation     *Allocation  `json:"allocation"`
	Transaction    *Transaction `json:"transaction,omitempty"`
	BalanceAfter   int64        `json:"balance_after"`
	AlreadyGranted bool         `json:"already_granted"`
}

// Allocate turns a campaign grant or a direct grant into account balance.
// Budget check-and-increment, account credit, ledger row and allocation row
// all commit or roll back together.
func (s *Service) Allocate(ctx context.Context, p AllocateParams) (*AllocateResult, error) {
	if p.Amount < 0 || (p.Amount == 0 && p.CampaignID == nil) {
		return nil, ErrInvalidAmount
	}

	ctx2, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	now := time.Now()
	amount := p.Amount
	creditType := p.CreditType
	expiresAt := p.ExpiresAt
	refType, refID := p.ReferenceType, p.ReferenceID

	if refID != "" {
		// Grants dedupe on their reference across event redelivery.
		granted, err := s.ledger.HasReferenceTx(ctx2, tx, p.UserID, TxAllocate, refType, refID)
		if err != nil {
			return nil, err
		}
		if granted {
			existing, err := s.allocations.GetByReferenceTx(ctx2, tx, p.UserID, refType, refID)
			if err != nil {
				return nil, err
			}
			acc, err := s.accounts.GetByID(ctx2, existing.AccountID)
			if err != nil {
				return nil, err
			}
			return &AllocateResult{Allocation: existing, BalanceAfter: acc.Balance, AlreadyGranted: true}, nil
		}
	}

	var camp *campaign.Campaign
	if p.CampaignID != nil {
		// The row lock serializes the per-user cap count and the budget
		// reservation for this campaign.
		camp, err = s.campaigns.GetForUpdateTx(ctx2, tx, *p.CampaignID)
		if err != nil {
			return nil, err
		}
		if !camp.ActiveAt(now) {
			return nil, campaign.ErrNotActive
		}

		profile := campaign.UserProfile{}
		if p.Profile != nil {
			profile = *p.Profile
		}
		if err := camp.Eligible(profile, now); err != nil {
			return nil, err
		}

		count, err := s.allocations.CountByCampaignTx(ctx2, tx, p.UserID, camp.ID)
		if err != nil {
			return nil, err
		}
		if count >= camp.MaxAllocationsPerUser {
			// Idempotent: a repeat beyond the cap returns the prior grant.
			existing, err := s.allocations.LatestByCampaignTx(ctx2, tx, p.UserID, camp.ID)
			if err != nil {
				return nil, err
			}
			acc, err := s.accounts.GetByUserAndType(ctx2, p.UserID, camp.CreditType)
			if err != nil {
				return nil, err
			}
			return &AllocateResult{Allocation: existing, BalanceAfter: acc.Balance, AlreadyGranted: true}, nil
		}

		creditType = camp.CreditType
		if amount == 0 {
			amount = camp.CreditAmount
		}
		if expiresAt == nil {
			t := now.AddDate(0, 0, camp.ExpirationDays)
			expiresAt = &t
		}
		if refType == "" {
			refType = RefCampaign
			refID = camp.ID.String()
		}

		if err := s.campaigns.ReserveBudgetTx(ctx2, tx, camp.ID, amount); err != nil {
			if errors.Is(err, campaign.ErrBudgetExhausted) {
				tx.Rollback()
				s.notifyBudgetExhausted(ctx, camp)
			}
			return nil, err
		}
	}

	if !creditType.Valid() {
		return nil, fmt.Errorf("%w: unknown credit type %q", ErrInvalidInput, creditType)
	}

	acc, err := s.accounts.GetOrCreateTx(ctx2, tx, p.UserID, creditType)
	if err != nil {
		return nil, err
	}
	if !acc.IsActive {
		return nil, fmt.Errorf("%w: account is deactivated", ErrInvalidInput)
	}

	if expiresAt == nil {
		expiresAt = acc.ExpiryFrom(now)
	}

	before, after, err := s.accounts.ApplyDeltaTx(ctx2, tx, acc.ID, amount, account.DeltaAllocate)
	if err != nil {
		return nil, err
	}

	txn := &Transaction{
		AccountID:     acc.ID,
		UserID:        p.UserID,
		Type:          TxAllocate,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		ExpiresAt:     expiresAt,
	}
	if refID != "" {
		txn.ReferenceID = &refID
		txn.ReferenceType = &refType
	}
	if err := s.ledger.InsertTx(ctx2, tx, txn); err != nil {
		return nil, err
	}

	alloc := &Allocation{
		UserID:        p.UserID,
		AccountID:     acc.ID,
		TransactionID: txn.ID,
		Amount:        amount,
		ExpiresAt:     expiresAt,
		Status:        StatusCompleted,
	}
	if camp != nil {
		alloc.CampaignID = &camp.ID
	}
	if err := s.allocations.InsertTx(ctx2, tx, alloc); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx", ErrInternal)
	}

	log.Info().
		Str("user_id", p.UserID.String()).
		Str("credit_type", string(creditType)).
		Int64("amount", amount).
		Str("allocation_id", alloc.ID.String()).
		Msg("credits allocated")

	evt := events.Allocated{
		AllocationID: alloc.ID,
		UserID:       p.UserID,
		CreditType:   string(creditType),
		Amount:       amount,
		ExpiresAt:    expiresAt,
		BalanceAfter: after,
	}
	if camp != nil {
		evt.CampaignID = &camp.ID
	}
	s.publisher.Publish(ctx, events.SubjectAllocated, evt)

	return &AllocateResult{Allocation: alloc, Transaction: txn, BalanceAfter: after}, nil
}

func (s *Service) notifyBudgetExhausted(ctx context.Context, camp *campaign.Campaign) {
	flipped, err := s.campaigns.MarkExhaustedNotified(ctx, camp.ID)
	if err != nil {
		log.Error().Err(err).Str("campaign_id", camp.ID.String()).Msg("failed to mark campaign exhausted")
		return
	}
	if !flipped {
		return
	}
	s.publisher.Publish(ctx, events.SubjectBudgetExhausted, events.BudgetExhausted{
		CampaignID:      camp.ID,
		Name:            camp.Name,
		TotalBudget:     camp.TotalBudget,
		AllocatedAmount: camp.AllocatedAmount,
	})
}

// BalanceSummary aggregates the user's accounts per credit type.
type BalanceSummary struct {
	Total    int64                   `json:"total"`
	ByType   map[string]int64        `json:"by_type"`
	Accounts []account.CreditAccount `json:"accounts"`
}

func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID) (*BalanceSummary, error) {
	accounts, err := s.accounts.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &BalanceSummary{ByType: make(map[string]int64), Accounts: accounts}
	for _, acc := range accounts {
		if !acc.IsActive {
			continue
		}
		summary.ByType[string(acc.CreditType)] += acc.Balance
		summary.Total += acc.Balance
	}
	return summary, nil
}

// Availability is the result of a plan-only consumption run.
type Availability struct {
	Available       bool  `json:"available"`
	AmountAvailable int64 `json:"amount_available"`
	Deficit         int64 `json:"deficit"`
}

// CheckAvailability runs the consumption planner without mutating anything.
func (s *Service) CheckAvailability(ctx context.Context, userID uuid.UUID, amount int64) (*Availability, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	ctx2, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx2, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	allocations, err := s.allocations.ListActiveTx(ctx2, tx, userID, false)
	if err != nil {
		return nil, err
	}

	plan := BuildPlan(allocations, amount)
	return &Availability{
		Available:       plan.Deficit == 0,
		AmountAvailable: plan.Planned,
		Deficit:         plan.Deficit,
	}, nil
}

func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Transaction, error) {
	return s.ledger.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) SearchTransactions(ctx context.Context, filters SearchFilters) ([]Transaction, error) {
	return s.ledger.Search(ctx, filters)
}

func (s *Service) Stats(ctx context.Context) (*account.Stats, error) {
	return s.accounts.Stats(ctx)
}

// PurgeUser revokes the user's remaining allocations and deactivates the
// accounts. Ledger rows stay: the audit trail survives erasure of the user's
// profile, which lives in the account service.
func (s *Service) PurgeUser(ctx context.Context, userID uuid.UUID) error {
	ctx2, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin tx", ErrInternal)
	}
	defer tx.Rollback()

	allocations, err := s.allocations.ListActiveTx(ctx2, tx, userID, true)
	if err != nil {
		return err
	}

	// Drain everything: the revoke is modeled as an expiry of each remainder.
	plan := BuildPlan(allocations, totalRemaining(allocations))
	for _, d := range plan.Draws {
		if err := s.allocations.ExpireTx(ctx2, tx, d.AllocationID, d.Amount, StatusRevoked); err != nil {
			return err
		}
	}
	for _, ad := range plan.GroupByAccount() {
		before, after, err := s.accounts.ApplyDeltaTx(ctx2, tx, ad.AccountID, ad.Amount, account.DeltaExpire)
		if err != nil {
			return err
		}
		refID := userID.String()
		refType := RefPurge
		if err := s.ledger.InsertTx(ctx2, tx, &Transaction{
			AccountID:     ad.AccountID,
			UserID:        userID,
			Type:          TxExpire,
			Amount:        ad.Amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			ReferenceID:   &refID,
			ReferenceType: &refType,
		}); err != nil {
			return err
		}
	}

	if _, err := s.accounts.DeactivateForUserTx(ctx2, tx, userID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx", ErrInternal)
	}

	log.Info().Str("user_id", userID.String()).Int64("revoked", plan.Planned).Msg("user credits purged")
	return nil
}

func totalRemaining(allocations []ActiveAllocation) int64 {
	var sum int64
	for i := range allocations {
		sum += allocations[i].Remaining()
	}
	return sum
}
