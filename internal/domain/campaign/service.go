package campaign

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/creditrail/credit-api/internal/domain/account"
)

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, c *Campaign) error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if !account.CreditType(c.CreditType).Valid() {
		return fmt.Errorf("%w: unknown credit type %q", ErrInvalid, c.CreditType)
	}
	if c.CreditAmount <= 0 {
		return fmt.Errorf("%w: credit amount must be positive", ErrInvalid)
	}
	if c.TotalBudget < c.CreditAmount {
		return fmt.Errorf("%w: budget below a single grant", ErrInvalid)
	}
	if !c.EndDate.After(c.StartDate) {
		return fmt.Errorf("%w: end date must be after start date", ErrInvalid)
	}
	if c.Kind == "" {
		c.Kind = KindStandard
	}
	if c.MaxAllocationsPerUser <= 0 {
		c.MaxAllocationsPerUser = 1
	}
	if c.ExpirationDays <= 0 {
		c.ExpirationDays = 90
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return err
	}

	log.Info().
		Str("campaign_id", c.ID.String()).
		Str("name", c.Name).
		Int64("total_budget", c.TotalBudget).
		Msg("Campaign created")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, activeOnly bool, limit, offset int) ([]Campaign, error) {
	return s.repo.List(ctx, activeOnly, limit, offset)
}

func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return err
	}
	log.Info().Str("campaign_id", id.String()).Bool("active", active).Msg("Campaign state changed")
	return nil
}

func (s *Service) UpdateBudget(ctx context.Context, id uuid.UUID, totalBudget int64) error {
	if totalBudget <= 0 {
		return fmt.Errorf("%w: budget must be positive", ErrInvalid)
	}
	if err := s.repo.UpdateBudget(ctx, id, totalBudget); err != nil {
		return err
	}
	log.Info().Str("campaign_id", id.String()).Int64("total_budget", totalBudget).Msg("Campaign budget updated")
	return nil
}

func (s *Service) GetStats(ctx context.Context, id uuid.UUID) (*Stats, error) {
	return s.repo.GetStats(ctx, id)
}
