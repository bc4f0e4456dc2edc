package credit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/creditrail/credit-api/internal/domain/account"
	"github.com/creditrail/credit-api/internal/pkg/events"
)

const (
	sweeperLockKey = "credit:sweeper:lock"
	sweeperLockTTL = 10 * time.Minute
	sweepBatchSize = 500
)

// Sweeper expires overdue allocations and warns about ones approaching
// expiry. One pass runs at a time across the deployment: each pass takes a
// redis lock, so extra replicas simply skip their tick.
type Sweeper struct {
	service   *Service
	rdb       *redis.Client
	interval  time.Duration
	warnAhead time.Duration
	stopCh    chan struct{}
}

func NewSweeper(service *Service, rdb *redis.Client, interval, warnAhead time.Duration) *Sweeper {
	if interval == 0 {
		interval = 24 * time.Hour
	}
	if warnAhead == 0 {
		warnAhead = 7 * 24 * time.Hour
	}
	return &Sweeper{
		service:   service,
		rdb:       rdb,
		interval:  interval,
		warnAhead: warnAhead,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the background sweeper
func (s *Sweeper) Start() {
	log.Info().Dur("interval", s.interval).Msg("Starting expiration sweeper...")
	go s.loop()
}

// Stop gracefully stops the background sweeper
func (s *Sweeper) Stop() {
	log.Info().Msg("Stopping expiration sweeper...")
	close(s.stopCh)
}

func (s *Sweeper) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	s.RunOnce()

	for {
		select {
		case <-ticker.C:
			s.RunOnce()
		case <-s.stopCh:
			return
		}
	}
}

// RunOnce performs a single expire-and-warn pass if the singleton lock is
// available.
func (s *Sweeper) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if !s.acquireLock(ctx) {
		log.Debug().Msg("sweeper lock held elsewhere, skipping pass")
		return
	}
	defer s.releaseLock()

	expired, failed := s.expirePass(ctx)
	warned := s.warnPass(ctx)

	log.Info().
		Int("expired", expired).
		Int("failed", failed).
		Int("warned", warned).
		Msg("expiration sweep finished")
}

func (s *Sweeper) acquireLock(ctx context.Context) bool {
	if s.rdb == nil {
		return true
	}
	ok, err := s.rdb.SetNX(ctx, sweeperLockKey, time.Now().Format(time.RFC3339), sweeperLockTTL).Result()
	if err != nil {
		log.Error().Err(err).Msg("sweeper lock acquisition failed")
		return false
	}
	return ok
}

func (s *Sweeper) releaseLock() {
	if s.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.rdb.Del(ctx, sweeperLockKey).Err(); err != nil {
		log.Error().Err(err).Msg("sweeper lock release failed")
	}
}

// expirePass drains due allocations in batches. Each allocation is its own
// transaction: one poisoned row cannot stall the sweep.
func (s *Sweeper) expirePass(ctx context.Context) (expired, failed int) {
	for {
		ids, err := s.service.allocations.ListDueForExpiry(ctx, time.Now(), sweepBatchSize)
		if err != nil {
			log.Error().Err(err).Msg("listing due allocations failed")
			return expired, failed
		}
		if len(ids) == 0 {
			return expired, failed
		}
		for _, id := range ids {
			if err := s.service.ExpireAllocation(ctx, id); err != nil {
				log.Error().Err(err).Str("allocation_id", id.String()).Msg("expiring allocation failed")
				failed++
				continue
			}
			expired++
		}
		if len(ids) < sweepBatchSize {
			return expired, failed
		}
	}
}

func (s *Sweeper) warnPass(ctx context.Context) int {
	now := time.Now()
	soon, err := s.service.allocations.ListExpiringSoon(ctx, now, now.Add(s.warnAhead), sweepBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("listing expiring-soon allocations failed")
		return 0
	}

	warned := 0
	for i := range soon {
		alloc := &soon[i]
		// ClaimWarned flips the flag at most once per allocation, so
		// redelivered passes do not re-publish.
		claimed, err := s.service.allocations.ClaimWarned(ctx, alloc.ID)
		if err != nil {
			log.Error().Err(err).Str("allocation_id", alloc.ID.String()).Msg("claiming expiry warning failed")
			continue
		}
		if !claimed || alloc.ExpiresAt == nil {
			continue
		}
		s.service.publisher.Publish(ctx, events.SubjectExpiringSoon, events.ExpiringSoon{
			UserID:     alloc.UserID,
			Amount:     alloc.Remaining(),
			ExpiresAt:  *alloc.ExpiresAt,
			CreditType: string(alloc.CreditType),
		})
		warned++
	}
	return warned
}

// ExpireAllocation expires whatever remains on one allocation: the remainder
// moves to expired counters on both the allocation and its account, with an
// expire row appended to the ledger. Already-drained allocations are a no-op.
func (s *Service) ExpireAllocation(ctx context.Context, id uuid.UUID) error {
	ctx2, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx2, nil)
	if err != nil {
		return ErrInternal
	}
	defer tx.Rollback()

	alloc, err := s.allocations.GetForUpdateTx(ctx2, tx, id)
	if err != nil {
		return err
	}
	if alloc.Status != StatusCompleted || alloc.ExpiresAt == nil || alloc.ExpiresAt.After(time.Now()) {
		return nil
	}
	remainder := alloc.Remaining()
	if err := s.allocations.ExpireTx(ctx2, tx, alloc.ID, remainder, StatusExpired); err != nil {
		return err
	}
	if remainder == 0 {
		// Fully drained already, just close the allocation out.
		return tx.Commit()
	}
	before, after, err := s.accounts.ApplyDeltaTx(ctx2, tx, alloc.AccountID, remainder, account.DeltaExpire)
	if err != nil {
		return err
	}

	refType, refID := RefAllocation, alloc.ID.String()
	if err := s.ledger.InsertTx(ctx2, tx, &Transaction{
		AccountID:     alloc.AccountID,
		UserID:        alloc.UserID,
		Type:          TxExpire,
		Amount:        remainder,
		BalanceBefore: before,
		BalanceAfter:  after,
		ReferenceID:   &refID,
		ReferenceType: &refType,
	}); err != nil {
		return err
	}

	acc, err := s.accounts.GetByID(ctx2, alloc.AccountID)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return ErrInternal
	}

	log.Info().
		Str("allocation_id", alloc.ID.String()).
		Str("user_id", alloc.UserID.String()).
		Int64("amount", remainder).
		Msg("allocation expired")

	s.publisher.Publish(ctx, events.SubjectExpired, events.Expired{
		UserID:       alloc.UserID,
		Amount:       remainder,
		CreditType:   string(acc.CreditType),
		BalanceAfter: after,
	})
	return nil
}
