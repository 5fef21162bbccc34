package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/stakeroom/internal/account/domain"
	"github.com/smallbiznis/stakeroom/internal/clock"
	"github.com/smallbiznis/stakeroom/internal/config"
	"github.com/smallbiznis/stakeroom/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/stakeroom/internal/observability/metrics"
	"github.com/smallbiznis/stakeroom/pkg/db"
	"github.com/smallbiznis/stakeroom/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	AccountRepo accountdomain.Repository
	Config      config.Config
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	accountRepo accountdomain.Repository
	txTimeout   time.Duration
	metrics     *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	settlement := p.Config.Settlement.WithDefaults()
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("ledger.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		accountRepo: p.AccountRepo,
		txTimeout:   settlement.LedgerTxTimeout,
		metrics:     p.Metrics,
	}
}

func (s *Service) Post(ctx context.Context, req domain.PostRequest) (domain.Entry, error) {
	if req.AccountID == 0 {
		return domain.Entry{}, domain.ErrInvalidAccount
	}
	if !req.EntryType.Valid() {
		return domain.Entry{}, domain.ErrInvalidEntryType
	}
	if req.Amount.IsZero() {
		return domain.Entry{}, domain.ErrInvalidAmount
	}
	if req.ReferenceType == "" || req.ReferenceID == 0 {
		return domain.Entry{}, domain.ErrInvalidReference
	}

	amount := req.Amount.Round(2)

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var entry domain.Entry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		if account.Status == accountdomain.AccountStatusFrozen {
			return accountdomain.ErrAccountFrozen
		}
		if account.Status == accountdomain.AccountStatusDeactivated {
			return accountdomain.ErrAccountDeactivated
		}

		before := account.Balance
		after := before.Add(amount)
		if after.IsNegative() && req.EntryType.IsSpend() {
			return domain.ErrInsufficientBalance
		}
		if after.IsNegative() {
			// Non-spend types never drive a balance negative either; the
			// invariant holds for every account at all times.
			return domain.ErrInsufficientBalance
		}

		var metadata []byte
		if len(req.Metadata) > 0 {
			metadata, err = json.Marshal(req.Metadata)
			if err != nil {
				return err
			}
		}

		entry = domain.Entry{
			ID:            s.genID.Generate(),
			AccountID:     account.ID,
			EntryType:     req.EntryType,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			ReferenceType: req.ReferenceType,
			ReferenceID:   req.ReferenceID,
			Metadata:      metadata,
			CreatedAt:     s.clock.Now(),
		}
		if err := s.repo.Insert(ctx, tx, &entry); err != nil {
			return err
		}

		return tx.WithContext(ctx).Exec(
			`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
			after,
			entry.CreatedAt,
			account.ID,
		).Error
	})
	if err != nil {
		return domain.Entry{}, s.mapTxErr(err)
	}

	if s.metrics != nil {
		s.metrics.RecordLedgerEntry(string(req.EntryType))
	}
	return entry, nil
}

// Reverse appends a new entry negating entryID. The original entry is never
// altered; a second reversal of the same entry is rejected.
func (s *Service) Reverse(ctx context.Context, entryID snowflake.ID, reason string) (domain.Entry, error) {
	original, err := s.repo.FindByID(ctx, s.db, entryID)
	if err != nil {
		return domain.Entry{}, err
	}
	if original == nil {
		return domain.Entry{}, domain.ErrEntryNotFound
	}

	existing, err := s.repo.FindByReversalOf(ctx, s.db, entryID)
	if err != nil {
		return domain.Entry{}, err
	}
	if existing != nil {
		return domain.Entry{}, domain.ErrAlreadyReversed
	}

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	reversalOf := original.ID
	var entry domain.Entry
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lockAccount(ctx, tx, original.AccountID)
		if err != nil {
			return err
		}
		if account.Status == accountdomain.AccountStatusFrozen {
			return accountdomain.ErrAccountFrozen
		}

		amount := original.Amount.Neg()
		before := account.Balance
		after := before.Add(amount)
		if after.IsNegative() {
			return domain.ErrInsufficientBalance
		}

		metadata, err := json.Marshal(map[string]any{"reason": reason})
		if err != nil {
			return err
		}

		entry = domain.Entry{
			ID:            s.genID.Generate(),
			AccountID:     account.ID,
			EntryType:     domain.EntryTypeReversal,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			ReferenceType: domain.ReferenceTypeEntry,
			ReferenceID:   original.ID,
			ReversalOf:    &reversalOf,
			Metadata:      metadata,
			CreatedAt:     s.clock.Now(),
		}
		if err := s.repo.Insert(ctx, tx, &entry); err != nil {
			return err
		}

		return tx.WithContext(ctx).Exec(
			`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
			after,
			entry.CreatedAt,
			account.ID,
		).Error
	})
	if err != nil {
		// The unique index on reversal_of catches the race two concurrent
		// reversals can win past the pre-check above.
		if db.IsDuplicateKeyErr(err) {
			return domain.Entry{}, domain.ErrAlreadyReversed
		}
		return domain.Entry{}, s.mapTxErr(err)
	}

	if s.metrics != nil {
		s.metrics.RecordLedgerEntry(string(domain.EntryTypeReversal))
	}
	s.log.Info("ledger entry reversed",
		zap.String("entry_id", original.ID.String()),
		zap.String("reversal_id", entry.ID.String()),
		zap.String("reason", reason),
	)
	return entry, nil
}

// BalanceOf returns the authoritative stored balance. History replay is the
// audit tool, not the hot path.
func (s *Service) BalanceOf(ctx context.Context, accountID snowflake.ID) (decimal.Decimal, error) {
	account, err := s.accountRepo.FindByID(ctx, s.db, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if account == nil {
		return decimal.Zero, accountdomain.ErrNotFound
	}
	return account.Balance, nil
}

func (s *Service) Deposit(ctx context.Context, accountID snowflake.ID, amount decimal.Decimal, referenceID snowflake.ID) (domain.Entry, error) {
	if !amount.IsPositive() {
		return domain.Entry{}, domain.ErrInvalidAmount
	}
	return s.Post(ctx, domain.PostRequest{
		AccountID:     accountID,
		EntryType:     domain.EntryTypeDeposit,
		Amount:        amount,
		ReferenceType: domain.ReferenceTypeManual,
		ReferenceID:   referenceID,
	})
}

func (s *Service) Withdraw(ctx context.Context, accountID snowflake.ID, amount decimal.Decimal, referenceID snowflake.ID) (domain.Entry, error) {
	if !amount.IsPositive() {
		return domain.Entry{}, domain.ErrInvalidAmount
	}
	return s.Post(ctx, domain.PostRequest{
		AccountID:     accountID,
		EntryType:     domain.EntryTypeWithdrawal,
		Amount:        amount.Neg(),
		ReferenceType: domain.ReferenceTypeManual,
		ReferenceID:   referenceID,
	})
}

func (s *Service) ListEntries(ctx context.Context, req domain.ListEntriesRequest) (domain.ListEntriesResponse, error) {
	if req.AccountID == 0 {
		return domain.ListEntriesResponse{}, domain.ErrInvalidAccount
	}

	var afterID snowflake.ID
	if req.Page.PageToken != "" {
		cursor, err := pagination.DecodeCursor(req.Page.PageToken)
		if err != nil {
			return domain.ListEntriesResponse{}, err
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListEntriesResponse{}, err
		}
		afterID = id
	}

	limit := req.Page.Limit()
	entries, err := s.repo.ListByAccount(ctx, s.db, req.AccountID, limit+1, afterID)
	if err != nil {
		return domain.ListEntriesResponse{}, err
	}

	resp := domain.ListEntriesResponse{Entries: entries}
	if len(entries) > limit {
		resp.Entries = entries[:limit]
		resp.HasMore = true
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: resp.Entries[limit-1].ID.String()})
		if err != nil {
			return domain.ListEntriesResponse{}, err
		}
		resp.NextPageToken = token
	}
	return resp, nil
}

// Replay folds every entry for an account in creation order and verifies the
// balance chain plus the stored balance. A mismatch freezes the account: no
// further postings until manual reconciliation.
func (s *Service) Replay(ctx context.Context, accountID snowflake.ID) (domain.ReplayReport, error) {
	account, err := s.accountRepo.FindByID(ctx, s.db, accountID)
	if err != nil {
		return domain.ReplayReport{}, err
	}
	if account == nil {
		return domain.ReplayReport{}, accountdomain.ErrNotFound
	}

	entries, err := s.repo.ListByAccount(ctx, s.db, accountID, 0, 0)
	if err != nil {
		return domain.ReplayReport{}, err
	}

	report := domain.ReplayReport{
		AccountID:     accountID,
		Entries:       len(entries),
		StoredBalance: account.Balance,
	}

	running := decimal.Zero
	consistent := true
	for _, entry := range entries {
		if !entry.BalanceBefore.Equal(running) {
			consistent = false
			break
		}
		expected := entry.BalanceBefore.Add(entry.Amount)
		if !entry.BalanceAfter.Equal(expected) {
			consistent = false
			break
		}
		running = entry.BalanceAfter
	}
	if consistent && !running.Equal(account.Balance) {
		consistent = false
	}

	report.ComputedFinal = running
	report.Consistent = consistent
	if consistent {
		return report, nil
	}

	s.log.Error("ledger replay mismatch, freezing account",
		zap.String("account_id", accountID.String()),
		zap.String("computed", running.String()),
		zap.String("stored", account.Balance.String()),
	)
	if err := s.accountRepo.UpdateStatus(ctx, s.db, accountID, accountdomain.AccountStatusFrozen); err != nil {
		s.log.Error("failed to freeze account", zap.String("account_id", accountID.String()), zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.RecordReplayMismatch()
	}
	return report, domain.ErrReplayMismatch
}

func (s *Service) lockAccount(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*accountdomain.Account, error) {
	stmt := tx.WithContext(ctx).Where("id = ?", id)
	switch tx.Dialector.Name() {
	case "postgres", "mysql":
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	// sqlite serializes writers on the database lock; no row lock needed.

	var account accountdomain.Account
	if err := stmt.Take(&account).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, accountdomain.ErrNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (s *Service) mapTxErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || db.IsBusyErr(err) {
		return domain.ErrLedgerBusy
	}
	return err
}
