package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stakeroom/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (
			id, account_id, entry_type, amount, balance_before, balance_after,
			reference_type, reference_id, reversal_of, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.AccountID,
		entry.EntryType,
		entry.Amount,
		entry.BalanceBefore,
		entry.BalanceAfter,
		entry.ReferenceType,
		entry.ReferenceID,
		entry.ReversalOf,
		entry.Metadata,
		entry.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Entry, error) {
	var entry domain.Entry
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Take(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *repo) FindByReversalOf(ctx context.Context, db *gorm.DB, entryID snowflake.ID) (*domain.Entry, error) {
	var entry domain.Entry
	err := db.WithContext(ctx).
		Where("reversal_of = ?", entryID).
		Take(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, referenceType domain.ReferenceType, referenceID snowflake.ID, entryType domain.EntryType) (*domain.Entry, error) {
	var entry domain.Entry
	err := db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ? AND entry_type = ?", referenceType, referenceID, entryType).
		Take(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *repo) ListByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID, limit int, afterID snowflake.ID) ([]domain.Entry, error) {
	stmt := db.WithContext(ctx).
		Where("account_id = ?", accountID)
	if afterID != 0 {
		stmt = stmt.Where("id > ?", afterID)
	}
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}

	var entries []domain.Entry
	// Snowflake IDs are time ordered, so id asc is creation order.
	err := stmt.Order("id asc").Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
