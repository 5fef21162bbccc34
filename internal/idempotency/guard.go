package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/stakeroom/internal/clock"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Claim is one reserved idempotency key. Claims persist across process
// restarts; the first claimant is the only execution allowed.
type Claim struct {
	Key       string    `gorm:"primaryKey;column:claim_key;type:text"`
	ClaimedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Claim) TableName() string { return "idempotency_claims" }

var ErrEmptyKey = errors.New("idempotency_key_empty")

// Guard reserves idempotency keys in the database. An already-claimed key is
// not an error; it signals "skip, already handled".
type Guard struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewGuard(db *gorm.DB, clk clock.Clock) *Guard {
	return &Guard{db: db, clock: clk}
}

// Claim atomically reserves key. It returns false when the key was already
// claimed by an earlier or concurrent caller.
func (g *Guard) Claim(ctx context.Context, key string) (bool, error) {
	return g.ClaimTx(ctx, g.db, key)
}

// ClaimTx reserves key inside the caller's transaction so the claim commits
// or rolls back together with the guarded side effect. The conflict clause is
// rendered per dialect (ON CONFLICT DO NOTHING on postgres/sqlite, INSERT
// IGNORE on mysql).
func (g *Guard) ClaimTx(ctx context.Context, tx *gorm.DB, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	claim := Claim{Key: key, ClaimedAt: g.clock.Now()}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "claim_key"}},
			DoNothing: true,
		}).
		Create(&claim)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
