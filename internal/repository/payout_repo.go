package repository

import (
	"context"
	"time"

	"Dollarchain/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type payoutRepository struct {
	db *gorm.DB
}

// NewPayoutRepository 创建派奖仓储
func NewPayoutRepository(db *gorm.DB) PayoutRepository {
	return &payoutRepository{db: db}
}

func (r *payoutRepository) CreateBatch(ctx context.Context, payouts []*model.Payout) (int64, error) {
	if len(payouts) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "game_id"}, {Name: "user_id"}, {Name: "kind"}},
		DoNothing: true,
	}).Create(&payouts)
	return res.RowsAffected, res.Error
}

func (r *payoutRepository) ListByGame(ctx context.Context, gameID uint64, kind string) ([]*model.Payout, error) {
	var list []*model.Payout
	db := r.db.WithContext(ctx).Where("game_id = ?", gameID)
	if kind != "" {
		db = db.Where("kind = ?", kind)
	}
	if err := db.Order("user_id").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *payoutRepository) MarkSubmitted(ctx context.Context, id uint64, txHash string, reason string) error {
	return r.db.WithContext(ctx).Model(&model.Payout{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.PayoutStatusSubmitted,
			"tx_hash":    txHash,
			"error":      reason,
			"updated_at": time.Now(),
		}).Error
}

func (r *payoutRepository) MarkSent(ctx context.Context, id uint64, txHash string) error {
	return r.db.WithContext(ctx).Model(&model.Payout{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.PayoutStatusSent,
			"tx_hash":    txHash,
			"error":      nil,
			"updated_at": time.Now(),
		}).Error
}

func (r *payoutRepository) MarkFailed(ctx context.Context, id uint64, reason string) error {
	return r.db.WithContext(ctx).Model(&model.Payout{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.PayoutStatusFailed,
			"error":      reason,
			"updated_at": time.Now(),
		}).Error
}
