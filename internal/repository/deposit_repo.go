package repository

import (
	"context"
	"errors"
	"time"

	"Dollarchain/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type depositRepository struct {
	db *gorm.DB
}

// NewDepositRepository 创建入金账本仓储
func NewDepositRepository(db *gorm.DB) DepositRepository {
	return &depositRepository{db: db}
}

// Create 追加一条入金；tx_hash 唯一索引冲突返回 ErrDuplicateTxHash
func (r *depositRepository) Create(ctx context.Context, deposit *model.Deposit) error {
	err := r.db.WithContext(ctx).Create(deposit).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateTxHash
	}
	return err
}

func (r *depositRepository) UserGameStats(ctx context.Context, userID, gameID uint64) (DepositStats, error) {
	var row struct {
		Count  int64
		LastAt *time.Time
	}
	err := r.db.WithContext(ctx).Model(&model.Deposit{}).
		Select("COUNT(*) AS count, MAX(created_at) AS last_at").
		Where("user_id = ? AND game_id = ?", userID, gameID).
		Scan(&row).Error
	if err != nil {
		return DepositStats{}, err
	}
	return DepositStats{Count: row.Count, LastAt: row.LastAt}, nil
}

func (r *depositRepository) ExistsTxHash(ctx context.Context, txHash string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Deposit{}).Where("tx_hash = ?", txHash).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *depositRepository) ListByGame(ctx context.Context, gameID uint64) ([]*model.Deposit, error) {
	var list []*model.Deposit
	if err := r.db.WithContext(ctx).Where("game_id = ?", gameID).Order("created_at, id").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *depositRepository) ListByTeam(ctx context.Context, teamID uint64) ([]*model.Deposit, error) {
	var list []*model.Deposit
	if err := r.db.WithContext(ctx).Where("team_id = ?", teamID).Order("created_at, id").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *depositRepository) SumByGame(ctx context.Context, gameID uint64) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := r.db.WithContext(ctx).Model(&model.Deposit{}).
		Select("SUM(amount)").Where("game_id = ?", gameID).Scan(&sum).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

func (r *depositRepository) SetPointsEarned(ctx context.Context, teamID uint64, multiplier float64) error {
	return r.db.WithContext(ctx).Model(&model.Deposit{}).
		Where("team_id = ?", teamID).
		Update("points_earned", gorm.Expr("ROUND(amount * ? * LEAST(GREATEST(COALESCE(score_weight, 1), 0), 1), 6)", multiplier)).Error
}
