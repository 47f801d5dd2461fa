package repository

import (
	"context"
	"errors"
	"time"

	"Dollarchain/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gameRepository struct {
	db *gorm.DB
}

// NewGameRepository 创建对局仓储
func NewGameRepository(db *gorm.DB) GameRepository {
	return &gameRepository{db: db}
}

// Create 部分唯一索引 uk_games_single_active 冲突时返回 ErrActiveGameExists
func (r *gameRepository) Create(ctx context.Context, game *model.Game) error {
	err := r.db.WithContext(ctx).Create(game).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrActiveGameExists
	}
	return err
}

func (r *gameRepository) GetByID(ctx context.Context, id uint64) (*model.Game, error) {
	var g model.Game
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&g).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &g, nil
}

func (r *gameRepository) GetActive(ctx context.Context) (*model.Game, error) {
	var g model.Game
	if err := r.db.WithContext(ctx).Where("status = ?", model.GameStatusActive).First(&g).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &g, nil
}

func (r *gameRepository) LockActiveShared(ctx context.Context) (*model.Game, error) {
	var g model.Game
	if err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "SHARE"}).
		Where("status = ?", model.GameStatusActive).First(&g).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &g, nil
}

func (r *gameRepository) LockByID(ctx context.Context, id uint64) (*model.Game, error) {
	var g model.Game
	if err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&g).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &g, nil
}

// MarkEnded 仅对 active 对局生效，否则返回 ErrNotFound
func (r *gameRepository) MarkEnded(ctx context.Context, id uint64, winningTeamID *uint64, pot decimal.Decimal, endedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.Game{}).
		Where("id = ? AND status = ?", id, model.GameStatusActive).
		Updates(map[string]interface{}{
			"status":          model.GameStatusEnded,
			"winning_team_id": winningTeamID,
			"pot_amount":      pot,
			"ended_at":        endedAt,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gameRepository) ListExpired(ctx context.Context, now time.Time) ([]*model.Game, error) {
	var list []*model.Game
	if err := r.db.WithContext(ctx).
		Where("status = ? AND ends_at IS NOT NULL AND ends_at <= ?", model.GameStatusActive, now).
		Order("id").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
