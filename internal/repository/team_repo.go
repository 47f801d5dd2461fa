package repository

import (
	"context"
	"errors"
	"time"

	"Dollarchain/internal/model"
	"Dollarchain/internal/scoring"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type teamRepository struct {
	db *gorm.DB
}

// NewTeamRepository 创建队伍仓储
func NewTeamRepository(db *gorm.DB) TeamRepository {
	return &teamRepository{db: db}
}

func (r *teamRepository) Create(ctx context.Context, team *model.Team) error {
	err := r.db.WithContext(ctx).Create(team).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrTeamNameTaken
	}
	return err
}

func (r *teamRepository) GetByID(ctx context.Context, id uint64) (*model.Team, error) {
	var t model.Team
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &t, nil
}

func (r *teamRepository) ListByGame(ctx context.Context, gameID uint64) ([]*model.Team, error) {
	var list []*model.Team
	if err := r.db.WithContext(ctx).Where("game_id = ?", gameID).Order("id").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *teamRepository) LockByID(ctx context.Context, id uint64) (*model.Team, error) {
	var t model.Team
	if err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&t).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &t, nil
}

func (r *teamRepository) LockByGame(ctx context.Context, gameID uint64) ([]*model.Team, error) {
	var list []*model.Team
	if err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("game_id = ?", gameID).Order("id").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *teamRepository) UpdateAggregates(ctx context.Context, score scoring.TeamScore, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Team{}).
		Where("id = ?", score.TeamID).
		Updates(map[string]interface{}{
			"chain_length":     score.ChainLength,
			"chain_multiplier": score.Multiplier,
			"total_deposit":    score.TotalDeposit,
			"total_points":     score.TotalPoints,
			"recomputed_at":    at,
			"updated_at":       at,
		}).Error
}

// AddMember 已是成员时不重复写入，返回是否新增
func (r *teamRepository) AddMember(ctx context.Context, member *model.TeamMember) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "team_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(member)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *teamRepository) ListMemberIDs(ctx context.Context, teamID uint64) ([]uint64, error) {
	var ids []uint64
	if err := r.db.WithContext(ctx).Model(&model.TeamMember{}).
		Where("team_id = ?", teamID).Order("user_id").Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
