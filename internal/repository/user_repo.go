package repository

import (
	"context"

	"Dollarchain/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建用户仓储
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Upsert 以 fid 为键写入资料；通知令牌由 webhook 侧维护，这里不覆盖
func (r *userRepository) Upsert(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "fid"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "verified_address", "score", "profile_synced_at", "updated_at"}),
	}).Omit("notification_url", "notification_token").Create(user).Error
}

func (r *userRepository) GetByFID(ctx context.Context, fid uint64) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).Where("fid = ?", fid).First(&u).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &u, nil
}

func (r *userRepository) LockByFID(ctx context.Context, fid uint64) (*model.User, error) {
	var u model.User
	if err := r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("fid = ?", fid).First(&u).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &u, nil
}

func (r *userRepository) ListByFIDs(ctx context.Context, fids []uint64) ([]*model.User, error) {
	var list []*model.User
	if len(fids) == 0 {
		return list, nil
	}
	if err := r.db.WithContext(ctx).Where("fid IN ?", fids).Order("fid").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
