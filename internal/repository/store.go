package repository

import (
	"context"
	"errors"
	"time"

	"Dollarchain/internal/model"
	"Dollarchain/internal/scoring"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicateTxHash  = errors.New("transaction hash already used")
	ErrActiveGameExists = errors.New("an active game already exists")
	ErrTeamNameTaken    = errors.New("team name already taken in this game")
)

// UserRepository 用户持久化
type UserRepository interface {
	Upsert(ctx context.Context, user *model.User) error
	GetByFID(ctx context.Context, fid uint64) (*model.User, error)
	// LockByFID SELECT ... FOR UPDATE，串行化同一用户的入金
	LockByFID(ctx context.Context, fid uint64) (*model.User, error)
	ListByFIDs(ctx context.Context, fids []uint64) ([]*model.User, error)
}

// GameRepository 对局持久化
type GameRepository interface {
	Create(ctx context.Context, game *model.Game) error
	GetByID(ctx context.Context, id uint64) (*model.Game, error)
	GetActive(ctx context.Context) (*model.Game, error)
	// LockActiveShared SELECT ... FOR SHARE 读取进行中的对局；结束对局的事务须等待其提交
	LockActiveShared(ctx context.Context) (*model.Game, error)
	// LockByID SELECT ... FOR UPDATE，结束对局前锁定对局行
	LockByID(ctx context.Context, id uint64) (*model.Game, error)
	MarkEnded(ctx context.Context, id uint64, winningTeamID *uint64, pot decimal.Decimal, endedAt time.Time) error
	ListExpired(ctx context.Context, now time.Time) ([]*model.Game, error)
}

// TeamRepository 队伍及成员持久化
type TeamRepository interface {
	Create(ctx context.Context, team *model.Team) error
	GetByID(ctx context.Context, id uint64) (*model.Team, error)
	ListByGame(ctx context.Context, gameID uint64) ([]*model.Team, error)
	LockByID(ctx context.Context, id uint64) (*model.Team, error)
	// LockByGame 按 id 升序锁定一局内全部队伍行
	LockByGame(ctx context.Context, gameID uint64) ([]*model.Team, error)
	UpdateAggregates(ctx context.Context, score scoring.TeamScore, at time.Time) error
	AddMember(ctx context.Context, member *model.TeamMember) (bool, error)
	ListMemberIDs(ctx context.Context, teamID uint64) ([]uint64, error)
}

// DepositStats 用户在某局的入金统计
type DepositStats struct {
	Count  int64
	LastAt *time.Time
}

// DepositRepository 入金账本（只追加）
type DepositRepository interface {
	Create(ctx context.Context, deposit *model.Deposit) error
	UserGameStats(ctx context.Context, userID, gameID uint64) (DepositStats, error)
	ExistsTxHash(ctx context.Context, txHash string) (bool, error)
	ListByGame(ctx context.Context, gameID uint64) ([]*model.Deposit, error)
	ListByTeam(ctx context.Context, teamID uint64) ([]*model.Deposit, error)
	SumByGame(ctx context.Context, gameID uint64) (decimal.Decimal, error)
	// SetPointsEarned 按队伍当前乘数回写每笔入金的派生积分
	SetPointsEarned(ctx context.Context, teamID uint64, multiplier float64) error
}

// PayoutRepository 派奖记录持久化
type PayoutRepository interface {
	// CreateBatch 已存在的 (game_id, user_id, kind) 跳过，返回实际新增条数
	CreateBatch(ctx context.Context, payouts []*model.Payout) (int64, error)
	ListByGame(ctx context.Context, gameID uint64, kind string) ([]*model.Payout, error)
	// MarkSubmitted 交易已广播但未确认，记录哈希防止重发
	MarkSubmitted(ctx context.Context, id uint64, txHash string, reason string) error
	MarkSent(ctx context.Context, id uint64, txHash string) error
	MarkFailed(ctx context.Context, id uint64, reason string) error
}

// Store 聚合全部仓储，Transaction 内的 Store 共享同一事务
type Store interface {
	Users() UserRepository
	Games() GameRepository
	Teams() TeamRepository
	Deposits() DepositRepository
	Payouts() PayoutRepository
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

type gormStore struct {
	db *gorm.DB
}

// NewStore 基于 GORM 创建 Store（db 需开启 TranslateError）
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Users() UserRepository       { return NewUserRepository(s.db) }
func (s *gormStore) Games() GameRepository       { return NewGameRepository(s.db) }
func (s *gormStore) Teams() TeamRepository       { return NewTeamRepository(s.db) }
func (s *gormStore) Deposits() DepositRepository { return NewDepositRepository(s.db) }
func (s *gormStore) Payouts() PayoutRepository   { return NewPayoutRepository(s.db) }

func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) (err error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()
	if err := fn(&gormStore{db: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
