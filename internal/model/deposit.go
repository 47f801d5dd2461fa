package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Deposit 对应 deposits 表，只追加的入金账本。
// 除 PointsEarned（派生字段）外写入后不再修改，也不删除。
// TxHash 全局唯一：一笔链上交易至多支撑一条入金记录。
type Deposit struct {
	ID           uint64           `gorm:"column:id;primaryKey;autoIncrement"`
	DepositUUID  string           `gorm:"column:deposit_uuid;type:varchar(64);uniqueIndex;not null"`
	UserID       uint64           `gorm:"column:user_id;type:bigint;not null;index:idx_deposit_user_game,priority:1"`
	GameID       uint64           `gorm:"column:game_id;type:bigint;not null;index:idx_deposit_user_game,priority:2;index:idx_deposit_game"`
	TeamID       uint64           `gorm:"column:team_id;type:bigint;not null;index"`
	Amount       decimal.Decimal  `gorm:"column:amount;type:numeric(18,6);not null"`
	ScoreWeight  *float64         `gorm:"column:score_weight;type:numeric(6,4)"` // 入金时用户质量分，空视为 1
	TxHash       *string          `gorm:"column:tx_hash;type:varchar(66);uniqueIndex:uk_deposit_tx_hash"`
	PointsEarned *decimal.Decimal `gorm:"column:points_earned;type:numeric(24,6)"`
	Verification datatypes.JSON   `gorm:"column:verification;type:jsonb"` // 匹配到的 Transfer 日志
	CreatedAt    time.Time        `gorm:"column:created_at;type:timestamptz;not null;default:now();index:idx_deposit_user_game,priority:3"`
}

func (Deposit) TableName() string { return "deposits" }

// 派奖类型与状态
const (
	PayoutKindPot         = "pot"
	PayoutKindBonusRefund = "bonus_refund"

	PayoutStatusPending   = "pending"
	PayoutStatusSubmitted = "submitted" // 已广播、回执未确认，不可重发
	PayoutStatusSent      = "sent"
	PayoutStatusFailed    = "failed"
)

// Payout 对应 payouts 表，每局每用户每种类型一条
type Payout struct {
	ID           uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	BatchUUID    string          `gorm:"column:batch_uuid;type:varchar(64);not null;index"`
	GameID       uint64          `gorm:"column:game_id;type:bigint;not null;uniqueIndex:uk_payout_game_user_kind,priority:1"`
	UserID       uint64          `gorm:"column:user_id;type:bigint;not null;uniqueIndex:uk_payout_game_user_kind,priority:2"`
	Kind         string          `gorm:"column:kind;type:varchar(16);not null;default:'pot';uniqueIndex:uk_payout_game_user_kind,priority:3"`
	TeamID       uint64          `gorm:"column:team_id;type:bigint;not null"`
	DepositTotal decimal.Decimal `gorm:"column:deposit_total;type:numeric(18,6);not null"`
	Amount       decimal.Decimal `gorm:"column:amount;type:numeric(18,6);not null"`
	ToAddress    *string         `gorm:"column:to_address;type:varchar(64)"`
	Status       string          `gorm:"column:status;type:varchar(16);not null;default:'pending'"`
	TxHash       *string         `gorm:"column:tx_hash;type:varchar(66)"`
	Error        *string         `gorm:"column:error;type:text"`
	CreatedAt    time.Time       `gorm:"column:created_at;type:timestamptz;default:now()"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;type:timestamptz;default:now()"`
}

func (Payout) TableName() string { return "payouts" }
