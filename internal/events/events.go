// Package events 入金成功事件的发布与订阅。事件在事务提交后发出，投递失败不影响入金本身。
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DepositAccepted 入金成功事件
type DepositAccepted struct {
	DepositUUID string          `json:"deposit_uuid"`
	GameID      uint64          `json:"game_id"`
	TeamID      uint64          `json:"team_id"`
	TeamName    string          `json:"team_name"`
	UserID      uint64          `json:"user_id"`
	Username    string          `json:"username"`
	Amount      decimal.Decimal `json:"amount"`
	ChainLength int64           `json:"chain_length"`
	TotalPoints decimal.Decimal `json:"total_points"`
	NewMember   bool            `json:"new_member"`
	AcceptedAt  time.Time       `json:"accepted_at"`
}

// Handler 事件处理函数
type Handler func(ctx context.Context, ev DepositAccepted)

// Publisher 发布入金事件，不阻塞调用方
type Publisher interface {
	PublishDepositAccepted(ctx context.Context, ev DepositAccepted) error
	Close() error
}

// Bus 可发布也可订阅
type Bus interface {
	Publisher
	Subscribe(h Handler) error
}
