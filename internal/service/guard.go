package service

import (
	"context"
	"time"

	"Dollarchain/internal/apperr"
	"Dollarchain/internal/model"
	"Dollarchain/internal/repository"
)

// GuardConfig 入金资格规则
type GuardConfig struct {
	Cooldown    time.Duration
	MaxDeposits int64
}

// Guard 入金资格检查。无状态，每次都基于当前账本重新判断；
// 入金时先在事务外预检一次，再在锁住用户行的事务内复检一次。
type Guard struct {
	cfg GuardConfig
	now func() time.Time
}

// NewGuard 创建资格检查器
func NewGuard(cfg GuardConfig, now func() time.Time) *Guard {
	return &Guard{cfg: cfg, now: utcClock(now)}
}

// Check 按顺序检查，遇到第一个失败即返回：
// 收款地址 → 进行中的对局 → 冷却期 → 次数上限 → 交易哈希未被使用。
// 通过时返回当前对局。
func (g *Guard) Check(ctx context.Context, store repository.Store, user *model.User, txHash string) (*model.Game, error) {
	return g.check(ctx, store, user, txHash, store.Games().GetActive)
}

// CheckLocked 受理事务内复检，对局行加共享锁直到事务结束，
// 保证 EndGame 看得到本事务写入的入金，或本事务看到对局已结束。
func (g *Guard) CheckLocked(ctx context.Context, tx repository.Store, user *model.User, txHash string) (*model.Game, error) {
	return g.check(ctx, tx, user, txHash, tx.Games().LockActiveShared)
}

func (g *Guard) check(ctx context.Context, store repository.Store, user *model.User, txHash string, activeGame func(context.Context) (*model.Game, error)) (*model.Game, error) {
	if !user.HasPaymentMethod() {
		return nil, apperr.Denied(apperr.ReasonNoPaymentMethod)
	}

	game, err := activeGame(ctx)
	if err != nil {
		return nil, notFoundOr(err, apperr.Denied(apperr.ReasonNoActiveGame), "load active game")
	}

	stats, err := store.Deposits().UserGameStats(ctx, user.FID, game.ID)
	if err != nil {
		return nil, storeErr(err, "load deposit stats")
	}
	if stats.LastAt != nil && g.cfg.Cooldown > 0 {
		if elapsed := g.now().Sub(*stats.LastAt); elapsed < g.cfg.Cooldown {
			return nil, apperr.RateLimited(g.cfg.Cooldown - elapsed)
		}
	}
	if stats.Count >= g.cfg.MaxDeposits {
		return nil, apperr.Denied(apperr.ReasonDepositCapReached)
	}

	if txHash != "" {
		used, err := store.Deposits().ExistsTxHash(ctx, txHash)
		if err != nil {
			return nil, storeErr(err, "check transaction hash")
		}
		if used {
			return nil, apperr.Denied(apperr.ReasonDuplicateTransaction)
		}
	}
	return game, nil
}
