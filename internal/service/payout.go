package service

import (
	"context"
	"errors"
	"sort"

	"Dollarchain/internal/apperr"
	"Dollarchain/internal/chain"
	"Dollarchain/internal/model"
	"Dollarchain/internal/repository"
	"Dollarchain/internal/scoring"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PayoutSender 链上转账（金库 → 用户地址）。
// Transfer 在交易广播之后出错时仍返回哈希；回执失败时错误包装 chain.ErrTransferReverted。
type PayoutSender interface {
	Transfer(ctx context.Context, to string, amount decimal.Decimal) (string, error)
	TransferStatus(ctx context.Context, txHash string) (chain.TransferState, error)
}

// PayoutShare 单个用户的派奖份额
type PayoutShare struct {
	UserID       uint64          `json:"user_id"`
	DepositTotal decimal.Decimal `json:"deposit_total"`
	Amount       decimal.Decimal `json:"amount"`
}

// PayoutPlan 一局的派奖方案
type PayoutPlan struct {
	GameID    uint64          `json:"game_id"`
	TeamID    uint64          `json:"team_id"`
	Kind      string          `json:"kind"`
	Pot       decimal.Decimal `json:"pot"`
	TeamTotal decimal.Decimal `json:"team_total"`
	Shares    []PayoutShare   `json:"shares"`
}

// Total 各份额之和
func (p *PayoutPlan) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, s := range p.Shares {
		sum = sum.Add(s.Amount)
	}
	return sum
}

// ExecuteSummary 执行派奖的结果统计
type ExecuteSummary struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"` // 已广播、回执未确认
	Skipped int `json:"skipped"`
}

// PayoutService 派奖计算、落库与链上执行
type PayoutService struct {
	store     repository.Store
	precision int32
	logger    *logrus.Logger
}

// NewPayoutService 创建派奖服务，precision 为派奖金额小数位
func NewPayoutService(store repository.Store, precision int32, logger *logrus.Logger) *PayoutService {
	if precision <= 0 {
		precision = scoring.CurrencyPrecision
	}
	return &PayoutService{store: store, precision: precision, logger: logger}
}

func sortedShares(totals, amounts map[uint64]decimal.Decimal) []PayoutShare {
	shares := make([]PayoutShare, 0, len(amounts))
	for uid, amt := range amounts {
		shares = append(shares, PayoutShare{UserID: uid, DepositTotal: totals[uid], Amount: amt})
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].UserID < shares[j].UserID })
	return shares
}

func entriesOf(deposits []*model.Deposit) []scoring.Entry {
	out := make([]scoring.Entry, 0, len(deposits))
	for _, d := range deposits {
		out = append(out, scoring.Entry{UserID: d.UserID, TeamID: d.TeamID, Amount: d.Amount, Weight: d.ScoreWeight})
	}
	return out
}

// ComputePayouts 计算获胜队伍成员的奖池份额，只读。对局必须已结束。
func (s *PayoutService) ComputePayouts(ctx context.Context, gameID uint64) (*PayoutPlan, error) {
	game, err := s.store.Games().GetByID(ctx, gameID)
	if err != nil {
		return nil, notFoundOr(err, apperr.NotFound("game %d not found", gameID), "load game")
	}
	if game.Status != model.GameStatusEnded {
		return nil, apperr.Validation("game %d has not ended", gameID)
	}

	plan := &PayoutPlan{GameID: gameID, Kind: model.PayoutKindPot, Pot: decimal.Zero, TeamTotal: decimal.Zero, Shares: []PayoutShare{}}
	if game.PotAmount != nil {
		plan.Pot = *game.PotAmount
	}
	if game.WinningTeamID == nil {
		return plan, nil
	}
	plan.TeamID = *game.WinningTeamID

	deposits, err := s.store.Deposits().ListByTeam(ctx, plan.TeamID)
	if err != nil {
		return nil, storeErr(err, "list team deposits")
	}
	totals := scoring.UserTotals(entriesOf(deposits))
	for _, t := range totals {
		plan.TeamTotal = plan.TeamTotal.Add(t)
	}
	plan.Shares = sortedShares(totals, scoring.Payouts(plan.Pot, totals, s.precision))
	return plan, nil
}

// ComputeBonusRefunds 每个入金用户返还 total_deposit * multiplier，只读
func (s *PayoutService) ComputeBonusRefunds(ctx context.Context, gameID uint64, multiplier decimal.Decimal) (*PayoutPlan, error) {
	if multiplier.IsNegative() {
		return nil, apperr.Validation("bonus multiplier must not be negative")
	}
	if _, err := s.store.Games().GetByID(ctx, gameID); err != nil {
		return nil, notFoundOr(err, apperr.NotFound("game %d not found", gameID), "load game")
	}
	deposits, err := s.store.Deposits().ListByGame(ctx, gameID)
	if err != nil {
		return nil, storeErr(err, "list deposits")
	}
	totals := scoring.UserTotals(entriesOf(deposits))
	amounts := make(map[uint64]decimal.Decimal, len(totals))
	plan := &PayoutPlan{GameID: gameID, Kind: model.PayoutKindBonusRefund, Pot: decimal.Zero, TeamTotal: decimal.Zero}
	for uid, total := range totals {
		amounts[uid] = scoring.BonusRefund(total, multiplier)
		plan.TeamTotal = plan.TeamTotal.Add(total)
	}
	plan.Shares = sortedShares(totals, amounts)
	plan.Pot = plan.Total()
	return plan, nil
}

// PlanPayouts 计算并落库奖池派奖，重复调用不会重复生成
func (s *PayoutService) PlanPayouts(ctx context.Context, gameID uint64) (*PayoutPlan, int64, error) {
	plan, err := s.ComputePayouts(ctx, gameID)
	if err != nil {
		return nil, 0, err
	}
	created, err := s.persist(ctx, plan)
	return plan, created, err
}

// PlanBonusRefunds 计算并落库返还奖励
func (s *PayoutService) PlanBonusRefunds(ctx context.Context, gameID uint64, multiplier decimal.Decimal) (*PayoutPlan, int64, error) {
	plan, err := s.ComputeBonusRefunds(ctx, gameID, multiplier)
	if err != nil {
		return nil, 0, err
	}
	created, err := s.persist(ctx, plan)
	return plan, created, err
}

func (s *PayoutService) persist(ctx context.Context, plan *PayoutPlan) (int64, error) {
	ids := make([]uint64, 0, len(plan.Shares))
	for _, sh := range plan.Shares {
		ids = append(ids, sh.UserID)
	}
	users, err := s.store.Users().ListByFIDs(ctx, ids)
	if err != nil {
		return 0, storeErr(err, "load payout users")
	}
	addrs := make(map[uint64]*string, len(users))
	for _, u := range users {
		addrs[u.FID] = u.VerifiedAddress
	}

	batch := uuid.NewString()
	rows := make([]*model.Payout, 0, len(plan.Shares))
	for _, sh := range plan.Shares {
		if !sh.Amount.IsPositive() {
			continue
		}
		rows = append(rows, &model.Payout{
			BatchUUID:    batch,
			GameID:       plan.GameID,
			UserID:       sh.UserID,
			Kind:         plan.Kind,
			TeamID:       plan.TeamID,
			DepositTotal: sh.DepositTotal,
			Amount:       sh.Amount,
			ToAddress:    addrs[sh.UserID],
			Status:       model.PayoutStatusPending,
		})
	}
	created, err := s.store.Payouts().CreateBatch(ctx, rows)
	if err != nil {
		return 0, storeErr(err, "save payouts")
	}
	s.logger.WithFields(logrus.Fields{
		"game_id":    plan.GameID,
		"kind":       plan.Kind,
		"batch_uuid": batch,
		"created":    created,
		"total":      plan.Total().String(),
	}).Info("payout batch planned")
	return created, nil
}

// Outstanding 尚需从金库转出的金额（pending 与 failed 的派奖之和）
func (s *PayoutService) Outstanding(ctx context.Context, gameID uint64, kind string) (decimal.Decimal, error) {
	list, err := s.store.Payouts().ListByGame(ctx, gameID, kind)
	if err != nil {
		return decimal.Zero, storeErr(err, "list payouts")
	}
	sum := decimal.Zero
	for _, p := range list {
		if p.Status == model.PayoutStatusPending || p.Status == model.PayoutStatusFailed {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}

// ExecutePayouts 逐条发送未成功的派奖；单条失败记录原因后继续。
// submitted 的派奖只查询原交易回执，不重新发送。
func (s *PayoutService) ExecutePayouts(ctx context.Context, gameID uint64, kind string, sender PayoutSender) (*ExecuteSummary, error) {
	list, err := s.store.Payouts().ListByGame(ctx, gameID, kind)
	if err != nil {
		return nil, storeErr(err, "list payouts")
	}
	summary := &ExecuteSummary{}
	for _, p := range list {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		log := s.logger.WithFields(logrus.Fields{"payout_id": p.ID, "game_id": gameID, "user_id": p.UserID, "amount": p.Amount.String()})
		switch p.Status {
		case model.PayoutStatusSent:
			summary.Skipped++
			continue
		case model.PayoutStatusSubmitted:
			if err := s.reconcileSubmitted(ctx, p, sender, summary, log); err != nil {
				return summary, err
			}
			continue
		}
		if p.ToAddress == nil || *p.ToAddress == "" {
			if err := s.store.Payouts().MarkFailed(ctx, p.ID, "no verified address"); err != nil {
				return summary, storeErr(err, "mark payout failed")
			}
			log.Warn("payout skipped: no verified address")
			summary.Failed++
			continue
		}
		txHash, err := sender.Transfer(ctx, *p.ToAddress, p.Amount)
		// 广播后 ctx 可能已取消，落库结果不随之取消
		rec := context.WithoutCancel(ctx)
		if err != nil {
			if rErr := s.recordTransferError(rec, p, txHash, err, summary, log); rErr != nil {
				return summary, rErr
			}
			continue
		}
		if err := s.store.Payouts().MarkSent(rec, p.ID, txHash); err != nil {
			// 链上已发出但未记录，需人工核对，停止后续发送
			log.WithError(err).WithField("tx_hash", txHash).Error("payout sent but not recorded")
			return summary, storeErr(err, "mark payout sent")
		}
		log.WithField("tx_hash", txHash).Info("payout sent")
		summary.Sent++
	}
	return summary, nil
}

// recordTransferError 未广播或回执失败的可重发，记 failed；已广播未确认的记 submitted
func (s *PayoutService) recordTransferError(ctx context.Context, p *model.Payout, txHash string, cause error, summary *ExecuteSummary, log *logrus.Entry) error {
	log = log.WithError(cause).WithField("tx_hash", txHash)
	if txHash == "" || errors.Is(cause, chain.ErrTransferReverted) {
		log.Error("payout transfer failed")
		if err := s.store.Payouts().MarkFailed(ctx, p.ID, cause.Error()); err != nil {
			return storeErr(err, "mark payout failed")
		}
		summary.Failed++
		return nil
	}
	log.Warn("payout transfer broadcast but not confirmed")
	if err := s.store.Payouts().MarkSubmitted(ctx, p.ID, txHash, cause.Error()); err != nil {
		log.WithError(err).Error("payout broadcast but not recorded")
		return storeErr(err, "mark payout submitted")
	}
	summary.Pending++
	return nil
}

// reconcileSubmitted 按已记录的交易哈希确认结果；回执失败才允许下次重发
func (s *PayoutService) reconcileSubmitted(ctx context.Context, p *model.Payout, sender PayoutSender, summary *ExecuteSummary, log *logrus.Entry) error {
	if p.TxHash == nil || *p.TxHash == "" {
		log.Error("submitted payout without tx hash, needs manual review")
		summary.Pending++
		return nil
	}
	txHash := *p.TxHash
	log = log.WithField("tx_hash", txHash)
	state, err := sender.TransferStatus(ctx, txHash)
	if err != nil {
		log.WithError(err).Warn("payout receipt check failed")
		summary.Pending++
		return nil
	}
	switch state {
	case chain.TransferSucceeded:
		if err := s.store.Payouts().MarkSent(ctx, p.ID, txHash); err != nil {
			return storeErr(err, "mark payout sent")
		}
		log.Info("submitted payout confirmed")
		summary.Sent++
	case chain.TransferReverted:
		if err := s.store.Payouts().MarkFailed(ctx, p.ID, "transfer reverted: "+txHash); err != nil {
			return storeErr(err, "mark payout failed")
		}
		log.Warn("submitted payout reverted")
		summary.Failed++
	default:
		log.Info("submitted payout still pending")
		summary.Pending++
	}
	return nil
}
