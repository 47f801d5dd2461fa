package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"Dollarchain/internal/apperr"
	"Dollarchain/internal/chain"
	"Dollarchain/internal/config"
	"Dollarchain/internal/events"
	"Dollarchain/internal/model"
	"Dollarchain/internal/profile"
	"Dollarchain/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// TransferVerifier 链上入金确认
type TransferVerifier interface {
	VerifyTransfer(ctx context.Context, txHash, fromAddr string) (*chain.Transfer, error)
}

// DepositRequest 入金请求
type DepositRequest struct {
	UserID uint64 `json:"user_id"`
	TeamID uint64 `json:"team_id"`
	TxHash string `json:"tx_hash"`
}

// DepositResult 入金成功后的账本记录与队伍最新统计
type DepositResult struct {
	DepositUUID string          `json:"deposit_uuid"`
	GameID      uint64          `json:"game_id"`
	Amount      decimal.Decimal `json:"amount"`
	NewMember   bool            `json:"new_member"`
	CreatedAt   time.Time       `json:"created_at"`
	Team        TeamStats       `json:"team"`
}

// DepositService 入金受理：校验 → 资料 → 资格预检 → 链上确认 → 单事务落账并重算聚合 → 事件
type DepositService struct {
	store     repository.Store
	guard     *Guard
	scoring   *ScoringService
	profiles  profile.Lookup
	verifier  TransferVerifier
	publisher events.Publisher
	stats     *StatsService
	amount    decimal.Decimal
	requireTx bool
	logger    *logrus.Logger
	now       func() time.Time
}

// NewDepositService 创建入金服务；verifier 为 nil 时不做链上确认（仅在 require_transaction=false 时允许）
func NewDepositService(
	store repository.Store,
	cfg *config.GameConfig,
	scoringSvc *ScoringService,
	statsSvc *StatsService,
	profiles profile.Lookup,
	verifier TransferVerifier,
	publisher events.Publisher,
	logger *logrus.Logger,
) (*DepositService, error) {
	amount, err := decimal.NewFromString(cfg.DepositAmount)
	if err != nil || !amount.IsPositive() {
		return nil, apperr.Validation("invalid game.deposit_amount %q", cfg.DepositAmount)
	}
	if cfg.RequireTransaction && verifier == nil {
		return nil, apperr.Validation("require_transaction is set but no transfer verifier configured")
	}
	return &DepositService{
		store:     store,
		guard:     NewGuard(GuardConfig{Cooldown: cfg.DepositCooldown, MaxDeposits: cfg.MaxDepositsPerGame}, nil),
		scoring:   scoringSvc,
		profiles:  profiles,
		verifier:  verifier,
		publisher: publisher,
		stats:     statsSvc,
		amount:    amount,
		requireTx: cfg.RequireTransaction,
		logger:    logger,
		now:       utcClock(nil),
	}, nil
}

// SetClock 替换时钟（测试用），同时作用于资格检查与聚合
func (s *DepositService) SetClock(now func() time.Time) {
	clock := utcClock(now)
	s.now = clock
	s.guard.now = clock
	s.scoring.now = clock
}

func (s *DepositService) normalize(req *DepositRequest) error {
	if req.UserID == 0 {
		return apperr.Validation("user_id is required")
	}
	if req.TeamID == 0 {
		return apperr.Validation("team_id is required")
	}
	req.TxHash = strings.ToLower(strings.TrimSpace(req.TxHash))
	if req.TxHash == "" {
		if s.requireTx {
			return apperr.Validation("tx_hash is required")
		}
		return nil
	}
	if !chain.ValidTxHash(req.TxHash) {
		return apperr.Validation("tx_hash must be a 0x-prefixed 32-byte hex string")
	}
	return nil
}

// resolveUser 刷新外部资料并落库；资料接口不可用时退回库中已有记录
func (s *DepositService) resolveUser(ctx context.Context, fid uint64) (*model.User, error) {
	p, err := s.profiles.Lookup(ctx, fid)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return nil, apperr.Validation("unknown user %d", fid)
		}
		stored, getErr := s.store.Users().GetByFID(ctx, fid)
		if getErr != nil {
			return nil, apperr.Dependency(err, "profile lookup")
		}
		s.logger.WithError(err).WithField("fid", fid).Warn("profile lookup failed, using stored profile")
		return stored, nil
	}

	now := s.now()
	user := &model.User{
		FID:             fid,
		Username:        p.Username,
		VerifiedAddress: p.VerifiedAddress,
		Score:           p.Score,
		ProfileSyncedAt: &now,
	}
	if err := s.store.Users().Upsert(ctx, user); err != nil {
		return nil, storeErr(err, "save user profile")
	}
	return user, nil
}

// CheckEligibility 只读资格预检，不刷新资料、不确认交易
func (s *DepositService) CheckEligibility(ctx context.Context, userID uint64) (*model.Game, error) {
	user, err := s.store.Users().GetByFID(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, storeErr(err, "load user")
	}
	return s.guard.Check(ctx, s.store, user, "")
}

// AttemptDeposit 受理一次入金。成功时账本新增一行且队伍聚合已重算；
// 任何失败都不留下账本记录。
func (s *DepositService) AttemptDeposit(ctx context.Context, req DepositRequest) (*DepositResult, error) {
	if err := s.normalize(&req); err != nil {
		return nil, err
	}
	log := s.logger.WithFields(logrus.Fields{"user_id": req.UserID, "team_id": req.TeamID, "tx_hash": req.TxHash})

	user, err := s.resolveUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	if _, err := s.guard.Check(ctx, s.store, user, req.TxHash); err != nil {
		s.logDenied(log, err)
		return nil, err
	}

	var verification datatypes.JSON
	if req.TxHash != "" && s.verifier != nil {
		transfer, err := s.verifier.VerifyTransfer(ctx, req.TxHash, *user.VerifiedAddress)
		if err != nil {
			log.WithError(err).Warn("deposit transfer verification failed")
			return nil, err
		}
		raw, err := json.Marshal(transfer)
		if err != nil {
			return nil, apperr.Dependency(err, "encode transfer")
		}
		verification = raw
	}

	var (
		result  *DepositResult
		team    *model.Team
		deposit *model.Deposit
	)
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		locked, err := tx.Users().LockByFID(ctx, user.FID)
		if err != nil {
			return storeErr(err, "lock user")
		}
		game, err := s.guard.CheckLocked(ctx, tx, locked, req.TxHash)
		if err != nil {
			return err
		}

		team, err = tx.Teams().GetByID(ctx, req.TeamID)
		if err != nil {
			return notFoundOr(err, apperr.NotFound("team %d not found", req.TeamID), "load team")
		}
		if team.GameID != game.ID {
			return apperr.Validation("team %d is not part of the active game", req.TeamID)
		}
		if !team.IsActive {
			return apperr.Validation("team %d is not accepting deposits", req.TeamID)
		}

		deposit = &model.Deposit{
			DepositUUID:  uuid.NewString(),
			UserID:       locked.FID,
			GameID:       game.ID,
			TeamID:       team.ID,
			Amount:       s.amount,
			ScoreWeight:  locked.Score,
			Verification: verification,
			CreatedAt:    s.now(),
		}
		if req.TxHash != "" {
			hash := req.TxHash
			deposit.TxHash = &hash
		}
		if err := tx.Deposits().Create(ctx, deposit); err != nil {
			if errors.Is(err, repository.ErrDuplicateTxHash) {
				return apperr.Consistency(err, "transaction %s already recorded", req.TxHash)
			}
			return storeErr(err, "insert deposit")
		}

		role := model.RoleMember
		if team.OwnerID == locked.FID {
			role = model.RoleOwner
		}
		added, err := tx.Teams().AddMember(ctx, &model.TeamMember{TeamID: team.ID, UserID: locked.FID, Role: role, JoinedAt: deposit.CreatedAt})
		if err != nil {
			return storeErr(err, "add team member")
		}

		scores, err := s.scoring.recompute(ctx, tx, game.ID, team.ID)
		if err != nil {
			return err
		}
		score := scores[team.ID]
		stats := teamStatsFrom(team)
		stats.ChainLength = score.ChainLength
		stats.Multiplier = score.Multiplier
		stats.TotalDeposit = score.TotalDeposit
		stats.TotalPoints = score.TotalPoints

		result = &DepositResult{
			DepositUUID: deposit.DepositUUID,
			GameID:      game.ID,
			Amount:      deposit.Amount,
			NewMember:   added,
			CreatedAt:   deposit.CreatedAt,
			Team:        stats,
		}
		return nil
	})
	if err != nil {
		s.logDenied(log, err)
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"deposit_uuid": result.DepositUUID,
		"game_id":      result.GameID,
		"chain_length": result.Team.ChainLength,
		"total_points": result.Team.TotalPoints.String(),
	}).Info("deposit accepted")

	s.afterCommit(ctx, user, result)
	return result, nil
}

// afterCommit 提交后的副作用，失败只记日志
func (s *DepositService) afterCommit(ctx context.Context, user *model.User, result *DepositResult) {
	if s.stats != nil {
		s.stats.InvalidateLeaderboard(ctx, result.GameID)
	}
	if s.publisher == nil {
		return
	}
	ev := events.DepositAccepted{
		DepositUUID: result.DepositUUID,
		GameID:      result.GameID,
		TeamID:      result.Team.TeamID,
		TeamName:    result.Team.Name,
		UserID:      user.FID,
		Username:    user.Username,
		Amount:      result.Amount,
		ChainLength: result.Team.ChainLength,
		TotalPoints: result.Team.TotalPoints,
		NewMember:   result.NewMember,
		AcceptedAt:  result.CreatedAt,
	}
	if err := s.publisher.PublishDepositAccepted(ctx, ev); err != nil {
		s.logger.WithError(err).WithField("deposit_uuid", ev.DepositUUID).Warn("publish deposit event failed")
	}
}

// logDenied 资格拒绝记 info，其余按依赖故障记 error
func (s *DepositService) logDenied(log *logrus.Entry, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindEligibility, apperr.KindConsistency:
		log.WithField("reason", apperr.ReasonOf(err)).Info("deposit denied")
	case apperr.KindValidation, apperr.KindNotFound, apperr.KindVerification:
		log.WithError(err).Info("deposit rejected")
	default:
		log.WithError(err).Error("deposit failed")
	}
}
