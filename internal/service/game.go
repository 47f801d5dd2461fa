package service

import (
	"context"
	"errors"
	"time"

	"Dollarchain/internal/apperr"
	"Dollarchain/internal/model"
	"Dollarchain/internal/repository"
	"Dollarchain/internal/scoring"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// GameResult 对局结算结果
type GameResult struct {
	GameID        uint64              `json:"game_id"`
	WinningTeamID *uint64             `json:"winning_team_id,omitempty"`
	Pot           decimal.Decimal     `json:"pot"`
	EndedAt       time.Time           `json:"ended_at"`
	Scores        []scoring.TeamScore `json:"scores"`
}

// GameService 对局生命周期：开局、结束（定胜负、定奖池）、到期自动结束
type GameService struct {
	store   repository.Store
	scoring *ScoringService
	logger  *logrus.Logger
	now     func() time.Time
}

// NewGameService 创建对局服务
func NewGameService(store repository.Store, scoringSvc *ScoringService, logger *logrus.Logger) *GameService {
	return &GameService{store: store, scoring: scoringSvc, logger: logger, now: utcClock(nil)}
}

// SetClock 替换时钟（测试用）
func (s *GameService) SetClock(now func() time.Time) { s.now = utcClock(now) }

// StartGame 开启新对局；pot 为 nil 时奖池取全部入金之和
func (s *GameService) StartGame(ctx context.Context, endsAt *time.Time, pot *decimal.Decimal) (*model.Game, error) {
	now := s.now()
	if endsAt != nil && !endsAt.After(now) {
		return nil, apperr.Validation("ends_at must be in the future")
	}
	if pot != nil && pot.IsNegative() {
		return nil, apperr.Validation("pot must not be negative")
	}
	if endsAt != nil {
		utc := endsAt.UTC()
		endsAt = &utc
	}
	game := &model.Game{Status: model.GameStatusActive, PotAmount: pot, StartsAt: now, EndsAt: endsAt}
	if err := s.store.Games().Create(ctx, game); err != nil {
		if errors.Is(err, repository.ErrActiveGameExists) {
			return nil, apperr.Validation("an active game already exists")
		}
		return nil, storeErr(err, "create game")
	}
	s.logger.WithField("game_id", game.ID).Info("game started")
	return game, nil
}

// ActiveGame 当前进行中的对局
func (s *GameService) ActiveGame(ctx context.Context) (*model.Game, error) {
	game, err := s.store.Games().GetActive(ctx)
	if err != nil {
		return nil, notFoundOr(err, apperr.Denied(apperr.ReasonNoActiveGame), "load active game")
	}
	return game, nil
}

// EndGame 结束对局：先锁对局行（等待进行中的受理事务提交），
// 再在同一事务内全量重算，按排行规则取第一名（链长为 0 的队伍不参与），写入奖池
func (s *GameService) EndGame(ctx context.Context, gameID uint64) (*GameResult, error) {
	var out *GameResult
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		game, err := tx.Games().LockByID(ctx, gameID)
		if err != nil {
			return notFoundOr(err, apperr.NotFound("game %d not found", gameID), "load game")
		}
		if !game.IsActive() {
			return apperr.Validation("game %d already ended", gameID)
		}

		scoreMap, err := s.scoring.recompute(ctx, tx, gameID, 0)
		if err != nil {
			return err
		}
		scores := make([]scoring.TeamScore, 0, len(scoreMap))
		for _, sc := range scoreMap {
			scores = append(scores, sc)
		}
		scoring.SortLeaderboard(scores)

		var winner *uint64
		if len(scores) > 0 && scores[0].ChainLength > 0 {
			id := scores[0].TeamID
			winner = &id
		}

		pot := decimal.Zero
		if game.PotAmount != nil {
			pot = *game.PotAmount
		} else if pot, err = tx.Deposits().SumByGame(ctx, gameID); err != nil {
			return storeErr(err, "sum deposits")
		}

		endedAt := s.now()
		if err := tx.Games().MarkEnded(ctx, gameID, winner, pot, endedAt); err != nil {
			return notFoundOr(err, apperr.Validation("game %d already ended", gameID), "end game")
		}
		out = &GameResult{GameID: gameID, WinningTeamID: winner, Pot: pot, EndedAt: endedAt, Scores: scores}
		return nil
	})
	if err != nil {
		return nil, err
	}
	fields := logrus.Fields{"game_id": gameID, "pot": out.Pot.String()}
	if out.WinningTeamID != nil {
		fields["winning_team_id"] = *out.WinningTeamID
	}
	s.logger.WithFields(fields).Info("game ended")
	return out, nil
}

// EndExpired 结束所有已到期的对局，单局失败不影响其余
func (s *GameService) EndExpired(ctx context.Context) ([]*GameResult, error) {
	expired, err := s.store.Games().ListExpired(ctx, s.now())
	if err != nil {
		return nil, storeErr(err, "list expired games")
	}
	var results []*GameResult
	var firstErr error
	for _, g := range expired {
		res, err := s.EndGame(ctx, g.ID)
		if err != nil {
			s.logger.WithError(err).WithField("game_id", g.ID).Error("auto end game failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		results = append(results, res)
	}
	return results, firstErr
}
