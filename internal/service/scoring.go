package service

import (
	"context"
	"time"

	"Dollarchain/internal/apperr"
	"Dollarchain/internal/model"
	"Dollarchain/internal/repository"
	"Dollarchain/internal/scoring"

	"github.com/sirupsen/logrus"
)

// ScoringService 队伍聚合重算。聚合只是缓存，随时可由账本重新得到
type ScoringService struct {
	store  repository.Store
	policy scoring.Policy
	logger *logrus.Logger
	now    func() time.Time
}

// NewScoringService 创建聚合服务
func NewScoringService(store repository.Store, policy scoring.Policy, logger *logrus.Logger) *ScoringService {
	return &ScoringService{store: store, policy: policy, logger: logger, now: utcClock(nil)}
}

// Policy 当前乘数策略
func (s *ScoringService) Policy() scoring.Policy { return s.policy }

// RecomputeTeam 重算单个队伍并回写，幂等
func (s *ScoringService) RecomputeTeam(ctx context.Context, teamID, gameID uint64) (scoring.TeamScore, error) {
	var out scoring.TeamScore
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		team, err := tx.Teams().GetByID(ctx, teamID)
		if err != nil {
			return notFoundOr(err, apperr.NotFound("team %d not found", teamID), "load team")
		}
		if team.GameID != gameID {
			return apperr.Validation("team %d does not belong to game %d", teamID, gameID)
		}
		scores, err := s.recompute(ctx, tx, gameID, teamID)
		if err != nil {
			return err
		}
		out = scores[teamID]
		return nil
	})
	return out, err
}

// RecomputeGame 在一个事务内重算一局全部队伍，记录缓存漂移
func (s *ScoringService) RecomputeGame(ctx context.Context, gameID uint64) (map[uint64]scoring.TeamScore, error) {
	var out map[uint64]scoring.TeamScore
	err := s.store.Transaction(ctx, func(tx repository.Store) error {
		var err error
		out, err = s.recompute(ctx, tx, gameID, 0)
		return err
	})
	return out, err
}

// recompute 在 tx 内基于同一账本快照计算。
// teamID 为 0 或策略依赖全局最大链长时回写全局；否则只回写 teamID。
// 锁顺序：全局时按 id 升序锁全部队伍，否则只锁 teamID。
func (s *ScoringService) recompute(ctx context.Context, tx repository.Store, gameID, teamID uint64) (map[uint64]scoring.TeamScore, error) {
	writeAll := teamID == 0 || s.policy.Global()

	var locked []*model.Team
	if writeAll {
		teams, err := tx.Teams().LockByGame(ctx, gameID)
		if err != nil {
			return nil, storeErr(err, "lock teams")
		}
		locked = teams
	} else {
		team, err := tx.Teams().LockByID(ctx, teamID)
		if err != nil {
			return nil, notFoundOr(err, apperr.NotFound("team %d not found", teamID), "lock team")
		}
		locked = []*model.Team{team}
	}

	deposits, err := tx.Deposits().ListByGame(ctx, gameID)
	if err != nil {
		return nil, storeErr(err, "list deposits")
	}
	entries := make([]scoring.Entry, 0, len(deposits))
	for _, d := range deposits {
		entries = append(entries, scoring.Entry{UserID: d.UserID, TeamID: d.TeamID, Amount: d.Amount, Weight: d.ScoreWeight})
	}

	var scores map[uint64]scoring.TeamScore
	if writeAll {
		ids := make([]uint64, 0, len(locked))
		for _, t := range locked {
			ids = append(ids, t.ID)
		}
		scores = scoring.ScoreGame(s.policy, ids, entries)
	} else {
		scores = map[uint64]scoring.TeamScore{
			teamID: scoring.ScoreTeam(s.policy, teamID, entries, scoring.MaxChainLength(entries)),
		}
	}

	now := s.now()
	out := make(map[uint64]scoring.TeamScore, len(locked))
	for _, t := range locked {
		score := scores[t.ID]
		if teamID == 0 && (t.ChainLength != score.ChainLength || !t.TotalPoints.Equal(score.TotalPoints)) {
			s.logger.WithFields(logrus.Fields{
				"game_id":       gameID,
				"team_id":       t.ID,
				"cached_length": t.ChainLength,
				"ledger_length": score.ChainLength,
				"cached_points": t.TotalPoints.String(),
				"ledger_points": score.TotalPoints.String(),
			}).Warn("team aggregate drift corrected")
		}
		if err := tx.Teams().UpdateAggregates(ctx, score, now); err != nil {
			return nil, storeErr(err, "update team aggregates")
		}
		if err := tx.Deposits().SetPointsEarned(ctx, t.ID, score.Multiplier); err != nil {
			return nil, storeErr(err, "update points earned")
		}
		out[t.ID] = score
	}
	return out, nil
}
