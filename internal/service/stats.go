package service

import (
	"context"
	"time"

	"Dollarchain/internal/apperr"
	"Dollarchain/internal/cache"
	"Dollarchain/internal/model"
	"Dollarchain/internal/repository"
	"Dollarchain/internal/scoring"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TeamStats 队伍统计
type TeamStats struct {
	Rank         int             `json:"rank,omitempty"`
	TeamID       uint64          `json:"team_id"`
	GameID       uint64          `json:"game_id"`
	Name         string          `json:"name"`
	OwnerID      uint64          `json:"owner_id"`
	IsActive     bool            `json:"is_active"`
	ChainLength  int64           `json:"chain_length"`
	Multiplier   float64         `json:"multiplier"`
	TotalDeposit decimal.Decimal `json:"total_deposit"`
	TotalPoints  decimal.Decimal `json:"total_points"`
}

func teamStatsFrom(t *model.Team) TeamStats {
	return TeamStats{
		TeamID:       t.ID,
		GameID:       t.GameID,
		Name:         t.Name,
		OwnerID:      t.OwnerID,
		IsActive:     t.IsActive,
		ChainLength:  t.ChainLength,
		Multiplier:   t.ChainMultiplier,
		TotalDeposit: t.TotalDeposit,
		TotalPoints:  t.TotalPoints,
	}
}

// Leaderboard 排行榜
type Leaderboard struct {
	GameID         uint64      `json:"game_id"`
	Policy         string      `json:"policy"`
	MaxChainLength int64       `json:"max_chain_length"`
	Teams          []TeamStats `json:"teams"`
}

// StatsService 队伍统计与排行榜查询，读取每次入金后同步重算的聚合缓存
type StatsService struct {
	store  repository.Store
	policy scoring.Policy
	cache  cache.Cache
	ttl    time.Duration
	logger *logrus.Logger
}

// NewStatsService 创建查询服务；c 为 nil 时不缓存
func NewStatsService(store repository.Store, policy scoring.Policy, c cache.Cache, ttl time.Duration, logger *logrus.Logger) *StatsService {
	if c == nil {
		c = cache.Noop{}
	}
	return &StatsService{store: store, policy: policy, cache: c, ttl: ttl, logger: logger}
}

// GetTeamStats 单队统计
func (s *StatsService) GetTeamStats(ctx context.Context, teamID, gameID uint64) (*TeamStats, error) {
	team, err := s.store.Teams().GetByID(ctx, teamID)
	if err != nil {
		return nil, notFoundOr(err, apperr.NotFound("team %d not found", teamID), "load team")
	}
	if gameID != 0 && team.GameID != gameID {
		return nil, apperr.NotFound("team %d not found in game %d", teamID, gameID)
	}
	stats := teamStatsFrom(team)
	return &stats, nil
}

// ResolveGameID gameID 为 0 时取当前进行中的对局
func (s *StatsService) ResolveGameID(ctx context.Context, gameID uint64) (uint64, error) {
	if gameID != 0 {
		return gameID, nil
	}
	game, err := s.store.Games().GetActive(ctx)
	if err != nil {
		return 0, notFoundOr(err, apperr.Denied(apperr.ReasonNoActiveGame), "load active game")
	}
	return game.ID, nil
}

// GetLeaderboard 排行：积分降序，链长降序，队伍 ID 升序
func (s *StatsService) GetLeaderboard(ctx context.Context, gameID uint64) (*Leaderboard, error) {
	gameID, err := s.ResolveGameID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return cache.UseCache(ctx, s.cache, s.logger, cache.LeaderboardKey(gameID), s.ttl, func() (*Leaderboard, error) {
		return s.loadLeaderboard(ctx, gameID)
	})
}

func (s *StatsService) loadLeaderboard(ctx context.Context, gameID uint64) (*Leaderboard, error) {
	if _, err := s.store.Games().GetByID(ctx, gameID); err != nil {
		return nil, notFoundOr(err, apperr.NotFound("game %d not found", gameID), "load game")
	}
	teams, err := s.store.Teams().ListByGame(ctx, gameID)
	if err != nil {
		return nil, storeErr(err, "list teams")
	}
	scores := make([]scoring.TeamScore, 0, len(teams))
	byID := make(map[uint64]*model.Team, len(teams))
	var maxLen int64
	for _, t := range teams {
		byID[t.ID] = t
		scores = append(scores, scoring.TeamScore{TeamID: t.ID, ChainLength: t.ChainLength, TotalPoints: t.TotalPoints})
		if t.ChainLength > maxLen {
			maxLen = t.ChainLength
		}
	}
	scoring.SortLeaderboard(scores)

	board := &Leaderboard{GameID: gameID, Policy: s.policy.Name(), MaxChainLength: maxLen, Teams: make([]TeamStats, 0, len(scores))}
	for i, sc := range scores {
		stats := teamStatsFrom(byID[sc.TeamID])
		stats.Rank = i + 1
		board.Teams = append(board.Teams, stats)
	}
	return board, nil
}

// InvalidateLeaderboard 入金或对账后清理排行缓存
func (s *StatsService) InvalidateLeaderboard(ctx context.Context, gameID uint64) {
	if err := s.cache.Delete(ctx, cache.LeaderboardKey(gameID)); err != nil {
		s.logger.WithError(err).WithField("game_id", gameID).Warn("invalidate leaderboard cache failed")
	}
}
