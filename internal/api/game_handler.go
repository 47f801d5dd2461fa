package api

import (
	"net/http"

	"Dollarchain/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// GameHandler 对局、排行榜与派奖查询接口
type GameHandler struct {
	games   *service.GameService
	stats   *service.StatsService
	payouts *service.PayoutService
	logger  *logrus.Logger
}

// NewGameHandler 创建 GameHandler
func NewGameHandler(games *service.GameService, stats *service.StatsService, payouts *service.PayoutService, logger *logrus.Logger) *GameHandler {
	return &GameHandler{games: games, stats: stats, payouts: payouts, logger: logger}
}

// ActiveGame 当前对局 GET /api/games/active
func (h *GameHandler) ActiveGame(c *gin.Context) {
	game, err := h.games.ActiveGame(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "ActiveGame", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"game_id":   game.ID,
		"status":    game.Status,
		"pot":       game.PotAmount,
		"starts_at": game.StartsAt,
		"ends_at":   game.EndsAt,
	})
}

// Leaderboard 排行榜 GET /api/games/:game_id/leaderboard
func (h *GameHandler) Leaderboard(c *gin.Context) {
	gameID, ok := parseID(c, "game_id")
	if !ok {
		return
	}
	h.leaderboard(c, gameID)
}

// ActiveLeaderboard 当前对局排行榜 GET /api/games/active/leaderboard
func (h *GameHandler) ActiveLeaderboard(c *gin.Context) {
	h.leaderboard(c, 0)
}

func (h *GameHandler) leaderboard(c *gin.Context, gameID uint64) {
	board, err := h.stats.GetLeaderboard(c.Request.Context(), gameID)
	if err != nil {
		respondError(c, h.logger, "Leaderboard", err)
		return
	}
	c.JSON(http.StatusOK, board)
}

// Payouts 派奖方案（只读计算）GET /api/games/:game_id/payouts
func (h *GameHandler) Payouts(c *gin.Context) {
	gameID, ok := parseID(c, "game_id")
	if !ok {
		return
	}
	plan, err := h.payouts.ComputePayouts(c.Request.Context(), gameID)
	if err != nil {
		respondError(c, h.logger, "Payouts", err)
		return
	}
	c.JSON(http.StatusOK, plan)
}
