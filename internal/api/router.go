package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers 全部 HTTP 处理器
type Handlers struct {
	Deposits *DepositHandler
	Games    *GameHandler
	Teams    *TeamHandler
}

// RegisterRoutes 注册 API 路由
func RegisterRoutes(r gin.IRouter, h Handlers) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := r.Group("/api")
	apiGroup.POST("/deposits", h.Deposits.AttemptDeposit)
	apiGroup.GET("/users/:fid/eligibility", h.Deposits.Eligibility)

	apiGroup.POST("/teams", h.Teams.CreateTeam)
	apiGroup.GET("/teams/:team_id/stats", h.Teams.TeamStats)

	apiGroup.GET("/games/active", h.Games.ActiveGame)
	apiGroup.GET("/games/active/leaderboard", h.Games.ActiveLeaderboard)
	apiGroup.GET("/games/:game_id/leaderboard", h.Games.Leaderboard)
	apiGroup.GET("/games/:game_id/payouts", h.Games.Payouts)
}
