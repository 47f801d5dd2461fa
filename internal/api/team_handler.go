package api

import (
	"net/http"
	"strconv"

	"Dollarchain/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TeamHandler 开链与队伍统计接口
type TeamHandler struct {
	teams  *service.TeamService
	stats  *service.StatsService
	logger *logrus.Logger
}

// NewTeamHandler 创建 TeamHandler
func NewTeamHandler(teams *service.TeamService, stats *service.StatsService, logger *logrus.Logger) *TeamHandler {
	return &TeamHandler{teams: teams, stats: stats, logger: logger}
}

// CreateTeamRequest 开链请求
type CreateTeamRequest struct {
	OwnerID uint64 `json:"owner_id" binding:"required"`
	Name    string `json:"name" binding:"required"`
}

// CreateTeam 开链 POST /api/teams
func (h *TeamHandler) CreateTeam(c *gin.Context) {
	var req CreateTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	team, err := h.teams.CreateTeam(c.Request.Context(), req.OwnerID, req.Name)
	if err != nil {
		respondError(c, h.logger, "CreateTeam", err)
		return
	}
	c.JSON(http.StatusCreated, team)
}

// TeamStats 队伍统计 GET /api/teams/:team_id/stats?game_id=
func (h *TeamHandler) TeamStats(c *gin.Context) {
	teamID, ok := parseID(c, "team_id")
	if !ok {
		return
	}
	var gameID uint64
	if raw := c.Query("game_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "game_id must be a positive integer"})
			return
		}
		gameID = id
	}
	stats, err := h.stats.GetTeamStats(c.Request.Context(), teamID, gameID)
	if err != nil {
		respondError(c, h.logger, "TeamStats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
