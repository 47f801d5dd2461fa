package api

import (
	"fmt"
	"net/http"

	"Dollarchain/internal/apperr"
	"Dollarchain/internal/cache"
	"Dollarchain/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DepositHandler 入金与资格预检接口
type DepositHandler struct {
	deposits  *service.DepositService
	limiter   cache.Limiter
	perMinute int
	logger    *logrus.Logger
}

// NewDepositHandler 创建 DepositHandler；limiter 为 nil 或 perMinute <= 0 时不限流
func NewDepositHandler(deposits *service.DepositService, limiter cache.Limiter, perMinute int, logger *logrus.Logger) *DepositHandler {
	if limiter == nil || perMinute <= 0 {
		limiter = cache.NoLimit{}
	}
	return &DepositHandler{deposits: deposits, limiter: limiter, perMinute: perMinute, logger: logger}
}

// AttemptDeposit 入金 POST /api/deposits
// body: {"user_id": 123, "team_id": 4, "tx_hash": "0x..."}
func (h *DepositHandler) AttemptDeposit(c *gin.Context) {
	var req service.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if req.UserID != 0 {
		allowed, retryAfter, err := h.limiter.Allow(c.Request.Context(), fmt.Sprintf("dollarchain:deposit:%d", req.UserID), h.perMinute)
		if err != nil {
			h.logger.WithError(err).Warn("deposit throttle unavailable, allowing request")
		} else if !allowed {
			h.logger.WithFields(logrus.Fields{"user_id": req.UserID, "throttle": "per_minute", "retry_after": retryAfter}).Info("deposit throttled")
			respondError(c, h.logger, "AttemptDeposit", apperr.Throttled(retryAfter))
			return
		}
	}

	result, err := h.deposits.AttemptDeposit(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, "AttemptDeposit", err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// Eligibility 资格预检 GET /api/users/:fid/eligibility
func (h *DepositHandler) Eligibility(c *gin.Context) {
	fid, ok := parseID(c, "fid")
	if !ok {
		return
	}
	game, err := h.deposits.CheckEligibility(c.Request.Context(), fid)
	if err != nil {
		if apperr.IsDenied(err) {
			body := gin.H{"eligible": false, "reason": apperr.ReasonOf(err), "message": apperr.PublicMessage(err)}
			if e, ok := apperr.As(err); ok && e.RetryAfter > 0 {
				body["retry_after_seconds"] = retryAfterSeconds(e.RetryAfter)
			}
			c.JSON(http.StatusOK, body)
			return
		}
		respondError(c, h.logger, "Eligibility", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"eligible": true, "game_id": game.ID})
}
