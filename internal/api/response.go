package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"Dollarchain/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// respondError 按错误分类写响应：拒绝类带 reason，冷却期带 Retry-After，依赖故障统一 503
func respondError(c *gin.Context, logger *logrus.Logger, op string, err error) {
	status := apperr.HTTPStatus(err)
	body := gin.H{"error": apperr.PublicMessage(err)}
	if reason := apperr.ReasonOf(err); reason != "" {
		body["reason"] = reason
	}
	if e, ok := apperr.As(err); ok && e.RetryAfter > 0 {
		secs := retryAfterSeconds(e.RetryAfter)
		c.Header("Retry-After", strconv.FormatInt(secs, 10))
		body["retry_after_seconds"] = secs
	}
	if status >= http.StatusInternalServerError {
		logger.WithError(err).Errorf("%s failed", op)
	}
	c.JSON(status, body)
}

// retryAfterSeconds 向上取整，避免客户端提前重试
func retryAfterSeconds(d time.Duration) int64 {
	return int64(math.Ceil(d.Seconds()))
}

func parseID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return id, true
}
