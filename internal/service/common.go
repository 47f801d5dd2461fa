package service

import (
	"errors"
	"time"

	"Dollarchain/internal/apperr"
	"Dollarchain/internal/config"
	"Dollarchain/internal/repository"
	"Dollarchain/internal/scoring"
)

// PolicyFromConfig 按配置构建唯一的乘数策略，入金、排行、派奖、对账共用
func PolicyFromConfig(cfg *config.MultiplierConfig) (scoring.Policy, error) {
	tiers := make([]scoring.Tier, 0, len(cfg.Tiers))
	for _, t := range cfg.Tiers {
		tiers = append(tiers, scoring.Tier{MaxLength: t.MaxLength, Multiplier: t.Multiplier})
	}
	return scoring.NewPolicy(cfg.Policy, cfg.High, tiers)
}

// storeErr 统一转换仓储错误：业务错误原样返回，其余视为依赖不可用
func storeErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("%s: not found", op)
	}
	return apperr.Dependency(err, "%s", op)
}

func notFoundOr(err error, notFound error, op string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return storeErr(err, op)
}

// utcClock 时间列统一按 UTC 写入与比较
func utcClock(now func() time.Time) func() time.Time {
	if now == nil {
		now = time.Now
	}
	return func() time.Time { return now().UTC() }
}
