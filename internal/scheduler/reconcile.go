package scheduler

import (
	"context"
	"errors"
	"time"

	"Dollarchain/internal/apperr"
	"Dollarchain/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Reconciler 定时任务：到期对局自动结束、重算当前对局的队伍聚合以纠正缓存漂移
type Reconciler struct {
	cron    *cron.Cron
	spec    string
	games   *service.GameService
	scoring *service.ScoringService
	stats   *service.StatsService
	autoEnd bool
	timeout time.Duration
	logger  *logrus.Logger
}

// NewReconciler 创建定时任务；spec 为 cron 表达式（支持 @every 10m）
func NewReconciler(spec string, autoEnd bool, games *service.GameService, scoringSvc *service.ScoringService, stats *service.StatsService, logger *logrus.Logger) *Reconciler {
	return &Reconciler{
		cron:    cron.New(),
		spec:    spec,
		games:   games,
		scoring: scoringSvc,
		stats:   stats,
		autoEnd: autoEnd,
		timeout: 2 * time.Minute,
		logger:  logger,
	}
}

// Start 注册并启动任务
func (r *Reconciler) Start() error {
	if _, err := r.cron.AddFunc(r.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		r.RunOnce(ctx)
	}); err != nil {
		return err
	}
	r.cron.Start()
	r.logger.WithField("spec", r.spec).Info("reconcile scheduler started")
	return nil
}

// Stop 等待正在执行的任务结束
func (r *Reconciler) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("reconcile scheduler stopped")
}

// RunOnce 执行一轮：先结束到期对局，再重算仍在进行的对局
func (r *Reconciler) RunOnce(ctx context.Context) {
	if r.autoEnd {
		ended, err := r.games.EndExpired(ctx)
		if err != nil {
			r.logger.WithError(err).Error("end expired games failed")
		}
		for _, res := range ended {
			r.stats.InvalidateLeaderboard(ctx, res.GameID)
		}
	}

	game, err := r.games.ActiveGame(ctx)
	if err != nil {
		if apperr.ReasonOf(err) != apperr.ReasonNoActiveGame {
			r.logger.WithError(err).Error("load active game for reconcile failed")
		}
		return
	}
	start := time.Now()
	scores, err := r.scoring.RecomputeGame(ctx, game.ID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.WithError(err).WithField("game_id", game.ID).Error("reconcile game failed")
		}
		return
	}
	r.stats.InvalidateLeaderboard(ctx, game.ID)
	r.logger.WithFields(logrus.Fields{
		"game_id":  game.ID,
		"teams":    len(scores),
		"duration": time.Since(start).String(),
	}).Info("game aggregates reconciled")
}
