package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"Dollarchain/internal/app"
	"Dollarchain/internal/cache"
	"Dollarchain/internal/chain"
	"Dollarchain/internal/config"
	"Dollarchain/internal/model"
	"Dollarchain/internal/repository"
	"Dollarchain/internal/scoring"
	"Dollarchain/internal/service"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	cliApp := &cli.App{
		Name:  "dollarchain-ops",
		Usage: "对局运维：开局、结算、对账、派奖",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "./config", Usage: "config.yaml 所在目录"},
		},
		Commands: []*cli.Command{
			commandStartGame(),
			commandEndGame(),
			commandRecompute(),
			commandPayouts(),
			commandBonusRefunds(),
			commandMultipliers(),
		},
	}
	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type env struct {
	cfg     *config.Config
	logger  *logrus.Logger
	store   repository.Store
	scoring *service.ScoringService
	stats   *service.StatsService
	games   *service.GameService
	payouts *service.PayoutService
	closeFn func()
}

func (e *env) Close() {
	if e.closeFn != nil {
		e.closeFn()
	}
}

// setup 仅初始化数据库相关服务，不连接 NATS / RPC
func setup(c *cli.Context) (*env, error) {
	cfg, err := config.LoadConfigFrom(c.String("config"))
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(&cfg.Logging)
	db, err := app.OpenDatabase(&cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	policy, err := service.PolicyFromConfig(&cfg.Game.Multiplier)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, logger: logger, store: repository.NewStore(db)}
	var lc cache.Cache = cache.Noop{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		lc = cache.NewRedisCache(rdb, false)
		e.closeFn = func() { _ = rdb.Close() }
	}
	e.scoring = service.NewScoringService(e.store, policy, logger)
	e.stats = service.NewStatsService(e.store, policy, lc, cfg.Redis.LeaderboardTTL, logger)
	e.games = service.NewGameService(e.store, e.scoring, logger)
	e.payouts = service.NewPayoutService(e.store, cfg.Game.PayoutPrecision, logger)
	return e, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func gameIDFlag() cli.Flag {
	return &cli.Uint64Flag{Name: "game", Usage: "对局 ID，0 表示当前对局"}
}

func resolveGame(ctx context.Context, e *env, id uint64) (uint64, error) {
	if id != 0 {
		return id, nil
	}
	g, err := e.games.ActiveGame(ctx)
	if err != nil {
		return 0, err
	}
	return g.ID, nil
}

func commandStartGame() *cli.Command {
	return &cli.Command{
		Name:  "start-game",
		Usage: "开启新对局",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "duration", Usage: "对局时长，0 为不自动结束"},
			&cli.StringFlag{Name: "pot", Usage: "固定奖池金额，空为全部入金之和"},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()

			var endsAt *time.Time
			if d := c.Duration("duration"); d > 0 {
				t := time.Now().Add(d)
				endsAt = &t
			}
			var pot *decimal.Decimal
			if raw := c.String("pot"); raw != "" {
				p, err := decimal.NewFromString(raw)
				if err != nil {
					return fmt.Errorf("invalid pot %q: %w", raw, err)
				}
				pot = &p
			}
			game, err := e.games.StartGame(c.Context, endsAt, pot)
			if err != nil {
				return err
			}
			return printJSON(game)
		},
	}
}

func commandEndGame() *cli.Command {
	return &cli.Command{
		Name:  "end-game",
		Usage: "结束对局，确定获胜队伍与奖池",
		Flags: []cli.Flag{gameIDFlag()},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()
			gameID, err := resolveGame(c.Context, e, c.Uint64("game"))
			if err != nil {
				return err
			}
			res, err := e.games.EndGame(c.Context, gameID)
			if err != nil {
				return err
			}
			e.stats.InvalidateLeaderboard(c.Context, gameID)
			return printJSON(res)
		},
	}
}

func commandRecompute() *cli.Command {
	return &cli.Command{
		Name:  "recompute",
		Usage: "由账本重算一局全部队伍聚合",
		Flags: []cli.Flag{gameIDFlag()},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()
			gameID, err := resolveGame(c.Context, e, c.Uint64("game"))
			if err != nil {
				return err
			}
			scores, err := e.scoring.RecomputeGame(c.Context, gameID)
			if err != nil {
				return err
			}
			e.stats.InvalidateLeaderboard(c.Context, gameID)
			list := make([]scoring.TeamScore, 0, len(scores))
			for _, s := range scores {
				list = append(list, s)
			}
			scoring.SortLeaderboard(list)
			return printJSON(list)
		},
	}
}

func executeFlag() cli.Flag {
	return &cli.BoolFlag{Name: "execute", Usage: "落库后立即从金库发送链上转账"}
}

func execute(c *cli.Context, e *env, gameID uint64, kind string) error {
	if e.cfg.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url 未配置")
	}
	client, err := ethclient.DialContext(c.Context, e.cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer client.Close()
	sender, err := chain.NewTokenSender(client, &e.cfg.Chain, e.logger)
	if err != nil {
		return err
	}

	// 发送前确认金库余额足够覆盖全部待发金额
	outstanding, err := e.payouts.Outstanding(c.Context, gameID, kind)
	if err != nil {
		return err
	}
	balance, err := sender.TreasuryBalance(c.Context)
	if err != nil {
		return err
	}
	e.logger.WithFields(logrus.Fields{
		"treasury":    sender.From().Hex(),
		"balance":     balance.String(),
		"outstanding": outstanding.String(),
	}).Info("treasury pre-flight")
	if balance.LessThan(outstanding) {
		return fmt.Errorf("金库余额 %s 不足以支付 %s", balance.String(), outstanding.String())
	}

	summary, err := e.payouts.ExecutePayouts(c.Context, gameID, kind, sender)
	if summary != nil {
		_ = printJSON(summary)
	}
	return err
}

func commandPayouts() *cli.Command {
	return &cli.Command{
		Name:  "payouts",
		Usage: "计算并落库获胜队伍的奖池派奖",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "game", Required: true, Usage: "已结束的对局 ID"},
			executeFlag(),
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()
			gameID := c.Uint64("game")
			plan, created, err := e.payouts.PlanPayouts(c.Context, gameID)
			if err != nil {
				return err
			}
			e.logger.WithField("created", created).Info("payout plan saved")
			if err := printJSON(plan); err != nil {
				return err
			}
			if !c.Bool("execute") {
				return nil
			}
			return execute(c, e, gameID, model.PayoutKindPot)
		},
	}
}

func commandBonusRefunds() *cli.Command {
	return &cli.Command{
		Name:  "bonus-refunds",
		Usage: "按入金总额 * 倍数为每位参与者生成返还奖励",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "game", Required: true},
			&cli.StringFlag{Name: "multiplier", Required: true, Usage: "返还倍数，如 0.1"},
			executeFlag(),
		},
		Action: func(c *cli.Context) error {
			mult, err := decimal.NewFromString(c.String("multiplier"))
			if err != nil {
				return fmt.Errorf("invalid multiplier: %w", err)
			}
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.Close()
			gameID := c.Uint64("game")
			plan, _, err := e.payouts.PlanBonusRefunds(c.Context, gameID, mult)
			if err != nil {
				return err
			}
			if err := printJSON(plan); err != nil {
				return err
			}
			if !c.Bool("execute") {
				return nil
			}
			return execute(c, e, gameID, model.PayoutKindBonusRefund)
		},
	}
}

// commandMultipliers 不连数据库，按配置打印链长-乘数对照表
func commandMultipliers() *cli.Command {
	return &cli.Command{
		Name:  "multipliers",
		Usage: "打印当前策略下链长与乘数的对照表",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "max", Value: 20, Usage: "全局最长链长度"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfigFrom(c.String("config"))
			if err != nil {
				return err
			}
			policy, err := service.PolicyFromConfig(&cfg.Game.Multiplier)
			if err != nil {
				return err
			}
			maxLen := c.Int64("max")
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "policy\t%s\n", policy.Name())
			fmt.Fprintln(w, "chain_length\tmultiplier\tpoints_per_unit")
			for n := int64(1); n <= maxLen; n++ {
				m := policy.Multiplier(n, maxLen)
				fmt.Fprintf(w, "%d\t%.4f\t%s\n", n, m, scoring.Points(decimal.NewFromInt(1), m, nil).StringFixed(4))
			}
			return w.Flush()
		},
	}
}
