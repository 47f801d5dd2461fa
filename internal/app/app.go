// Package app 组装配置、日志、数据库与各服务，供 HTTP 服务与运维命令共用
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"Dollarchain/internal/cache"
	"Dollarchain/internal/chain"
	"Dollarchain/internal/config"
	"Dollarchain/internal/events"
	"Dollarchain/internal/model"
	"Dollarchain/internal/notify"
	"Dollarchain/internal/profile"
	"Dollarchain/internal/repository"
	"Dollarchain/internal/service"

	"github.com/ethereum/go-ethereum/ethclient"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewLogger 按配置创建 logrus 日志器
func NewLogger(cfg *config.LoggingConfig) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	if strings.EqualFold(cfg.Format, "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}
	return l
}

// maintenanceDSN 把 URL 形式的 DSN 改指向 postgres 维护库；目标就是 postgres 时 ok 为 false
func maintenanceDSN(dsn string) (admin, dbname string, ok bool, err error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", "", false, fmt.Errorf("parse dsn: %w", err)
	}
	dbname = strings.TrimSpace(strings.TrimPrefix(u.Path, "/"))
	if dbname == "" || dbname == "postgres" {
		return "", dbname, false, nil
	}
	u.Path = "/postgres"
	return u.String(), dbname, true, nil
}

func createDatabase(ctx context.Context, dsn string, log *logrus.Logger) error {
	admin, dbname, ok, err := maintenanceDSN(dsn)
	if err != nil || !ok {
		return err
	}
	conn, err := sql.Open("pgx", admin)
	if err != nil {
		return err
	}
	defer conn.Close()

	var exists bool
	if err := conn.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", dbname).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return nil
	}
	if _, err := conn.ExecContext(ctx, `CREATE DATABASE "`+strings.ReplaceAll(dbname, `"`, `""`)+`"`); err != nil {
		return fmt.Errorf("create database %s: %w", dbname, err)
	}
	log.WithField("database", dbname).Info("已创建数据库")
	return nil
}

// OpenDatabase 连接 PostgreSQL（库不存在则先创建），配置连接池并迁移表结构
func OpenDatabase(cfg *config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, error) {
	level := logger.Warn
	if cfg.LogSQL {
		level = logger.Info
	}
	gormCfg := &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	if err != nil {
		if !strings.Contains(err.Error(), "does not exist") && !strings.Contains(err.Error(), "3D000") {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		e := createDatabase(ctx, cfg.DSN, log)
		cancel()
		if e != nil {
			return nil, e
		}
		if db, err = gorm.Open(postgres.Open(cfg.DSN), gormCfg); err != nil {
			return nil, err
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(
		&model.User{},
		&model.Game{},
		&model.Team{},
		&model.TeamMember{},
		&model.Deposit{},
		&model.Payout{},
	); err != nil {
		return nil, err
	}
	log.Info("数据库表结构检查完成")
	return db, nil
}

// Services 组装完成的服务
type Services struct {
	Store    repository.Store
	Scoring  *service.ScoringService
	Stats    *service.StatsService
	Deposits *service.DepositService
	Games    *service.GameService
	Teams    *service.TeamService
	Payouts  *service.PayoutService

	Limiter cache.Limiter
	Bus     events.Bus
	Eth     *ethclient.Client
	Redis   *redis.Client
}

// Close 释放外部连接
func (s *Services) Close() {
	if s.Bus != nil {
		_ = s.Bus.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.Eth != nil {
		s.Eth.Close()
	}
}

// Build 按配置组装全部服务。Redis、NATS、RPC 均为可选依赖
func Build(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logrus.Logger) (*Services, error) {
	policy, err := service.PolicyFromConfig(&cfg.Game.Multiplier)
	if err != nil {
		return nil, err
	}
	log.WithField("policy", policy.Name()).Info("乘数策略已加载")

	s := &Services{Store: repository.NewStore(db), Limiter: cache.NoLimit{}}

	var c cache.Cache = cache.Noop{}
	if cfg.Redis.Addr != "" {
		s.Redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := s.Redis.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("Redis 不可用，排行榜缓存与限流将失效直至恢复")
		}
		c = cache.NewRedisCache(s.Redis, true)
		s.Limiter = cache.NewRedisLimiter(s.Redis)
	}

	if cfg.NATS.URL != "" {
		bus, err := events.ConnectNats(&cfg.NATS, log)
		if err != nil {
			return nil, err
		}
		s.Bus = bus
	} else {
		s.Bus = events.NewLocalBus(256, log)
	}

	var verifier service.TransferVerifier
	if cfg.Chain.RPCURL != "" {
		s.Eth, err = ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			s.Close()
			return nil, err
		}
		v, err := chain.NewVerifier(s.Eth, &cfg.Chain, log)
		if err != nil {
			s.Close()
			return nil, err
		}
		verifier = v
	}

	s.Scoring = service.NewScoringService(s.Store, policy, log)
	s.Stats = service.NewStatsService(s.Store, policy, c, cfg.Redis.LeaderboardTTL, log)
	s.Deposits, err = service.NewDepositService(s.Store, &cfg.Game, s.Scoring, s.Stats, profile.NewClient(&cfg.Profile, log), verifier, s.Bus, log)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Games = service.NewGameService(s.Store, s.Scoring, log)
	s.Teams = service.NewTeamService(s.Store, log)
	s.Payouts = service.NewPayoutService(s.Store, cfg.Game.PayoutPrecision, log)
	return s, nil
}

// SubscribeNotifier 入金事件 → 同队成员推送
func (s *Services) SubscribeNotifier(cfg *config.HTTPAPIConfig, log *logrus.Logger) error {
	n := service.NewDepositNotifier(s.Store, notify.NewClient(cfg, log), cfg.TargetURL, log)
	return s.Bus.Subscribe(n.Handle)
}
