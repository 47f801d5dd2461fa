package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体（对应 config/config.yaml）
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Game     GameConfig     `mapstructure:"game"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Profile  HTTPAPIConfig  `mapstructure:"profile"` // Neynar 等用户资料接口
	Notify   HTTPAPIConfig  `mapstructure:"notify"`  // 推送通知接口
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Mode         string   `mapstructure:"mode"` // Gin运行模式：debug/release/test
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// DatabaseConfig PostgreSQL配置
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogSQL          bool          `mapstructure:"log_sql"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug/info/warn/error
	Format string `mapstructure:"format"` // json/text
}

// GameConfig 游戏规则配置
type GameConfig struct {
	DepositCooldown    time.Duration    `mapstructure:"deposit_cooldown"`      // 同一用户同一局两次入金的最小间隔
	MaxDepositsPerGame int64            `mapstructure:"max_deposits_per_game"` // 每用户每局入金次数上限
	DepositAmount      string           `mapstructure:"deposit_amount"`        // 单次入金金额（十进制字符串）
	RequireTransaction bool             `mapstructure:"require_transaction"`   // 入金是否必须附带链上交易哈希
	Multiplier         MultiplierConfig `mapstructure:"multiplier"`
	PayoutPrecision    int32            `mapstructure:"payout_precision"` // 派奖金额保留小数位
	ReconcileCron      string           `mapstructure:"reconcile_cron"`   // 聚合对账 Cron 表达式，空则不启动
	AutoEnd            bool             `mapstructure:"auto_end"`         // 到期自动结束对局
}

// MultiplierConfig 链长乘数策略配置
type MultiplierConfig struct {
	Policy string       `mapstructure:"policy"` // relative/tiered
	High   float64      `mapstructure:"high"`   // relative 策略最高乘数
	Tiers  []TierConfig `mapstructure:"tiers"`  // tiered 策略阶梯，空则使用默认阶梯
}

// TierConfig 单个阶梯：链长 <= MaxLength 时乘数为 Multiplier
type TierConfig struct {
	MaxLength  int64   `mapstructure:"max_length"`
	Multiplier float64 `mapstructure:"multiplier"`
}

// ChainConfig 链上配置
type ChainConfig struct {
	RPCURL                string        `mapstructure:"rpc_url"`
	TokenAddress          string        `mapstructure:"token_address"`    // 稳定币合约地址
	TreasuryAddress       string        `mapstructure:"treasury_address"` // 收款金库地址
	TokenDecimals         int32         `mapstructure:"token_decimals"`
	MinAmount             string        `mapstructure:"min_amount"` // Transfer 最小金额（十进制字符串）
	VerifyAttempts        int           `mapstructure:"verify_attempts"`
	VerifyBaseDelay       time.Duration `mapstructure:"verify_base_delay"`
	VerifyMaxDelay        time.Duration `mapstructure:"verify_max_delay"`
	TreasuryPrivateKey    string        `mapstructure:"treasury_private_key"` // 派奖转账私钥，仅从 env 注入
	PayoutGasLimit        uint64        `mapstructure:"payout_gas_limit"`
	PayoutConfirmAttempts int           `mapstructure:"payout_confirm_attempts"` // 派奖等待回执次数，退避间隔同 verify_*
}

// HTTPAPIConfig 外部 HTTP 接口配置
type HTTPAPIConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
	TargetURL  string        `mapstructure:"target_url"` // 通知点击跳转地址（仅 notify 使用）
}

// RedisConfig Redis 配置，Addr 为空时不启用缓存与限流
type RedisConfig struct {
	Addr                     string        `mapstructure:"addr"`
	Password                 string        `mapstructure:"password"`
	DB                       int           `mapstructure:"db"`
	LeaderboardTTL           time.Duration `mapstructure:"leaderboard_ttl"`
	DepositAttemptsPerMinute int           `mapstructure:"deposit_attempts_per_minute"`
}

// NATSConfig 事件总线配置，URL 为空时使用进程内分发
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Subject string `mapstructure:"subject"`
}

// LoadConfig 加载配置文件（config/config.yaml），敏感项从 .env 覆盖（不提交 git）
func LoadConfig() (*Config, error) {
	return LoadConfigFrom("./config")
}

// LoadConfigFrom 从指定目录加载 config.yaml；文件不存在时使用默认值
func LoadConfigFrom(dir string) (*Config, error) {
	_ = godotenv.Load() // .env 可不存在

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	overrideFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("game.deposit_cooldown", time.Hour)
	v.SetDefault("game.max_deposits_per_game", 48)
	v.SetDefault("game.deposit_amount", "1")
	v.SetDefault("game.require_transaction", true)
	v.SetDefault("game.multiplier.policy", "relative")
	v.SetDefault("game.multiplier.high", 5.0)
	v.SetDefault("game.payout_precision", 2)
	v.SetDefault("game.reconcile_cron", "@every 10m")
	v.SetDefault("game.auto_end", true)
	v.SetDefault("chain.token_decimals", 6)
	v.SetDefault("chain.min_amount", "1")
	v.SetDefault("chain.verify_attempts", 5)
	v.SetDefault("chain.verify_base_delay", 2*time.Second)
	v.SetDefault("chain.verify_max_delay", 15*time.Second)
	v.SetDefault("chain.payout_gas_limit", 100000)
	v.SetDefault("chain.payout_confirm_attempts", 10)
	v.SetDefault("profile.base_url", "https://api.neynar.com")
	v.SetDefault("profile.timeout", 5*time.Second)
	v.SetDefault("profile.retry_count", 2)
	v.SetDefault("notify.timeout", 5*time.Second)
	v.SetDefault("notify.retry_count", 1)
	v.SetDefault("redis.leaderboard_ttl", 30*time.Second)
	v.SetDefault("redis.deposit_attempts_per_minute", 10)
	v.SetDefault("nats.subject", "dollarchain.deposit.accepted")
}

// overrideFromEnv 用环境变量覆盖敏感配置
func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("CHAIN_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("TREASURY_PRIVATE_KEY"); v != "" {
		cfg.Chain.TreasuryPrivateKey = v
	}
	if v := os.Getenv("PROFILE_API_KEY"); v != "" {
		cfg.Profile.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("NATS_TOKEN"); v != "" {
		cfg.NATS.Token = v
	}
}

// Validate 校验规则配置
func (c *Config) Validate() error {
	switch strings.ToLower(c.Game.Multiplier.Policy) {
	case "relative":
		if c.Game.Multiplier.High < 1 {
			return fmt.Errorf("game.multiplier.high 必须 >= 1，当前 %v", c.Game.Multiplier.High)
		}
	case "tiered":
	default:
		return fmt.Errorf("未知的乘数策略: %q", c.Game.Multiplier.Policy)
	}
	if c.Game.MaxDepositsPerGame <= 0 {
		return fmt.Errorf("game.max_deposits_per_game 必须大于 0")
	}
	if c.Game.DepositCooldown < 0 {
		return fmt.Errorf("game.deposit_cooldown 不能为负")
	}
	if c.Chain.VerifyAttempts <= 0 {
		return fmt.Errorf("chain.verify_attempts 必须大于 0")
	}
	return nil
}
