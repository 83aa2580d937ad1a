package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 结构体定义了应用程序的所有配置项
// 它与 config.yaml 文件的结构完全对应
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Chain       ChainConfig       `mapstructure:"chain"`
	Faucet      FaucetConfig      `mapstructure:"faucet"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
	Log         LogConfig         `mapstructure:"log"`
}

// ServerConfig 定义了服务器相关的配置
type ServerConfig struct {
	Mode    string     `mapstructure:"mode"`
	Address string     `mapstructure:"address"`
	Cors    CorsConfig `mapstructure:"cors"`
}

// CorsConfig 定义了CORS相关的配置
type CorsConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// DatabaseConfig 定义了数据库和缓存相关的配置
type DatabaseConfig struct {
	// Driver 为 sqlite 或 postgres
	Driver string      `mapstructure:"driver"`
	DSN    string      `mapstructure:"dsn"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig 定义了Redis的配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ChainMode 决定链上协作者的实现
type ChainMode string

const (
	// ChainModeSimulated 是显式的演示模式，不连接任何节点
	ChainModeSimulated ChainMode = "simulated"
	// ChainModeRelay 通过HTTP中继服务提交交易
	ChainModeRelay ChainMode = "relay"
)

// ChainConfig 定义了链上协作者的配置
type ChainConfig struct {
	Mode              ChainMode     `mapstructure:"mode"`
	RelayURL          string        `mapstructure:"relayURL"`
	Timeout           time.Duration `mapstructure:"timeout"`
	SimulatedCooldown time.Duration `mapstructure:"simulatedCooldown"`
}

// FaucetConfig 定义了水龙头领取的配置
type FaucetConfig struct {
	// Amount 使用字符串，避免浮点误差
	Amount   string        `mapstructure:"amount"`
	Cooldown time.Duration `mapstructure:"cooldown"`
	// Limiter 为 memory 或 redis
	Limiter string `mapstructure:"limiter"`
	// KeyBy 为 address 或 ip，决定本地限流按什么身份计数
	KeyBy string `mapstructure:"keyBy"`
}

// LeaderboardConfig 定义了排行榜缓存的配置
type LeaderboardConfig struct {
	CacheTTL time.Duration `mapstructure:"cacheTTL"`
}

// LogConfig 定义了日志配置
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// FaucetAmount 返回解析后的水龙头金额
func (c FaucetConfig) FaucetAmount() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Amount)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.cors.allowedOrigins", []string{"http://localhost:3000"})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "trivia.db")
	v.SetDefault("database.redis.enabled", false)
	v.SetDefault("database.redis.address", "localhost:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)
	v.SetDefault("chain.mode", string(ChainModeSimulated))
	v.SetDefault("chain.relayURL", "")
	v.SetDefault("chain.timeout", 30*time.Second)
	v.SetDefault("chain.simulatedCooldown", 4*time.Hour)
	v.SetDefault("faucet.amount", "10")
	v.SetDefault("faucet.cooldown", 4*time.Hour)
	v.SetDefault("faucet.limiter", "memory")
	v.SetDefault("faucet.keyBy", "address")
	v.SetDefault("leaderboard.cacheTTL", 30*time.Second)
	v.SetDefault("log.level", "info")
}

// LoadConfig 函数负责查找、加载和解析配置文件
// 找不到 config.yaml 时使用默认值和环境变量
func LoadConfig() (*Config, error) {
	// .env 可选，缺失不报错
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	// 允许通过环境变量覆盖配置，例如 DATABASE_DRIVER=postgres
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置之间的约束
func (c *Config) Validate() error {
	switch c.Server.Mode {
	case "", "debug", "release", "test":
	default:
		return fmt.Errorf("不支持的服务器模式: %q", c.Server.Mode)
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("不支持的数据库驱动: %q", c.Database.Driver)
	}

	switch c.Chain.Mode {
	case ChainModeSimulated:
	case ChainModeRelay:
		if strings.TrimSpace(c.Chain.RelayURL) == "" {
			return errors.New("chain.mode=relay 时必须设置 chain.relayURL")
		}
	default:
		return fmt.Errorf("不支持的链模式: %q", c.Chain.Mode)
	}
	if c.Chain.Timeout <= 0 {
		return errors.New("chain.timeout 必须为正数")
	}

	amount, err := c.Faucet.FaucetAmount()
	if err != nil {
		return fmt.Errorf("faucet.amount 无效: %w", err)
	}
	if !amount.IsPositive() {
		return errors.New("faucet.amount 必须为正数")
	}
	if c.Faucet.Cooldown <= 0 {
		return errors.New("faucet.cooldown 必须为正数")
	}

	switch c.Faucet.Limiter {
	case "memory":
	case "redis":
		if !c.Database.Redis.Enabled {
			return errors.New("faucet.limiter=redis 需要启用 database.redis")
		}
	default:
		return fmt.Errorf("不支持的限流实现: %q", c.Faucet.Limiter)
	}

	switch c.Faucet.KeyBy {
	case "", "address", "ip":
	default:
		return fmt.Errorf("不支持的限流身份: %q", c.Faucet.KeyBy)
	}
	return nil
}
