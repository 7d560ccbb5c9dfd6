// internal/service/config.go
package service

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Market 区分现货和合约引擎
type Market string

const (
	MarketSpot    Market = "spot"
	MarketFutures Market = "futures"
)

// MasterConfig 主账户凭证
type MasterConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// FollowerConfig 单个跟单账户的配置
type FollowerConfig struct {
	Name      string  `mapstructure:"name"`
	APIKey    string  `mapstructure:"api_key"`
	APISecret string  `mapstructure:"api_secret"`
	Scale     float64 `mapstructure:"scale"`   // 数量缩放因子，跟单数量 = 主单数量 × Scale
	Enabled   bool    `mapstructure:"enabled"`
}

// TradingConfig 交易设置（含合约专用字段）
type TradingConfig struct {
	FollowerOrderType string   `mapstructure:"follower_order_type"` // MARKET 或 LIMIT
	MinOrderQuantity  float64  `mapstructure:"min_order_quantity"`
	MaxOrderQuantity  float64  `mapstructure:"max_order_quantity"`
	AllowedSymbols    []string `mapstructure:"allowed_symbols"`  // 非空时为白名单
	ExcludedSymbols   []string `mapstructure:"excluded_symbols"` // 黑名单优先

	// 合约专用
	Leverage        int            `mapstructure:"leverage"`
	MarginType      string         `mapstructure:"margin_type"`   // ISOLATED 或 CROSSED
	PositionMode    string         `mapstructure:"position_mode"` // one_way 或 hedge
	AutoSetLeverage bool           `mapstructure:"auto_set_leverage"`
	SymbolLeverage  map[string]int `mapstructure:"symbol_leverage"` // 按交易对覆盖杠杆
}

// WebSocketConfig 重连与 listenKey 保活设置
type WebSocketConfig struct {
	ReconnectEnabled     bool `mapstructure:"reconnect_enabled"`
	ReconnectDelay       int  `mapstructure:"reconnect_delay"` // 秒
	MaxReconnectAttempts int  `mapstructure:"max_reconnect_attempts"`
	KeepaliveInterval    int  `mapstructure:"keepalive_interval"` // 秒
}

// LoggingConfig 日志输出设置
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	File          string `mapstructure:"file"` // 为空时只输出到控制台
	ConsoleOutput bool   `mapstructure:"console_output"`
}

// RiskManagementConfig 风控阈值（由核心之外的协作方消费）
type RiskManagementConfig struct {
	Enabled                   bool    `mapstructure:"enabled"`
	MaxDailyTrades            int     `mapstructure:"max_daily_trades"`
	MaxDailyLossPercentage    float64 `mapstructure:"max_daily_loss_percentage"`
	MaxPositionSizePercentage float64 `mapstructure:"max_position_size_percentage"`
	MinBalanceRequired        float64 `mapstructure:"min_balance_required"`
	EmergencyStopPercentage   float64 `mapstructure:"emergency_stop_percentage"`
}

// Config 全量配置
type Config struct {
	Market         Market               `mapstructure:"market"`
	BaseURL        string               `mapstructure:"base_url"`
	Master         MasterConfig         `mapstructure:"master"`
	Followers      []FollowerConfig     `mapstructure:"followers"`
	Trading        TradingConfig        `mapstructure:"trading"`
	WebSocket      WebSocketConfig      `mapstructure:"websocket"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	RiskManagement RiskManagementConfig `mapstructure:"risk_management"`
}

// LoadConfig 读取并解析 YAML 配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 默认值
	v.SetDefault("market", string(MarketSpot))
	v.SetDefault("trading.follower_order_type", "MARKET")
	v.SetDefault("trading.min_order_quantity", 0.001)
	v.SetDefault("trading.max_order_quantity", 1000.0)
	v.SetDefault("trading.leverage", 10)
	v.SetDefault("trading.margin_type", "CROSSED")
	v.SetDefault("trading.position_mode", "one_way")
	v.SetDefault("trading.auto_set_leverage", true)
	v.SetDefault("websocket.reconnect_enabled", true)
	v.SetDefault("websocket.reconnect_delay", 5)
	v.SetDefault("websocket.max_reconnect_attempts", 10)
	v.SetDefault("websocket.keepalive_interval", 1800)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console_output", true)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// 占位凭证，直接来自示例配置文件
var placeholderKeys = map[string]bool{
	"YOUR_MASTER_API_KEY":    true,
	"YOUR_FOLLOWER1_API_KEY": true,
	"YOUR_FOLLOWER2_API_KEY": true,
}

// Validate 在引擎启动之前做致命性检查
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.Market != MarketSpot && c.Market != MarketFutures {
		return fmt.Errorf("market must be %q or %q, got %q", MarketSpot, MarketFutures, c.Market)
	}
	if c.Master.APIKey == "" || placeholderKeys[c.Master.APIKey] {
		return fmt.Errorf("master API key is not configured")
	}

	enabled := c.EnabledFollowers()
	if len(enabled) == 0 {
		return fmt.Errorf("no follower accounts are enabled")
	}
	seen := make(map[string]bool, len(enabled))
	for _, f := range enabled {
		if f.Name == "" {
			return fmt.Errorf("follower name is required")
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate follower name: %s", f.Name)
		}
		seen[f.Name] = true
		if f.APIKey == "" || placeholderKeys[f.APIKey] {
			return fmt.Errorf("follower %q API key is not configured", f.Name)
		}
		if f.Scale <= 0 {
			return fmt.Errorf("follower %q scale must be positive, got %v", f.Name, f.Scale)
		}
	}

	switch strings.ToUpper(c.Trading.FollowerOrderType) {
	case "MARKET", "LIMIT":
	default:
		return fmt.Errorf("follower_order_type must be MARKET or LIMIT, got %q", c.Trading.FollowerOrderType)
	}
	if c.Trading.MinOrderQuantity < 0 {
		return fmt.Errorf("min_order_quantity must not be negative")
	}
	if c.Trading.MaxOrderQuantity <= 0 || c.Trading.MaxOrderQuantity < c.Trading.MinOrderQuantity {
		return fmt.Errorf("max_order_quantity must be positive and >= min_order_quantity")
	}

	if c.Market == MarketFutures {
		if c.Trading.Leverage < 1 || c.Trading.Leverage > 125 {
			return fmt.Errorf("leverage must be within [1, 125], got %d", c.Trading.Leverage)
		}
		switch strings.ToUpper(c.Trading.MarginType) {
		case "ISOLATED", "CROSSED":
		default:
			return fmt.Errorf("margin_type must be ISOLATED or CROSSED, got %q", c.Trading.MarginType)
		}
		switch c.Trading.PositionMode {
		case "one_way", "hedge":
		default:
			return fmt.Errorf("position_mode must be one_way or hedge, got %q", c.Trading.PositionMode)
		}
		for symbol, lev := range c.Trading.SymbolLeverage {
			if lev < 1 || lev > 125 {
				return fmt.Errorf("symbol_leverage[%s] must be within [1, 125], got %d", symbol, lev)
			}
		}
	}
	return nil
}

// EnabledFollowers 返回启用的跟单账户列表
func (c *Config) EnabledFollowers() []FollowerConfig {
	var out []FollowerConfig
	for _, f := range c.Followers {
		if f.Enabled {
			out = append(out, f)
		}
	}
	return out
}

// IsTestnet 根据 base_url 判断是否为测试网环境
func (c *Config) IsTestnet() bool {
	return strings.Contains(c.BaseURL, "testnet")
}
