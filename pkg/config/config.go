// Package config 加载运行配置。
// 优先级：默认值 < YAML 配置文件 < 环境变量（密钥类只认环境变量覆盖）。
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// WalletConfig 钱包配置。私钥与助记词二选一，助记词按标准路径派生。
type WalletConfig struct {
	PrivateKey    string `yaml:"private_key"`
	Mnemonic      string `yaml:"mnemonic"`
	FunderAddress string `yaml:"funder_address"` // Polymarket 代理钱包地址，空则用 EOA 下单
	SignatureType string `yaml:"signature_type"` // eoa / magic / gnosis-safe
}

// MarketConfig 市场规格
type MarketConfig struct {
	Symbol    string `yaml:"symbol"`    // 默认 btc
	Timeframe string `yaml:"timeframe"` // 默认 15m
}

// StrategyConfig 阶梯做市参数（价格单位 ticks，1.00 = 1000）
type StrategyConfig struct {
	BaseSize     float64 `yaml:"base_size"`      // 每档基准数量（shares）
	Gamma        float64 `yaml:"gamma"`          // 库存偏移系数
	LadderDepth  int     `yaml:"ladder_depth"`   // 阶梯档数
	MinOrderSize float64 `yaml:"min_order_size"` // 场内最小下单量
	MaxPosition  float64 `yaml:"max_position"`   // 单侧净持仓硬上限
}

// RiskConfig 风控阈值（美元）
type RiskConfig struct {
	ProfitLockMinUSD float64 `yaml:"profit_lock_min_usd"`
	CircuitBreakUSD  float64 `yaml:"circuit_break_usd"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	ByCycle bool   `yaml:"by_cycle"`
}

// Config 应用配置
type Config struct {
	Wallet   WalletConfig   `yaml:"wallet"`
	Market   MarketConfig   `yaml:"market"`
	Strategy StrategyConfig `yaml:"strategy"`
	Risk     RiskConfig     `yaml:"risk"`
	Log      LogConfig      `yaml:"log"`

	ClobHost        string `yaml:"clob_host"`
	ChainID         int    `yaml:"chain_id"`
	ProxyURL        string `yaml:"proxy_url"`
	SyncIntervalSec int    `yaml:"sync_interval_sec"` // 持仓对账周期（秒）
	RecorderPath    string `yaml:"recorder_path"`     // sqlite 路径，空 = 不记录
	CredCachePath   string `yaml:"cred_cache_path"`   // API 凭证缓存（badger），空 = 每次启动重新推导

	SkipFirstWindow bool `yaml:"skip_first_window"` // 跳过启动时进行中的窗口
	DryRun          bool `yaml:"dry_run"`           // 纸交易：不发真实订单
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Market: MarketConfig{Symbol: "btc", Timeframe: "15m"},
		Strategy: StrategyConfig{
			BaseSize:     10,
			Gamma:        0.001,
			LadderDepth:  5,
			MinOrderSize: 5,
			MaxPosition:  75,
		},
		Risk: RiskConfig{
			ProfitLockMinUSD: 10,
			CircuitBreakUSD:  100,
		},
		Log: LogConfig{
			Level:   "info",
			File:    "logs/combined.log",
			ByCycle: true,
		},
		ClobHost:        "https://clob.polymarket.com",
		ChainID:         137,
		SyncIntervalSec: 15,
		RecorderPath:    "data/trades.db",
		CredCachePath:   "data/creds",
		SkipFirstWindow: true,
	}
}

// Load 加载配置：默认值 → YAML（路径为空则跳过）→ 环境变量
func Load(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败 %s: %w", filePath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败 %s: %w", filePath, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 环境变量覆盖（钱包密钥只从环境变量读取更安全）
func (c *Config) applyEnv() {
	c.Wallet.PrivateKey = getEnv("POLYMARKET_PRIVATE_KEY", c.Wallet.PrivateKey)
	c.Wallet.Mnemonic = getEnv("POLYMARKET_MNEMONIC", c.Wallet.Mnemonic)
	c.Wallet.FunderAddress = getEnv("POLYMARKET_PROXY_WALLET", c.Wallet.FunderAddress)
	c.Wallet.SignatureType = getEnv("POLYMARKET_SIGNATURE_TYPE", c.Wallet.SignatureType)

	c.ClobHost = getEnv("CLOB_HOST", c.ClobHost)
	c.ChainID = parseIntEnv("CHAIN_ID", c.ChainID)
	c.ProxyURL = getEnv("PROXY_URL", c.ProxyURL)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)

	c.Strategy.BaseSize = parseFloatEnv("STRATEGY_BASE_SIZE", c.Strategy.BaseSize)
	c.Strategy.Gamma = parseFloatEnv("STRATEGY_GAMMA", c.Strategy.Gamma)
	c.Strategy.MinOrderSize = parseFloatEnv("STRATEGY_MIN_ORDER_SIZE", c.Strategy.MinOrderSize)
	c.Strategy.MaxPosition = parseFloatEnv("STRATEGY_MAX_POSITION", c.Strategy.MaxPosition)

	c.Risk.ProfitLockMinUSD = parseFloatEnv("RISK_PROFIT_LOCK_MIN_USD", c.Risk.ProfitLockMinUSD)
	c.Risk.CircuitBreakUSD = parseFloatEnv("RISK_CIRCUIT_BREAK_USD", c.Risk.CircuitBreakUSD)

	c.SyncIntervalSec = parseIntEnv("SYNC_INTERVAL_SEC", c.SyncIntervalSec)
	c.DryRun = parseBoolEnv("DRY_RUN", c.DryRun)
}

// Validate 校验配置
func (c *Config) Validate() error {
	if !c.DryRun && c.Wallet.PrivateKey == "" && c.Wallet.Mnemonic == "" {
		return fmt.Errorf("实盘模式需要 POLYMARKET_PRIVATE_KEY 或 POLYMARKET_MNEMONIC")
	}
	if c.Strategy.BaseSize <= 0 {
		return fmt.Errorf("base_size 必须为正: %f", c.Strategy.BaseSize)
	}
	if c.Strategy.LadderDepth <= 0 {
		return fmt.Errorf("ladder_depth 必须为正: %d", c.Strategy.LadderDepth)
	}
	if c.Strategy.MaxPosition <= 0 {
		return fmt.Errorf("max_position 必须为正: %f", c.Strategy.MaxPosition)
	}
	if c.Risk.CircuitBreakUSD <= 0 {
		return fmt.Errorf("circuit_break_usd 必须为正: %f", c.Risk.CircuitBreakUSD)
	}
	if c.SyncIntervalSec <= 0 {
		return fmt.Errorf("sync_interval_sec 必须为正: %d", c.SyncIntervalSec)
	}
	switch c.Wallet.SignatureType {
	case "", "eoa", "magic", "gnosis-safe":
	default:
		return fmt.Errorf("不支持的 signature_type: %q", c.Wallet.SignatureType)
	}
	return nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
