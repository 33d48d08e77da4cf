// Package feed 维护两条到 Polymarket 的 WebSocket 连接：
// market 频道（盘口快照 + best_bid_ask 增量）和 user 频道（本账户成交）。
// 所有消息在本包内翻译成 engine 事件后提交，下游不再碰原始 JSON。
package feed

import (
	"time"

	"github.com/betbot/laddermm/internal/engine"
)

const (
	wsMarketURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	wsUserURL   = "wss://ws-subscriptions-clob.polymarket.com/ws/user"

	// 重连设置
	defaultReconnectDelay    = 1 * time.Second
	defaultMaxReconnectDelay = 60 * time.Second

	// 官方文档：每 10 秒发送一次文本 "PING"
	defaultPingInterval = 10 * time.Second

	// 连接重试设置
	defaultMaxRetries = 3
)

// Sink 事件接收方（engine 的事件队列）
type Sink interface {
	Submit(ev engine.Event)
}

// Config WebSocket 连接配置
type Config struct {
	// 代理设置
	ProxyURL string // 代理 URL（可选）

	// 重连设置
	ReconnectEnabled     bool          // 是否启用自动重连
	ReconnectDelay       time.Duration // 重连延迟
	MaxReconnectDelay    time.Duration // 最大重连延迟
	MaxReconnectAttempts int           // 最大重连尝试次数

	// 心跳设置
	PingInterval time.Duration // Ping 间隔

	// 连接设置
	ReadBufferSize   int           // 读缓冲区大小
	WriteBufferSize  int           // 写缓冲区大小
	HandshakeTimeout time.Duration // 握手超时时间
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ReconnectEnabled:     true,
		ReconnectDelay:       defaultReconnectDelay,
		MaxReconnectDelay:    defaultMaxReconnectDelay,
		MaxReconnectAttempts: 0, // 0 = 不限次数，断线一直重连到窗口结束
		PingInterval:         defaultPingInterval,
		ReadBufferSize:       4096,
		WriteBufferSize:      4096,
		HandshakeTimeout:     15 * time.Second,
	}
}
