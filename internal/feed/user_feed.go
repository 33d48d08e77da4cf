package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/laddermm/clob/types"
	"github.com/betbot/laddermm/internal/domain"
	"github.com/betbot/laddermm/internal/engine"
)

// UserFeed 管理 user 频道连接（需要 API 凭证认证）。
// 只关心 MATCHED 状态的 trade 消息：MAKER 方向从 maker_orders
// 里按本账户地址找到自己的那条腿，TAKER 方向直接取顶层字段。
type UserFeed struct {
	// 连接相关
	conn      *websocket.Conn
	connMu    sync.Mutex
	url       string
	config    *Config
	creds     *types.ApiKeyCreds
	running   bool
	runningMu sync.RWMutex

	// 订阅管理
	markets map[string]bool // condition_id -> 是否已订阅
	subMu   sync.RWMutex

	// 本账户地址（小写），用于在 maker_orders 里认领自己的成交
	makerAddress string

	sink Sink
	log  *logrus.Entry

	// 生命周期管理
	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	doneCh chan struct{}

	// 重连状态
	reconnectAttempts int
	reconnectMu       sync.Mutex
}

// NewUserFeed 创建 user 频道客户端（尚未连接）
func NewUserFeed(sink Sink, creds *types.ApiKeyCreds, makerAddress string, config *Config) *UserFeed {
	if config == nil {
		config = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &UserFeed{
		url:          wsUserURL,
		config:       config,
		creds:        creds,
		markets:      make(map[string]bool),
		makerAddress: strings.ToLower(makerAddress),
		sink:         sink,
		log:          logrus.WithField("component", "user_feed"),
		ctx:          ctx,
		cancel:       cancel,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start 连接、认证并开始监听
func (c *UserFeed) Start(ctx context.Context) error {
	if c.creds == nil {
		return fmt.Errorf("user 频道需要 API 凭证")
	}

	c.runningMu.Lock()
	if c.running {
		c.runningMu.Unlock()
		return fmt.Errorf("user 频道客户端已在运行")
	}
	c.running = true
	c.runningMu.Unlock()

	if ctx != nil {
		c.ctx = ctx
	}

	if err := c.connect(); err != nil {
		c.runningMu.Lock()
		c.running = false
		c.runningMu.Unlock()
		return fmt.Errorf("初始连接失败: %w", err)
	}

	go c.readLoop()
	go c.pingLoop()

	c.log.Infof("✅ 已连接 user 频道: %s", c.url)
	return nil
}

// Stop 优雅地关闭连接
func (c *UserFeed) Stop() {
	c.runningMu.Lock()
	if !c.running {
		c.runningMu.Unlock()
		return
	}
	c.running = false
	c.runningMu.Unlock()

	c.cancel()
	close(c.stopCh)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	select {
	case <-c.doneCh:
	case <-time.After(5 * time.Second):
		c.log.Warn("关闭超时")
	}
	c.log.Info("user 频道已停止")
}

// SubscribeMarkets 订阅指定市场的用户活动（窗口切换时调用）
func (c *UserFeed) SubscribeMarkets(conditionIDs ...string) error {
	c.subMu.Lock()
	newSubs := make([]string, 0)
	for _, id := range conditionIDs {
		if !c.markets[id] {
			c.markets[id] = true
			newSubs = append(newSubs, id)
		}
	}
	c.subMu.Unlock()

	if len(newSubs) == 0 {
		return nil
	}
	return c.sendSubscription(newSubs)
}

// UnsubscribeMarkets 从订阅记录中移除市场。
// 场内不支持显式退订 user 频道，这里只维护重连时的订阅意图。
func (c *UserFeed) UnsubscribeMarkets(conditionIDs ...string) {
	c.subMu.Lock()
	for _, id := range conditionIDs {
		delete(c.markets, id)
	}
	c.subMu.Unlock()
}

// IsRunning 检查客户端是否正在运行
func (c *UserFeed) IsRunning() bool {
	c.runningMu.RLock()
	defer c.runningMu.RUnlock()
	return c.running
}

// connect 建立连接并发送认证消息
func (c *UserFeed) connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}

	dialer := websocket.Dialer{
		ReadBufferSize:   c.config.ReadBufferSize,
		WriteBufferSize:  c.config.WriteBufferSize,
		HandshakeTimeout: c.config.HandshakeTimeout,
	}

	if c.config.ProxyURL != "" {
		proxyURL, err := url.Parse(c.config.ProxyURL)
		if err != nil {
			return fmt.Errorf("无效的代理 URL: %w", err)
		}
		dialer.Proxy = http.ProxyURL(proxyURL)
	}

	var conn *websocket.Conn
	var err error
	for i := 0; i < defaultMaxRetries; i++ {
		conn, _, err = dialer.Dial(c.url, nil)
		if err == nil {
			break
		}
		if i < defaultMaxRetries-1 {
			c.log.Warnf("连接尝试 %d/%d 失败: %v, 重试中...", i+1, defaultMaxRetries, err)
			time.Sleep(time.Duration(i+1) * time.Second)
		}
	}
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}

	authMsg := map[string]interface{}{
		"auth": map[string]string{
			"apiKey":     c.creds.Key,
			"secret":     c.creds.Secret,
			"passphrase": c.creds.Passphrase,
		},
		"type": "USER",
	}
	if err := conn.WriteJSON(authMsg); err != nil {
		conn.Close()
		return fmt.Errorf("认证失败: %w", err)
	}

	c.conn = conn
	c.reconnectMu.Lock()
	c.reconnectAttempts = 0
	c.reconnectMu.Unlock()
	return nil
}

// sendSubscription 发送订阅消息（user 频道每条订阅都要附带凭证）
func (c *UserFeed) sendSubscription(conditionIDs []string) error {
	if len(conditionIDs) == 0 {
		return nil
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("未连接")
	}

	msg := map[string]interface{}{
		"auth": map[string]string{
			"apiKey":     c.creds.Key,
			"secret":     c.creds.Secret,
			"passphrase": c.creds.Passphrase,
		},
		"markets": conditionIDs,
		"type":    "USER",
	}
	return c.conn.WriteJSON(msg)
}

// resubscribe 重连后恢复订阅
func (c *UserFeed) resubscribe() error {
	c.subMu.RLock()
	conditionIDs := make([]string, 0, len(c.markets))
	for id := range c.markets {
		conditionIDs = append(conditionIDs, id)
	}
	c.subMu.RUnlock()

	if len(conditionIDs) == 0 {
		return nil
	}
	return c.sendSubscription(conditionIDs)
}

// readLoop 读取循环
func (c *UserFeed) readLoop() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		c.runningMu.RLock()
		running := c.running
		c.runningMu.RUnlock()
		if !running {
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if c.config.ReconnectEnabled {
				c.reconnect()
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		// gorilla/websocket 在连接内部已失败后重复 ReadMessage 会 panic，
		// 用 recovery 捕获并当作读取错误处理
		var message []byte
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.connMu.Lock()
					c.conn = nil
					c.connMu.Unlock()
					err = fmt.Errorf("panic during ReadMessage: %v", r)
				}
			}()
			_, message, err = conn.ReadMessage()
		}()

		if err != nil {
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.runningMu.RLock()
			running = c.running
			c.runningMu.RUnlock()
			if !running {
				return
			}
			c.log.Warnf("读取错误: %v, 重连中...", err)
			if c.config.ReconnectEnabled {
				c.reconnect()
			} else {
				time.Sleep(1 * time.Second)
			}
			continue
		}

		if message != nil {
			c.handleMessage(message)
		}
	}
}

// pingLoop 心跳循环
func (c *UserFeed) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.runningMu.RLock()
			running := c.running
			c.runningMu.RUnlock()
			if !running {
				return
			}

			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()
			if conn == nil {
				continue
			}

			if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				c.log.Warnf("PING 发送失败: %v", err)
				if c.config.ReconnectEnabled {
					c.reconnect()
				}
			}
		}
	}
}

// reconnect 重连并恢复订阅
func (c *UserFeed) reconnect() {
	c.reconnectMu.Lock()
	c.reconnectAttempts++
	attempts := c.reconnectAttempts
	c.reconnectMu.Unlock()

	if c.config.MaxReconnectAttempts > 0 && attempts > c.config.MaxReconnectAttempts {
		c.log.Errorf("达到最大重连次数 (%d)", c.config.MaxReconnectAttempts)
		return
	}

	delay := c.config.ReconnectDelay * time.Duration(attempts)
	if delay > c.config.MaxReconnectDelay {
		delay = c.config.MaxReconnectDelay
	}
	c.log.Infof("%v 后重连 (尝试 %d)...", delay, attempts)

	select {
	case <-c.ctx.Done():
		return
	case <-c.stopCh:
		return
	case <-time.After(delay):
	}

	if err := c.connect(); err != nil {
		c.log.Warnf("重连失败: %v", err)
		return
	}
	if err := c.resubscribe(); err != nil {
		c.log.Warnf("重新订阅失败: %v", err)
	}
	c.log.Info("✅ user 频道重连成功")
}

// wsMakerOrder trade 消息中的 maker 腿
type wsMakerOrder struct {
	OrderID       string `json:"order_id"`
	MakerAddress  string `json:"maker_address"`
	AssetID       string `json:"asset_id"`
	Price         string `json:"price"`
	MatchedAmount string `json:"matched_amount"`
}

// wsTradeMsg user 频道的 trade 消息
type wsTradeMsg struct {
	EventType    string         `json:"event_type"`
	Status       string         `json:"status"`
	TraderSide   string         `json:"trader_side"`
	Price        string         `json:"price"`
	Size         string         `json:"size"`
	AssetID      string         `json:"asset_id"`
	TakerOrderID string         `json:"taker_order_id"`
	Market       string         `json:"market"`
	Timestamp    string         `json:"timestamp"`
	MakerOrders  []wsMakerOrder `json:"maker_orders"`
}

// handleMessage 解析单条消息；命中的成交翻译成 FillBatchEvent 提交
func (c *UserFeed) handleMessage(data []byte) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return
	}

	// 纯文本心跳响应
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return
	}

	var msg wsTradeMsg
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		c.log.Warnf("解析用户消息失败: %v", err)
		return
	}

	fill, ok := c.translateTrade(&msg)
	if !ok {
		return
	}

	c.log.Infof("成交 %s %s @ %d asset=%s…", msg.TraderSide,
		fill.Size, fill.PriceTicks, shortID(fill.AssetID))
	c.sink.Submit(engine.FillBatchEvent{Fills: []domain.FillEvent{fill}})
}

// translateTrade 把 trade 消息翻译成成交事件。
// 同一笔撮合会以 MATCHED/MINED/CONFIRMED 推送多次，只认第一次 MATCHED，
// 否则同一笔成交会被记账多次。
func (c *UserFeed) translateTrade(msg *wsTradeMsg) (domain.FillEvent, bool) {
	if msg.EventType != "trade" || msg.Status != "MATCHED" {
		return domain.FillEvent{}, false
	}

	var orderID, assetID, price, size string
	switch msg.TraderSide {
	case "TAKER":
		// 自己的单子吃掉了对手盘
		orderID = msg.TakerOrderID
		assetID = msg.AssetID
		price = msg.Price
		size = msg.Size
	case "MAKER":
		// 挂单被动成交：在 maker_orders 里找本账户的那条腿
		found := false
		for _, maker := range msg.MakerOrders {
			if strings.ToLower(maker.MakerAddress) == c.makerAddress {
				orderID = maker.OrderID
				assetID = maker.AssetID
				price = maker.Price
				size = maker.MatchedAmount
				found = true
				break
			}
		}
		if !found {
			return domain.FillEvent{}, false
		}
	default:
		return domain.FillEvent{}, false
	}

	ticks, err := domain.DecimalToTicks(price)
	if err != nil {
		c.log.Warnf("解析成交价格失败 %q: %v", price, err)
		return domain.FillEvent{}, false
	}
	qty, err := decimal.NewFromString(size)
	if err != nil || qty.Sign() <= 0 {
		c.log.Warnf("解析成交数量失败 %q: %v", size, err)
		return domain.FillEvent{}, false
	}

	return domain.FillEvent{
		OrderID:    orderID,
		AssetID:    assetID,
		PriceTicks: ticks,
		Size:       qty,
		IsMaker:    msg.TraderSide == "MAKER",
		TS:         wsTimestamp(msg.Timestamp),
	}, true
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
