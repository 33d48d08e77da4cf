package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/laddermm/internal/domain"
	"github.com/betbot/laddermm/internal/engine"
)

// MarketFeed 管理 market 频道连接。
// 订阅带 custom_feature_enabled 时，订阅后的第一帧是两侧订单簿快照
// （数组，最优档在末尾），之后只推 best_bid_ask 增量。
type MarketFeed struct {
	// 连接相关
	conn      *websocket.Conn
	connMu    sync.Mutex
	url       string
	config    *Config
	running   bool
	runningMu sync.RWMutex

	// 订阅管理
	assetIDs []string
	gotBooks bool // 本轮订阅是否已收到初始快照帧
	subMu    sync.RWMutex

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

// NewMarketFeed 创建 market 频道客户端（尚未连接）
func NewMarketFeed(sink Sink, config *Config) *MarketFeed {
	if config == nil {
		config = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MarketFeed{
		url:    wsMarketURL,
		config: config,
		sink:   sink,
		log:    logrus.WithField("component", "market_feed"),
		ctx:    ctx,
		cancel: cancel,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start 连接并开始监听。assetIDs 为当前窗口的 YES/NO token id。
func (c *MarketFeed) Start(ctx context.Context, assetIDs []string) error {
	c.runningMu.Lock()
	if c.running {
		c.runningMu.Unlock()
		return fmt.Errorf("market 频道客户端已在运行")
	}
	c.running = true
	c.runningMu.Unlock()

	if ctx != nil {
		c.ctx = ctx
	}

	c.subMu.Lock()
	c.assetIDs = append([]string(nil), assetIDs...)
	c.gotBooks = false
	c.subMu.Unlock()

	if err := c.connect(); err != nil {
		c.runningMu.Lock()
		c.running = false
		c.runningMu.Unlock()
		return fmt.Errorf("初始连接失败: %w", err)
	}

	go c.readLoop()
	go c.pingLoop()

	c.log.Infof("✅ 已连接 market 频道: %s", c.url)
	return nil
}

// Stop 优雅地关闭连接
func (c *MarketFeed) Stop() {
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
	c.log.Info("market 频道已停止")
}

// Switch 窗口切换：退订旧 token、订阅新 token，并重置快照状态。
// 调用方负责先提交 WindowRollEvent 清空下游状态。
func (c *MarketFeed) Switch(assetIDs []string) error {
	c.subMu.Lock()
	oldIDs := c.assetIDs
	c.assetIDs = append([]string(nil), assetIDs...)
	c.gotBooks = false
	c.subMu.Unlock()

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		// 断线中：重连后的 resubscribe 会用新 token
		return nil
	}

	if len(oldIDs) > 0 {
		unsub := map[string]interface{}{
			"assets_ids": oldIDs,
			"operation":  "unsubscribe",
		}
		if err := c.conn.WriteJSON(unsub); err != nil {
			return fmt.Errorf("退订失败: %w", err)
		}
	}
	if err := c.writeSubscribe(c.conn, assetIDs); err != nil {
		return err
	}
	c.log.Infof("✅ 已切换订阅到 %d 个资产", len(assetIDs))
	return nil
}

// IsRunning 检查客户端是否正在运行
func (c *MarketFeed) IsRunning() bool {
	c.runningMu.RLock()
	defer c.runningMu.RUnlock()
	return c.running
}

// connect 建立连接并发送订阅
func (c *MarketFeed) connect() error {
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
		c.log.Infof("使用代理: %s", c.config.ProxyURL)
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

	c.subMu.Lock()
	assetIDs := append([]string(nil), c.assetIDs...)
	c.gotBooks = false
	c.subMu.Unlock()

	if len(assetIDs) > 0 {
		if err := c.writeSubscribe(conn, assetIDs); err != nil {
			conn.Close()
			return err
		}
	}

	c.conn = conn
	c.reconnectMu.Lock()
	c.reconnectAttempts = 0
	c.reconnectMu.Unlock()
	return nil
}

// writeSubscribe 发送订阅帧；custom_feature_enabled 打开 best_bid_ask 推送
func (c *MarketFeed) writeSubscribe(conn *websocket.Conn, assetIDs []string) error {
	msg := map[string]interface{}{
		"assets_ids":             assetIDs,
		"operation":              "subscribe",
		"custom_feature_enabled": true,
	}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("订阅失败: %w", err)
	}
	return nil
}

// readLoop 读取循环
func (c *MarketFeed) readLoop() {
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

		// 不设置 SetReadDeadline：用 PING/PONG 探活，
		// 连接断开时 ReadMessage 返回错误，由下面的分支清理并重连
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()

			// 断线期间盘口不可信，先让下游失去 synced 状态
			c.sink.Submit(engine.DesyncEvent{})

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

		c.handleMessage(message)
	}
}

// pingLoop 心跳循环，定期发送文本 "PING"
func (c *MarketFeed) pingLoop() {
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

// reconnect 重连逻辑（延迟随尝试次数线性增长，封顶 MaxReconnectDelay）
func (c *MarketFeed) reconnect() {
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
	// connect 已用当前 assetIDs 重新订阅，快照帧会重新到达
	c.log.Info("✅ 重连成功，等待新快照")
}

// wsBookLevel 盘口单档（场内价格/数量都是十进制字符串）
type wsBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// wsBookMsg 订单簿快照消息
type wsBookMsg struct {
	EventType string        `json:"event_type"`
	AssetID   string        `json:"asset_id"`
	Bids      []wsBookLevel `json:"bids"`
	Asks      []wsBookLevel `json:"asks"`
	Timestamp string        `json:"timestamp"`
}

// wsBBOMsg best_bid_ask 增量消息；价格字段缺失表示该侧无更新
type wsBBOMsg struct {
	EventType string          `json:"event_type"`
	AssetID   string          `json:"asset_id"`
	BestBid   json.RawMessage `json:"best_bid"`
	BestAsk   json.RawMessage `json:"best_ask"`
	Timestamp string          `json:"timestamp"`
}

// handleMessage 解析单条消息并翻译成 engine 事件
func (c *MarketFeed) handleMessage(data []byte) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return
	}

	// 纯文本心跳响应
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return
	}

	// 数组 = 订阅后的初始快照帧（每侧一条 book）
	if trimmed[0] == '[' {
		var books []wsBookMsg
		if err := json.Unmarshal(trimmed, &books); err != nil {
			c.log.Warnf("解析快照帧失败: %v", err)
			return
		}
		c.subMu.Lock()
		first := !c.gotBooks
		if first && len(books) > 0 {
			c.gotBooks = true
		}
		c.subMu.Unlock()
		if !first {
			return
		}
		for _, book := range books {
			if book.EventType != "book" || book.AssetID == "" {
				continue
			}
			c.sink.Submit(engine.SnapshotEvent{
				AssetID: book.AssetID,
				Bids:    decodeBookLevels(book.Bids),
				Asks:    decodeBookLevels(book.Asks),
			})
		}
		return
	}

	var bbo wsBBOMsg
	if err := json.Unmarshal(trimmed, &bbo); err != nil {
		c.log.Warnf("解析消息失败: %v", err)
		return
	}
	if bbo.EventType != "best_bid_ask" || bbo.AssetID == "" {
		return
	}

	c.sink.Submit(engine.BBOEvent{
		AssetID: bbo.AssetID,
		BestBid: rawPriceTicks(bbo.BestBid),
		BestAsk: rawPriceTicks(bbo.BestAsk),
		TS:      wsTimestamp(bbo.Timestamp),
	})
}

// decodeBookLevels 把场内十进制档位转换成 ticks 档位。
// 保持场内约定：数组已排序，最优档在末尾。
func decodeBookLevels(levels []wsBookLevel) []domain.BookLevel {
	out := make([]domain.BookLevel, 0, len(levels))
	for _, lv := range levels {
		ticks, err := domain.DecimalToTicks(lv.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(lv.Size)
		if err != nil {
			size = decimal.Zero
		}
		out = append(out, domain.BookLevel{PriceTicks: ticks, Size: size})
	}
	return out
}

// rawPriceTicks 解析可能带引号的十进制价格字段；缺失或非法返回 nil
func rawPriceTicks(raw json.RawMessage) *int {
	s := bytes.Trim(bytes.TrimSpace(raw), `"`)
	if len(s) == 0 || string(s) == "null" {
		return nil
	}
	ticks, err := domain.DecimalToTicks(string(s))
	if err != nil {
		return nil
	}
	return &ticks
}

// wsTimestamp 解析毫秒时间戳字符串；缺失用本地时间
func wsTimestamp(s string) time.Time {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms)
	}
	return time.Now()
}
