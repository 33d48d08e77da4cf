// Package discovery 负责市场元数据与持仓数据的 REST 拉取：
// Gamma API 按 slug 查找窗口市场，Data API 拉取账户持仓做对账。
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/laddermm/internal/domain"
	"github.com/betbot/laddermm/pkg/ratelimit"
)

const (
	gammaBaseURL = "https://gamma-api.polymarket.com"
	dataBaseURL  = "https://data-api.polymarket.com"
)

// ErrMarketNotFound slug 对应的市场尚未创建（窗口开盘前正常出现）
var ErrMarketNotFound = errors.New("market not found")

// Client Gamma/Data API 客户端
type Client struct {
	gamma       *resty.Client
	data        *resty.Client
	rateLimiter *ratelimit.RateLimitManager
	log         *logrus.Entry
}

// NewClient 创建客户端。resty 自动从环境变量读取代理配置。
func NewClient() *Client {
	newAPI := func(base string) *resty.Client {
		return resty.New().
			SetBaseURL(base).
			SetTimeout(10 * time.Second).
			SetRetryCount(3).
			SetRetryWaitTime(1 * time.Second).
			SetRetryMaxWaitTime(10 * time.Second)
	}
	return &Client{
		gamma:       newAPI(gammaBaseURL),
		data:        newAPI(dataBaseURL),
		rateLimiter: ratelimit.NewRateLimitManager(),
		log:         logrus.WithField("component", "discovery"),
	}
}

// gammaMarket Gamma API /markets/slug/{slug} 响应
type gammaMarket struct {
	ConditionID  string `json:"conditionId"`
	Slug         string `json:"slug"`
	ClobTokenIDs string `json:"clobTokenIds"` // JSON 字符串，如 `["123","456"]`
	EndDate      string `json:"endDate"`      // ISO-8601
	Active       bool   `json:"active"`
	Closed       bool   `json:"closed"`
}

// MarketBySlug 按 slug 查找窗口市场。
// clobTokenIds 第一个是 YES（Up），第二个是 NO（Down）。
func (c *Client) MarketBySlug(ctx context.Context, slug string) (*domain.Market, error) {
	if err := c.rateLimiter.Wait(ctx, "gamma:markets:get"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	var market gammaMarket
	resp, err := c.gamma.R().
		SetContext(ctx).
		SetResult(&market).
		Get("/markets/slug/" + slug)
	if err != nil {
		return nil, fmt.Errorf("查询市场 %s 失败: %w", slug, err)
	}
	if resp.StatusCode() == 404 {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, slug)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("查询市场 %s 失败: HTTP %d: %s", slug, resp.StatusCode(), resp.String())
	}

	return marketFromGamma(&market)
}

// marketFromGamma 把 Gamma 响应翻译成窗口市场元数据
func marketFromGamma(m *gammaMarket) (*domain.Market, error) {
	if m.ConditionID == "" {
		return nil, fmt.Errorf("市场响应缺少 conditionId")
	}

	var tokenIDs []string
	if err := json.Unmarshal([]byte(m.ClobTokenIDs), &tokenIDs); err != nil {
		return nil, fmt.Errorf("解析 clobTokenIds 失败 %q: %w", m.ClobTokenIDs, err)
	}
	if len(tokenIDs) != 2 {
		return nil, fmt.Errorf("clobTokenIds 应为两个 token, 收到 %d 个", len(tokenIDs))
	}

	var endTS time.Time
	if m.EndDate != "" {
		t, err := time.Parse(time.RFC3339, m.EndDate)
		if err != nil {
			return nil, fmt.Errorf("解析 endDate 失败 %q: %w", m.EndDate, err)
		}
		endTS = t
	}

	windowStart, err := windowStartFromSlug(m.Slug)
	if err != nil {
		return nil, err
	}

	return &domain.Market{
		ConditionID: m.ConditionID,
		Slug:        m.Slug,
		AssetIDYes:  tokenIDs[0],
		AssetIDNo:   tokenIDs[1],
		EndTS:       endTS,
		WindowStart: windowStart,
	}, nil
}

// windowStartFromSlug slug 最后一段是窗口起点的 unix 秒
func windowStartFromSlug(slug string) (int64, error) {
	idx := strings.LastIndex(slug, "-")
	if idx < 0 || idx == len(slug)-1 {
		return 0, fmt.Errorf("slug 缺少窗口时间戳: %q", slug)
	}
	ts, err := strconv.ParseInt(slug[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("解析 slug 时间戳失败 %q: %w", slug, err)
	}
	return ts, nil
}

// Position Data API /positions 单条持仓
type Position struct {
	Asset        string  `json:"asset"`
	Size         float64 `json:"size"`
	InitialValue float64 `json:"initialValue"` // 累计成本（美元）
	AvgPrice     float64 `json:"avgPrice"`
}

// Positions 拉取账户在某个市场下的持仓（对账用，sizeThreshold=0 不过滤小仓）
func (c *Client) Positions(ctx context.Context, userAddress, conditionID string) ([]Position, error) {
	if userAddress == "" {
		return nil, fmt.Errorf("查询持仓需要账户地址")
	}
	if err := c.rateLimiter.Wait(ctx, "data:general"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	var positions []Position
	resp, err := c.data.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"user":          userAddress,
			"market":        conditionID,
			"sizeThreshold": "0",
		}).
		SetResult(&positions).
		Get("/positions")
	if err != nil {
		return nil, fmt.Errorf("查询持仓失败: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("查询持仓失败: HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	return positions, nil
}
