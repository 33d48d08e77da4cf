// Package oracle 提供标的现货价查询（窗口开盘时记录 strike 用）。
// strike 只是信息性字段，取不到不影响交易。
package oracle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const coinbaseBaseURL = "https://api.coinbase.com"

// Client Coinbase 现货价客户端
type Client struct {
	http *resty.Client
	log  *logrus.Entry
}

// NewClient 创建客户端
func NewClient() *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(coinbaseBaseURL).
			SetTimeout(5 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond),
		log: logrus.WithField("component", "oracle"),
	}
}

// spotResponse Coinbase /v2/prices/{pair}/spot 响应
type spotResponse struct {
	Data struct {
		Amount   string `json:"amount"`
		Base     string `json:"base"`
		Currency string `json:"currency"`
	} `json:"data"`
}

// SpotPrice 查询现货价，pair 形如 "BTC-USD"
func (c *Client) SpotPrice(ctx context.Context, pair string) (float64, error) {
	var out spotResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v2/prices/" + pair + "/spot")
	if err != nil {
		return 0, fmt.Errorf("查询现货价失败: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("查询现货价失败: HTTP %d: %s", resp.StatusCode(), resp.String())
	}

	price, err := strconv.ParseFloat(out.Data.Amount, 64)
	if err != nil {
		return 0, fmt.Errorf("解析现货价失败 %q: %w", out.Data.Amount, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("非法现货价: %f", price)
	}
	return price, nil
}
