// Package client 是 Polymarket CLOB 的 REST 客户端：
// L1（EIP712 私钥）推导 API 凭证，L2（HMAC）签名每一次交易请求。
package client

import (
	"crypto/ecdsa"
	"net/url"
	"os"
	"strings"

	"github.com/betbot/laddermm/clob/types"
	"github.com/betbot/laddermm/pkg/ratelimit"
)

// Client CLOB 客户端
type Client struct {
	host        string
	chainID     types.Chain
	authConfig  *AuthConfig
	httpClient  *httpClient
	rateLimiter *ratelimit.RateLimitManager
	builder     *OrderBuilder
}

// NewClient 创建新的 CLOB 客户端。
// funderAddress 为 Polymarket 代理钱包地址（资金来源），为空时用 EOA 直接下单。
func NewClient(
	host string,
	chainID types.Chain,
	privateKey *ecdsa.PrivateKey,
	creds *types.ApiKeyCreds,
	funderAddress string,
	signatureType types.SignatureType,
) (*Client, error) {
	authConfig := &AuthConfig{
		PrivateKey: privateKey,
		ChainID:    chainID,
		Creds:      creds,
	}

	// 仅在代理环境变量设置时走代理
	var proxyURL *url.URL
	if proxyStr := getProxyURL(); proxyStr != "" {
		if parsed, err := url.Parse(proxyStr); err == nil {
			proxyURL = parsed
		}
	}

	c := &Client{
		host:        strings.TrimSuffix(host, "/"),
		chainID:     chainID,
		authConfig:  authConfig,
		httpClient:  newHTTPClient(host, authConfig, proxyURL),
		rateLimiter: ratelimit.NewRateLimitManager(),
	}

	builder, err := newOrderBuilder(c, signatureType, funderAddress)
	if err != nil {
		return nil, err
	}
	c.builder = builder
	return c, nil
}

// SetCreds 推导出 API 凭证后注入（L2 调用前必须设置）
func (c *Client) SetCreds(creds *types.ApiKeyCreds) {
	c.authConfig.Creds = creds
}

// getProxyURL 从环境变量获取代理 URL，未设置返回空字符串
func getProxyURL() string {
	proxyVars := []string{"HTTP_PROXY", "HTTPS_PROXY", "http_proxy", "https_proxy"}
	for _, v := range proxyVars {
		if val := os.Getenv(v); val != "" {
			return val
		}
	}
	return ""
}

// GetHost 获取主机地址
func (c *Client) GetHost() string {
	return c.host
}

// GetChainID 获取链 ID
func (c *Client) GetChainID() types.Chain {
	return c.chainID
}
