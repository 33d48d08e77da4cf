package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/betbot/laddermm/clob/types"
)

// CreateSignedBuyOrder 构建并签名一笔 GTC 买单（不提交）
func (c *Client) CreateSignedBuyOrder(tokenID string, priceTicks int, size decimal.Decimal, negRisk bool) (*types.SignedOrder, error) {
	return c.builder.BuildBuyOrder(tokenID, priceTicks, size, negRisk)
}

// PostOrders 批量提交订单（单次最多 15 笔），响应与请求一一对应。
// 单笔被拒不会让整批失败：对应项的 ErrorMsg 给出原因。
func (c *Client) PostOrders(ctx context.Context, args []types.PostOrdersArgs) ([]types.OrderResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}
	if len(args) == 0 {
		return nil, nil
	}
	if len(args) > 15 {
		return nil, fmt.Errorf("批量下单最多 15 笔，收到 %d", len(args))
	}
	if err := c.rateLimiter.Wait(ctx, "clob:orders:post"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	payload := make([]types.NewOrder, 0, len(args))
	for _, arg := range args {
		payload = append(payload, types.NewOrder{
			Order:     arg.Order,
			Owner:     c.authConfig.Creds.Key,
			OrderType: arg.OrderType,
		})
	}

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化订单载荷失败: %w", err)
	}
	bodyStr := string(bodyBytes)

	headers, err := c.l2HeaderMap("POST", EndpointPostOrders, &bodyStr)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.post(EndpointPostOrders, headers, bodyBytes)
	if err != nil {
		return nil, fmt.Errorf("批量提交订单失败: %w", err)
	}

	var results []types.OrderResponse
	if err := parseResponse(resp, &results); err != nil {
		return nil, fmt.Errorf("解析批量下单响应失败: %w", err)
	}
	return results, nil
}

// CancelOrders 按 id 批量撤单
func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) (*types.CancelOrdersResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}
	if len(orderIDs) == 0 {
		return &types.CancelOrdersResponse{}, nil
	}
	if err := c.rateLimiter.Wait(ctx, "clob:orders:delete"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	bodyBytes, err := json.Marshal(orderIDs)
	if err != nil {
		return nil, fmt.Errorf("序列化撤单载荷失败: %w", err)
	}
	bodyStr := string(bodyBytes)

	headers, err := c.l2HeaderMap("DELETE", EndpointCancelOrders, &bodyStr)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.del(EndpointCancelOrders, headers, bodyBytes)
	if err != nil {
		return nil, fmt.Errorf("批量撤单失败: %w", err)
	}

	var result types.CancelOrdersResponse
	if err := parseResponse(resp, &result); err != nil {
		return nil, fmt.Errorf("解析批量撤单响应失败: %w", err)
	}
	return &result, nil
}

// CancelMarketOrders 清空某个 condition 下本账户的全部挂单
// （启动清扫和窗口切换时的一次性扫尾，平时撤单都走 CancelOrders）
func (c *Client) CancelMarketOrders(ctx context.Context, market string) (*types.CancelOrdersResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}
	if err := c.rateLimiter.Wait(ctx, "clob:orders:delete"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	payload := map[string]string{"market": market}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化撤单载荷失败: %w", err)
	}
	bodyStr := string(bodyBytes)

	headers, err := c.l2HeaderMap("DELETE", EndpointCancelMarketOrders, &bodyStr)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.del(EndpointCancelMarketOrders, headers, bodyBytes)
	if err != nil {
		return nil, fmt.Errorf("清空市场挂单失败: %w", err)
	}

	var result types.CancelOrdersResponse
	if err := parseResponse(resp, &result); err != nil {
		return nil, fmt.Errorf("解析清空挂单响应失败: %w", err)
	}
	return &result, nil
}

// CancelAll 撤掉本账户全部挂单
func (c *Client) CancelAll(ctx context.Context) (*types.CancelOrdersResponse, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}
	if err := c.rateLimiter.Wait(ctx, "clob:orders:delete"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	headers, err := c.l2HeaderMap("DELETE", EndpointCancelAll, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.del(EndpointCancelAll, headers, nil)
	if err != nil {
		return nil, fmt.Errorf("撤销全部挂单失败: %w", err)
	}

	var result types.CancelOrdersResponse
	if err := parseResponse(resp, &result); err != nil {
		return nil, fmt.Errorf("解析撤单响应失败: %w", err)
	}
	return &result, nil
}

// GetOpenOrders 获取在场订单
func (c *Client) GetOpenOrders(ctx context.Context, params *types.OpenOrderParams) ([]types.OpenOrder, error) {
	if err := c.CanL2Auth(); err != nil {
		return nil, err
	}
	if err := c.rateLimiter.Wait(ctx, "clob:orders:get"); err != nil {
		return nil, fmt.Errorf("速率限制等待失败: %w", err)
	}

	queryParams := make(map[string]string)
	if params != nil {
		if params.ID != nil {
			queryParams["id"] = *params.ID
		}
		if params.Market != nil {
			queryParams["market"] = *params.Market
		}
		if params.AssetID != nil {
			queryParams["asset_id"] = *params.AssetID
		}
	}

	headers, err := c.l2HeaderMap("GET", EndpointGetOpenOrders, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.get(EndpointGetOpenOrders, headers, queryParams)
	if err != nil {
		return nil, fmt.Errorf("获取在场订单失败: %w", err)
	}

	var apiResp types.OpenOrdersAPIResponse
	if err := parseResponse(resp, &apiResp); err != nil {
		return nil, err
	}
	return apiResp.Data, nil
}
