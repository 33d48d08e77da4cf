package client

// API 端点常量
const (
	// Server Time
	EndpointTime = "/time"

	// API Key endpoints
	EndpointCreateAPIKey = "/auth/api-key"
	EndpointDeriveAPIKey = "/auth/derive-api-key"

	// Order endpoints
	EndpointPostOrder          = "/order"
	EndpointPostOrders         = "/orders"
	EndpointCancelOrder        = "/order"
	EndpointCancelOrders       = "/orders"
	EndpointCancelAll          = "/cancel-all"
	EndpointCancelMarketOrders = "/cancel-market-orders"
	EndpointGetOpenOrders      = "/data/orders"
	EndpointGetTrades          = "/data/trades"
)
