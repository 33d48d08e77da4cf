package client

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/betbot/laddermm/clob/signing"
	"github.com/betbot/laddermm/clob/types"
)

// AuthConfig 认证配置
type AuthConfig struct {
	PrivateKey *ecdsa.PrivateKey
	ChainID    types.Chain
	Creds      *types.ApiKeyCreds
}

// CanL2Auth 检查是否可以进行 L2 认证
func (c *Client) CanL2Auth() error {
	if c.authConfig == nil || c.authConfig.Creds == nil {
		return fmt.Errorf("L2 认证不可用: API 凭证未配置")
	}
	return nil
}

// CanL1Auth 检查是否可以进行 L1 认证
func (c *Client) CanL1Auth() error {
	if c.authConfig == nil || c.authConfig.PrivateKey == nil {
		return fmt.Errorf("L1 认证不可用: 私钥未配置")
	}
	return nil
}

// GetAddress 获取账号地址（从私钥计算）
func (c *Client) GetAddress() (common.Address, error) {
	if c.authConfig == nil || c.authConfig.PrivateKey == nil {
		return common.Address{}, fmt.Errorf("私钥未配置，无法获取地址")
	}
	return signing.GetAddressFromPrivateKey(c.authConfig.PrivateKey), nil
}

// l2HeaderMap 生成 L2 认证头（body 必须与实际发送的字节一致）
func (c *Client) l2HeaderMap(method, requestPath string, body *string) (map[string]string, error) {
	headers, err := signing.CreateL2Headers(
		c.authConfig.PrivateKey,
		c.authConfig.Creds,
		&types.L2HeaderArgs{
			Method:      method,
			RequestPath: requestPath,
			Body:        body,
		},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("创建 L2 认证头失败: %w", err)
	}
	return map[string]string{
		"POLY_ADDRESS":    headers.PolyAddress,
		"POLY_SIGNATURE":  headers.PolySignature,
		"POLY_TIMESTAMP":  headers.PolyTimestamp,
		"POLY_API_KEY":    headers.PolyAPIKey,
		"POLY_PASSPHRASE": headers.PolyPassphrase,
	}, nil
}
