package client

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/polymarket/go-order-utils/pkg/builder"
	gomodel "github.com/polymarket/go-order-utils/pkg/model"
	"github.com/shopspring/decimal"

	"github.com/betbot/laddermm/clob/types"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// OrderBuilder 把 ticks 价格 + 两位小数的数量变成已签名的订单。
// 金额计算全程整数，避免浮点误差被 CLOB 拒单
// （API 会校验 makerAmount == price · takerAmount 完全相等）。
type OrderBuilder struct {
	client        *Client
	exchange      builder.ExchangeOrderBuilder
	signatureType types.SignatureType
	funderAddress string
}

func newOrderBuilder(c *Client, signatureType types.SignatureType, funderAddress string) (*OrderBuilder, error) {
	if c.authConfig == nil || c.authConfig.PrivateKey == nil {
		return nil, fmt.Errorf("私钥未配置，无法构建订单")
	}
	return &OrderBuilder{
		client:        c,
		exchange:      builder.NewExchangeOrderBuilderImpl(big.NewInt(int64(c.chainID)), nil),
		signatureType: signatureType,
		funderAddress: funderAddress,
	}, nil
}

// BuildBuyOrder 构建并签名一笔 GTC 买单。
// priceTicks ∈ (0, 1000)，size 两位小数；USDC 与条件代币精度都是 6。
func (ob *OrderBuilder) BuildBuyOrder(tokenID string, priceTicks int, size decimal.Decimal, negRisk bool) (*types.SignedOrder, error) {
	if priceTicks <= 0 || priceTicks >= 1000 {
		return nil, fmt.Errorf("非法价格: %d ticks", priceTicks)
	}

	// sizeCents = shares·100（两位小数的整数表示）
	sizeCents := size.Mul(decimal.NewFromInt(100)).IntPart()
	if sizeCents <= 0 {
		return nil, fmt.Errorf("非法数量: %s", size)
	}

	// maker = 支付的 micro-USDC：size·(ticks/1000)·10^6 = sizeCents·ticks·10
	// taker = 收到的 micro-token：size·10^6 = sizeCents·10^4
	makerAmount := sizeCents * int64(priceTicks) * 10
	takerAmount := sizeCents * 10000

	signerAddress := crypto.PubkeyToAddress(ob.client.authConfig.PrivateKey.PublicKey)
	maker := signerAddress.Hex()
	if ob.funderAddress != "" {
		maker = ob.funderAddress
	}

	verifyingContract := gomodel.CTFExchange
	if negRisk {
		verifyingContract = gomodel.NegRiskCTFExchange
	}

	orderData := &gomodel.OrderData{
		Maker:         maker,
		Signer:        signerAddress.Hex(),
		Taker:         zeroAddress,
		TokenId:       tokenID,
		MakerAmount:   strconv.FormatInt(makerAmount, 10),
		TakerAmount:   strconv.FormatInt(takerAmount, 10),
		FeeRateBps:    "0",
		Nonce:         "0",
		Expiration:    "0",
		Side:          gomodel.BUY,
		SignatureType: gomodelSigType(ob.signatureType),
	}

	signed, err := ob.exchange.BuildSignedOrder(ob.client.authConfig.PrivateKey, orderData, verifyingContract)
	if err != nil {
		return nil, fmt.Errorf("签名订单失败: %w", err)
	}

	return &types.SignedOrder{
		Salt:          signed.Order.Salt.Int64(),
		Maker:         signed.Order.Maker.Hex(),
		Signer:        signed.Order.Signer.Hex(),
		Taker:         signed.Order.Taker.Hex(),
		TokenID:       tokenID,
		MakerAmount:   signed.Order.MakerAmount.String(),
		TakerAmount:   signed.Order.TakerAmount.String(),
		Expiration:    signed.Order.Expiration.String(),
		Nonce:         signed.Order.Nonce.String(),
		FeeRateBps:    signed.Order.FeeRateBps.String(),
		Side:          types.SideBuy,
		SignatureType: int(signed.Order.SignatureType.Int64()),
		Signature:     "0x" + hex.EncodeToString(signed.Signature),
	}, nil
}

func gomodelSigType(t types.SignatureType) gomodel.SignatureType {
	switch t {
	case types.SignatureTypeGnosisSafe:
		return gomodel.POLY_GNOSIS_SAFE
	case types.SignatureTypeMagic:
		return gomodel.POLY_PROXY
	default:
		return gomodel.EOA
	}
}
