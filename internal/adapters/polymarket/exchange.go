package polymarket

// exchange.go — ports.ExchangeClient implementation: wires AuthClient's
// L1/L2 auth and signing (auth.go) and the CLOB/Gamma discovery calls
// (clob.go, gamma.go) into the narrow transport contract the core depends
// on. On-chain balance reads reuse the teacher's ethclient/ABI-pack shape
// from its old trading.go.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alexrivas/mirrorbot/internal/domain"
	"github.com/alexrivas/mirrorbot/internal/money"
	"github.com/alexrivas/mirrorbot/internal/ports"
)

// usdcEAddress is USDC.e on Polygon, the CLOB's collateral token.
const usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

var balanceOfABI abi.ABI

func init() {
	var err error
	balanceOfABI, err = abi.JSON(strings.NewReader(`[{
		"name":"balanceOf","type":"function",
		"inputs":[{"name":"account","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]
	}]`))
	if err != nil {
		panic("polymarket: balanceOf abi: " + err.Error())
	}
}

// ExchangeClient implements ports.ExchangeClient against the real
// Polymarket CLOB, with balance reads over a Polygon RPC endpoint.
type ExchangeClient struct {
	auth *AuthClient
	rpc  *ethclient.Client
}

// NewExchangeClient builds an authenticated client. rpcURL is a Polygon
// JSON-RPC endpoint used only for balance checks; privateKeyHex is the
// follower wallet's private key (no 0x prefix), sourced from the
// environment and never logged.
func NewExchangeClient(clobBase, gammaBase, rpcURL, privateKeyHex string) (*ExchangeClient, error) {
	return NewExchangeClientWithRates(clobBase, gammaBase, rpcURL, privateKeyHex, 0, 0, 0)
}

// NewExchangeClientWithRates is NewExchangeClient with the CLOB/Gamma/books
// per-endpoint rate limits overridable from config's rate_limit section
// (zero keeps the documented-safe default for that endpoint).
func NewExchangeClientWithRates(clobBase, gammaBase, rpcURL, privateKeyHex string, clobRPS, gammaRPS, booksRPS float64) (*ExchangeClient, error) {
	auth, err := NewAuthClientWithRates(clobBase, gammaBase, privateKeyHex, clobRPS, gammaRPS, booksRPS)
	if err != nil {
		return nil, fmt.Errorf("polymarket.NewExchangeClient: %w", err)
	}
	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("polymarket.NewExchangeClient: dial rpc: %w", err)
	}
	return &ExchangeClient{auth: auth, rpc: rpc}, nil
}

// GetBalance returns the follower wallet's USDC.e collateral balance and
// native MATIC balance (for gas headroom).
func (ec *ExchangeClient) GetBalance(ctx context.Context) (ports.Balance, error) {
	callData, err := balanceOfABI.Pack("balanceOf", ec.auth.address)
	if err != nil {
		return ports.Balance{}, fmt.Errorf("polymarket.GetBalance: pack: %w", err)
	}
	token := common.HexToAddress(usdcEAddress)
	result, err := ec.rpc.CallContract(ctx, ethereum.CallMsg{To: &token, Data: callData}, nil)
	if err != nil {
		return ports.Balance{}, fmt.Errorf("polymarket.GetBalance: call: %w", err)
	}
	vals, err := balanceOfABI.Unpack("balanceOf", result)
	if err != nil || len(vals) == 0 {
		return ports.Balance{}, fmt.Errorf("polymarket.GetBalance: unpack: %w", err)
	}
	raw := vals[0].(*big.Int)
	quote := money.MustFromString(raw.String()).Div(money.FromInt(1_000_000))

	gasWei, err := ec.rpc.BalanceAt(ctx, ec.auth.address, nil)
	if err != nil {
		return ports.Balance{}, fmt.Errorf("polymarket.GetBalance: native balance: %w", err)
	}
	gas := money.MustFromString(gasWei.String()).Div(money.MustFromString("1000000000000000000"))

	return ports.Balance{QuoteBalance: quote, GasBalance: gas}, nil
}

// GetMarkets returns every active market, for the endgame sweeper's scan.
func (ec *ExchangeClient) GetMarkets(ctx context.Context) ([]ports.MarketSummary, error) {
	return ec.auth.FetchSamplingMarkets(ctx)
}

// GetMarket resolves a single market's outcome token IDs and metadata.
func (ec *ExchangeClient) GetMarket(ctx context.Context, conditionID string) (ports.MarketDetail, error) {
	return ec.auth.FetchMarketDetail(ctx, conditionID)
}

// GetCurrentPrice returns the CLOB's live price for a token on the given
// side — the basis for the risk gate's price-risk floor and the
// executor's exit-evaluation loop.
func (ec *ExchangeClient) GetCurrentPrice(ctx context.Context, _ string, tokenID string, side domain.Side) (money.Money, error) {
	return ec.auth.GetPrice(ctx, tokenID, side)
}

// PlaceOrder signs and submits a GTC limit order for the sized order's
// side. Creds are derived lazily on first use and cached thereafter.
func (ec *ExchangeClient) PlaceOrder(ctx context.Context, order domain.SizedOrder) (domain.OrderResult, error) {
	if err := ec.auth.EnsureCreds(ctx); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket.PlaceOrder: creds: %w", err)
	}

	negRisk, err := ec.auth.IsNegRisk(ctx, order.Key.TokenID)
	if err != nil {
		negRisk = false // best-effort: default to the standard CTF exchange on lookup failure
	}

	signed, err := ec.auth.buildSignedOrder(order.Key.TokenID, order.LimitPrice, order.Size, order.Side, negRisk)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket.PlaceOrder: sign: %w", err)
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       order.Key.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          clobSideString(order.Side),
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     ec.auth.creds.APIKey,
		OrderType: "GTC",
	}

	var resp clobOrderResponse
	if err := ec.auth.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("polymarket.PlaceOrder: post: %w", err)
	}
	if !resp.Success || resp.ErrorMsg != "" {
		return domain.OrderResult{Status: domain.OrderRejected, ErrorCode: resp.ErrorMsg}, nil
	}

	return domain.OrderResult{
		Status:          mapOrderStatus(resp.Status),
		FilledSize:      parseMicroUSDC(resp.TakingAmount),
		AveragePrice:    order.LimitPrice,
		ExchangeOrderID: resp.OrderID,
	}, nil
}

// HealthCheck reports whether the CLOB is reachable.
func (ec *ExchangeClient) HealthCheck(ctx context.Context) bool {
	return ec.auth.HealthCheck(ctx)
}

// HealthCheck performs a cheap unauthenticated GET against the CLOB root.
func (c *Client) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.clobBase+"/", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

func mapOrderStatus(s string) domain.OrderStatus {
	switch strings.ToUpper(s) {
	case "MATCHED", "FILLED":
		return domain.OrderFilled
	case "LIVE", "PARTIALLY_MATCHED", "PARTIAL":
		return domain.OrderPartial
	default:
		return domain.OrderPending
	}
}

func parseMicroUSDC(s string) money.Money {
	if s == "" {
		return money.Zero
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return money.Zero
	}
	return money.MustFromString(n.String()).Div(money.FromInt(1_000_000))
}

