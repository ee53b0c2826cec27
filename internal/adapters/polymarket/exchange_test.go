package polymarket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexrivas/mirrorbot/internal/domain"
	"github.com/alexrivas/mirrorbot/internal/money"
)

// testPrivateKeyHex is a throwaway key, never used for real funds.
const testPrivateKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690"

func newTestAuthClient(t *testing.T, clobBase, gammaBase string) *AuthClient {
	t.Helper()
	ac, err := NewAuthClient(clobBase, gammaBase, testPrivateKeyHex)
	require.NoError(t, err)
	return ac
}

func TestFetchSamplingMarketsEnrichesWithGamma(t *testing.T) {
	gamma := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gammaMarketsResponse{
			{ConditionID: "0xcond1", Question: "Will X happen?", Liquidity: "12345.67", EndDateISO: "2026-12-31T00:00:00Z"},
		})
	}))
	defer gamma.Close()

	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(samplingMarketsResponse{
			NextCursor: "LTE=",
			Data: []samplingMarket{
				{
					ConditionID: "0xcond1",
					Active:      true,
					Tokens: []clobToken{
						{TokenID: "tok-yes", Outcome: "Yes", Price: 0.97},
						{TokenID: "tok-no", Outcome: "No", Price: 0.03},
					},
				},
			},
		})
	}))
	defer clob.Close()

	c := NewClient(clob.URL, gamma.URL)
	markets, err := c.FetchSamplingMarkets(t.Context())
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "0xcond1", markets[0].ConditionID)
	assert.Equal(t, "Will X happen?", markets[0].Question)
	assert.True(t, markets[0].Probability.GreaterThan(markets[0].Probability.Sub(markets[0].Probability)))
	assert.Equal(t, "0.970000", markets[0].Probability.StringFixed(6))
	assert.Equal(t, "12345.67", markets[0].LiquidityUSD.StringFixed(2))
}

func TestFetchSamplingMarketsSkipsClosedMarkets(t *testing.T) {
	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(samplingMarketsResponse{
			NextCursor: "",
			Data: []samplingMarket{
				{ConditionID: "0xclosed", Active: false, Closed: true},
				{ConditionID: "0xopen", Active: true},
			},
		})
	}))
	defer clob.Close()

	c := NewClient(clob.URL, clob.URL)
	markets, err := c.FetchSamplingMarkets(t.Context())
	require.NoError(t, err)
	require.Len(t, markets, 1)
	assert.Equal(t, "0xopen", markets[0].ConditionID)
}

func TestGetPriceParsesResponse(t *testing.T) {
	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BUY", r.URL.Query().Get("side"))
		_ = json.NewEncoder(w).Encode(clobPriceResponse{Price: "0.42"})
	}))
	defer clob.Close()

	c := NewClient(clob.URL, clob.URL)
	price, err := c.GetPrice(t.Context(), "tok1", domain.Buy)
	require.NoError(t, err)
	assert.Equal(t, "0.42", price.String())
}

func TestPlaceOrderSubmitsSignedOrderAndParsesResult(t *testing.T) {
	var capturedOrder clobOrderRequest

	clob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/derive-api-key":
			_ = json.NewEncoder(w).Encode(apiCredentials{APIKey: "key1", Secret: "c2VjcmV0", Passphrase: "pass1"})
		case "/neg-risk":
			_ = json.NewEncoder(w).Encode(clobNegRiskResponse{NegRisk: false})
		case "/order":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&capturedOrder))
			_ = json.NewEncoder(w).Encode(clobOrderResponse{
				Success: true, OrderID: "order-123", Status: "MATCHED", TakingAmount: "1000000",
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer clob.Close()

	ec := &ExchangeClient{auth: newTestAuthClient(t, clob.URL, clob.URL)}

	order := domain.SizedOrder{
		Key:        domain.PositionKey{ConditionID: "0xcond1", TokenID: "tok-yes", Side: domain.Buy},
		Side:       domain.Buy,
		Size:       money.MustFromString("10"),
		LimitPrice: money.MustFromString("0.50"),
	}
	result, err := ec.PlaceOrder(t.Context(), order)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderFilled, result.Status)
	assert.Equal(t, "order-123", result.ExchangeOrderID)
	assert.Equal(t, "BUY", capturedOrder.Order.Side)
	assert.Equal(t, "tok-yes", capturedOrder.Order.TokenID)
}
