package polymarket

import "encoding/json"

// Raw wire DTOs for the Polymarket CLOB and Gamma APIs. Conversion to
// ports.MarketSummary/ports.MarketDetail/domain.OrderResult happens in
// clob.go and gamma.go — never exposed outside this package.

// --- CLOB API ---

// samplingMarketsResponse is the paginated response from GET /sampling-markets.
type samplingMarketsResponse struct {
	Limit      int              `json:"limit"`
	Count      int              `json:"count"`
	NextCursor string           `json:"next_cursor"`
	Data       []samplingMarket `json:"data"`
}

// samplingMarket is a single CLOB market, keyed by condition_id.
type samplingMarket struct {
	ConditionID string      `json:"condition_id"`
	QuestionID  string      `json:"question_id"`
	Tokens      []clobToken `json:"tokens"`
	Active      bool        `json:"active"`
	Closed      bool        `json:"closed"`
}

// clobToken is a single outcome token (YES/NO) in the CLOB.
type clobToken struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
	Winner  bool    `json:"winner"`
}

// clobPriceResponse is the body of GET /price?token_id=&side=.
type clobPriceResponse struct {
	Price string `json:"price"`
}

// clobNegRiskResponse is the body of GET /neg-risk?token_id=.
type clobNegRiskResponse struct {
	NegRisk bool `json:"neg_risk"`
}

// clobOrderRequest is the JSON body sent to POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

// MarshalJSON gives clobOrderBody a stable shape for tests that construct
// one by hand and re-serialize it.
func (b clobOrderBody) MarshalJSON() ([]byte, error) {
	type alias clobOrderBody
	return json.Marshal(alias(b))
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

// --- Gamma API ---

// gammaMarketsResponse is the response from GET /markets on Gamma.
type gammaMarketsResponse []gammaMarket

// gammaMarket carries the enriched metadata a bare CLOB market lacks.
// Gamma returns several numeric fields as JSON strings; json.Number
// absorbs either representation without a float64 round-trip.
type gammaMarket struct {
	ConditionID string      `json:"conditionId"`
	Question    string      `json:"question"`
	Slug        string      `json:"slug"`
	EndDateISO  string      `json:"endDateIso"`
	Liquidity   json.Number `json:"liquidity"`
	Volume24h   json.Number `json:"volume24hr"`
	Active      bool        `json:"active"`
	Closed      bool        `json:"closed"`
}
