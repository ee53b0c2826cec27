package polymarket

// clob.go — market discovery and pricing against the Polymarket CLOB.
//
// FetchSamplingMarkets pages through /sampling-markets and enriches each
// page with Gamma metadata (gamma.go), mirroring the teacher's two-call
// market-discovery shape. GetPrice/GetMarket hit the CLOB directly.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexrivas/mirrorbot/internal/domain"
	"github.com/alexrivas/mirrorbot/internal/money"
	"github.com/alexrivas/mirrorbot/internal/ports"
)

const (
	samplingMarketsPath = "/sampling-markets"
	marketPath          = "/markets/"
	pricePath           = "/price"
	negRiskPath         = "/neg-risk"
	pageSize            = 500
)

// FetchSamplingMarkets returns every active market with Gamma metadata
// attached (question, liquidity, resolution date), paginating via
// next_cursor until exhausted.
func (c *Client) FetchSamplingMarkets(ctx context.Context) ([]ports.MarketSummary, error) {
	var all []samplingMarket
	cursor := ""

	for {
		url := fmt.Sprintf("%s%s?limit=%d", c.clobBase, samplingMarketsPath, pageSize)
		if cursor != "" {
			url += "&next_cursor=" + cursor
		}

		var resp samplingMarketsResponse
		if err := c.get(ctx, c.clobLimiter, url, &resp); err != nil {
			return nil, fmt.Errorf("clob.FetchSamplingMarkets: %w", err)
		}
		all = append(all, resp.Data...)

		// "LTE=" is the base64-encoded empty cursor signalling the last page.
		if resp.NextCursor == "" || resp.NextCursor == "LTE=" {
			break
		}
		cursor = resp.NextCursor
	}

	slog.Debug("sampling markets fetched", "total", len(all))

	gammaByCondition, err := c.fetchGammaMetadata(ctx, conditionIDs(all))
	if err != nil {
		slog.Warn("gamma enrichment failed, continuing with CLOB data only", "err", err)
	}

	summaries := make([]ports.MarketSummary, 0, len(all))
	for _, m := range all {
		if !m.Active || m.Closed {
			continue
		}
		summaries = append(summaries, mapMarketSummary(m, gammaByCondition[m.ConditionID]))
	}
	return summaries, nil
}

// FetchMarketDetail resolves a single market's full detail, including both
// outcome token IDs, by condition ID.
func (c *Client) FetchMarketDetail(ctx context.Context, conditionID string) (ports.MarketDetail, error) {
	url := c.clobBase + marketPath + conditionID
	var m samplingMarket
	if err := c.get(ctx, c.clobLimiter, url, &m); err != nil {
		return ports.MarketDetail{}, fmt.Errorf("clob.FetchMarketDetail %s: %w", conditionID, err)
	}

	gm, err := c.fetchGammaMetadata(ctx, []string{conditionID})
	if err != nil {
		slog.Debug("gamma enrichment failed for single market", "condition_id", conditionID, "err", err)
	}

	detail := ports.MarketDetail{ConditionID: m.ConditionID}
	for _, t := range m.Tokens {
		switch t.Outcome {
		case "Yes", "YES", "yes":
			detail.YesTokenID = t.TokenID
			detail.Probability = money.MustFromString(fmt.Sprintf("%.6f", t.Price))
		case "No", "NO", "no":
			detail.NoTokenID = t.TokenID
		}
	}
	if meta, ok := gm[conditionID]; ok {
		applyGammaMeta(&detail, meta)
	}
	return detail, nil
}

// GetPrice returns the current CLOB price for a token on the given side.
func (c *Client) GetPrice(ctx context.Context, tokenID string, side domain.Side) (money.Money, error) {
	url := fmt.Sprintf("%s%s?token_id=%s&side=%s", c.clobBase, pricePath, tokenID, clobSideString(side))
	var resp clobPriceResponse
	if err := c.get(ctx, c.clobLimiter, url, &resp); err != nil {
		return money.Zero, fmt.Errorf("clob.GetPrice %s: %w", tokenID, err)
	}
	price, err := money.FromString(resp.Price)
	if err != nil {
		return money.Zero, fmt.Errorf("clob.GetPrice %s: parse price: %w", tokenID, err)
	}
	return price, nil
}

// IsNegRisk reports whether a token trades under the NegRisk CTF adapter.
func (c *Client) IsNegRisk(ctx context.Context, tokenID string) (bool, error) {
	url := fmt.Sprintf("%s%s?token_id=%s", c.clobBase, negRiskPath, tokenID)
	var resp clobNegRiskResponse
	if err := c.get(ctx, c.clobLimiter, url, &resp); err != nil {
		return false, fmt.Errorf("clob.IsNegRisk %s: %w", tokenID, err)
	}
	return resp.NegRisk, nil
}

func conditionIDs(markets []samplingMarket) []string {
	ids := make([]string, len(markets))
	for i, m := range markets {
		ids[i] = m.ConditionID
	}
	return ids
}

func mapMarketSummary(m samplingMarket, gm gammaMarket) ports.MarketSummary {
	s := ports.MarketSummary{ConditionID: m.ConditionID}
	for _, t := range m.Tokens {
		if t.Outcome == "Yes" || t.Outcome == "YES" || t.Outcome == "yes" {
			s.Probability = money.MustFromString(fmt.Sprintf("%.6f", t.Price))
		}
	}
	s.Question = gm.Question
	if liq, err := gm.Liquidity.Float64(); err == nil {
		s.LiquidityUSD = money.MustFromString(fmt.Sprintf("%.2f", liq))
	}
	if gm.EndDateISO != "" {
		s.ResolvesAt = parseGammaDate(gm.EndDateISO)
	}
	return s
}

func applyGammaMeta(d *ports.MarketDetail, gm gammaMarket) {
	d.Question = gm.Question
	if liq, err := gm.Liquidity.Float64(); err == nil {
		d.LiquidityUSD = money.MustFromString(fmt.Sprintf("%.2f", liq))
	}
	if gm.EndDateISO != "" {
		d.ResolvesAt = parseGammaDate(gm.EndDateISO)
	}
}

func parseGammaDate(s string) time.Time {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func clobSideString(side domain.Side) string {
	if side == domain.Sell {
		return "SELL"
	}
	return "BUY"
}
