package polymarket

import (
	"context"
	"fmt"
	"strings"
)

const (
	gammaMarketsPath  = "/markets"
	gammaConditionMax = 20
)

// fetchGammaMetadata fetches Gamma metadata for the given condition IDs,
// batched to stay under the API's query-length limits. A batch that fails
// is skipped rather than aborting the whole call — enrichment is
// best-effort, never required for a market to be usable.
func (c *Client) fetchGammaMetadata(ctx context.Context, conditionIDs []string) (map[string]gammaMarket, error) {
	result := make(map[string]gammaMarket, len(conditionIDs))

	for i := 0; i < len(conditionIDs); i += gammaConditionMax {
		end := i + gammaConditionMax
		if end > len(conditionIDs) {
			end = len(conditionIDs)
		}
		batch := conditionIDs[i:end]

		url := fmt.Sprintf("%s%s?condition_ids=%s&limit=%d",
			c.gammaBase,
			gammaMarketsPath,
			strings.Join(batch, ","),
			gammaConditionMax,
		)

		var resp gammaMarketsResponse
		if err := c.get(ctx, c.gammaLimiter, url, &resp); err != nil {
			continue
		}
		for _, gm := range resp {
			result[gm.ConditionID] = gm
		}
	}

	return result, nil
}
