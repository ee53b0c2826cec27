package leadermonitor

import (
	"encoding/json"

	"github.com/alexrivas/mirrorbot/internal/domain"
)

type cursorWire struct {
	LastProcessedBlock uint64 `json:"last_processed_block"`
}

func encodeCursor(c domain.LeaderCursor) []byte {
	data, err := json.Marshal(cursorWire{LastProcessedBlock: c.LastProcessedBlock})
	if err != nil {
		// Marshal of a plain struct of built-in types cannot fail; this
		// path exists only to satisfy the encode signature uniformly.
		return []byte(`{"last_processed_block":0}`)
	}
	return data
}

func decodeCursor(leader string, data []byte) (domain.LeaderCursor, error) {
	var w cursorWire
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.LeaderCursor{}, err
	}
	return domain.LeaderCursor{
		LeaderAddress:      leader,
		LastProcessedBlock: w.LastProcessedBlock,
		Healthy:            true,
	}, nil
}
