package leadermonitor

import (
	"encoding/binary"
	"fmt"

	"github.com/alexrivas/mirrorbot/internal/domain"
	"github.com/alexrivas/mirrorbot/internal/money"
	"github.com/alexrivas/mirrorbot/internal/validate"
)

// callKind is the closed sum type over supported exchange functions — the
// design-notes fix for the source's opportunistic dict-lookup decoding.
// A selector other than the configured one makes Decode return an error
// rather than panic; callUnknown is only the zero value and Decode never
// returns it.
type callKind int

const (
	callUnknown callKind = iota
	callFillOrder
)

// selectorLen is the length of a function selector (the first 4 bytes of
// keccak256 of the function signature). The fill selector itself is not a
// constant here: it comes from configuration and is handed to
// NewFixedLayoutDecoder, so the decoder stays ABI-version agnostic.
const selectorLen = 4

// decodedCall is the validated, typed result of decoding one transaction's
// call data.
type decodedCall struct {
	kind        callKind
	conditionID string
	tokenID     string
	side        domain.Side
	price       money.Money
	amount      money.Money
}

// Decoder maps raw call data for an allowlisted selector into a
// decodedCall. Swappable so tests can decode synthetic layouts without a
// real ABI.
type Decoder interface {
	Decode(input []byte) (decodedCall, error)
}

// fixedLayoutDecoder decodes a fixed-width call-data layout:
// [4]selector [32]conditionID [32]tokenID [32]side [32]priceWei [32]amountWei
// side is read from the low byte of its word (1 = SELL, anything else = BUY).
// priceWei/amountWei are big-endian uint64 in the low 8 bytes of their
// 32-byte word, scaled by 1e6 (USDC-style 6 decimals). This mirrors the
// integer-precision convention the teacher's buildSignedOrder uses for
// on-chain amounts, applied in reverse for decoding.
type fixedLayoutDecoder struct {
	selector [selectorLen]byte
}

// NewFixedLayoutDecoder builds a Decoder for a single allowlisted selector.
func NewFixedLayoutDecoder(selector [selectorLen]byte) Decoder {
	return fixedLayoutDecoder{selector: selector}
}

const wordLen = 32

func (d fixedLayoutDecoder) Decode(input []byte) (decodedCall, error) {
	minLen := selectorLen + 5*wordLen
	if len(input) < minLen {
		return decodedCall{}, fmt.Errorf("leadermonitor: call data too short: %d bytes", len(input))
	}
	if [selectorLen]byte(input[:selectorLen]) != d.selector {
		return decodedCall{}, fmt.Errorf("leadermonitor: selector not allowlisted")
	}

	off := selectorLen
	conditionID := hexWord(input[off : off+wordLen])
	off += wordLen
	tokenID := hexWord(input[off : off+wordLen])
	off += wordLen
	sideByte := input[off+wordLen-1]
	off += wordLen
	priceUnits := binary.BigEndian.Uint64(input[off+wordLen-8 : off+wordLen])
	off += wordLen
	amountUnits := binary.BigEndian.Uint64(input[off+wordLen-8 : off+wordLen])

	side := domain.Buy
	if sideByte == 1 {
		side = domain.Sell
	}

	price := money.FromInt(int64(priceUnits)).Div(money.FromInt(1_000_000))
	amount := money.FromInt(int64(amountUnits)).Div(money.FromInt(1_000_000))

	call := decodedCall{
		kind:        callFillOrder,
		conditionID: conditionID,
		tokenID:     tokenID,
		side:        side,
		price:       price,
		amount:      amount,
	}

	if err := validate.HexID(call.conditionID, wordLen); err != nil {
		return decodedCall{}, err
	}
	if err := validate.Price(call.price); err != nil {
		return decodedCall{}, err
	}
	if err := validate.Amount(call.amount); err != nil {
		return decodedCall{}, err
	}
	return call, nil
}

func hexWord(b []byte) string {
	return fmt.Sprintf("0x%x", b)
}
