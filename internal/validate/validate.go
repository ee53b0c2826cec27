// Package validate holds the small input-validation helpers shared by the
// leader monitor, risk gate, and executor: wallet address checksums, hex
// identifiers, and bounds on prices/amounts. None of these return bool —
// every check returns an error describing what was wrong, per the error
// taxonomy.
package validate

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alexrivas/mirrorbot/internal/money"
)

// Address validates and checksum-normalizes an EVM address. It rejects
// anything that isn't a well-formed 20-byte hex address.
func Address(s string) (string, error) {
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("validate.Address: %q is not a valid hex address", s)
	}
	return common.HexToAddress(s).Hex(), nil
}

// HexID validates a 0x-prefixed hex identifier (tx hash, condition ID,
// token ID) of an expected byte length. byteLen <= 0 skips the length
// check and only validates hex-ness.
func HexID(s string, byteLen int) error {
	if !strings.HasPrefix(s, "0x") {
		return fmt.Errorf("validate.HexID: %q missing 0x prefix", s)
	}
	hexPart := s[2:]
	if byteLen > 0 && len(hexPart) != byteLen*2 {
		return fmt.Errorf("validate.HexID: %q expected %d bytes, got %d hex chars", s, byteLen, len(hexPart))
	}
	for _, r := range hexPart {
		if !isHexDigit(r) {
			return fmt.Errorf("validate.HexID: %q contains non-hex character %q", s, r)
		}
	}
	return nil
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

// Price validates that p lies in the open interval (0, 1), the valid range
// for a binary-market share price.
func Price(p money.Money) error {
	if !p.IsPositive() {
		return fmt.Errorf("validate.Price: %s must be positive", p)
	}
	if !p.LessThan(money.FromInt(1)) {
		return fmt.Errorf("validate.Price: %s must be less than 1", p)
	}
	return nil
}

// Amount validates that amt is a positive size/quantity.
func Amount(amt money.Money) error {
	if !amt.IsPositive() {
		return fmt.Errorf("validate.Amount: %s must be positive", amt)
	}
	return nil
}

// MaskAddress renders an address for logs without exposing the full value:
// "0x1234ab…cdef01". Used wherever a leader or follower wallet address
// would otherwise land in a log line verbatim.
func MaskAddress(addr string) string {
	if len(addr) < 14 {
		return addr
	}
	return addr[:8] + "…" + addr[len(addr)-6:]
}
