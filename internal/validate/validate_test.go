package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alexrivas/mirrorbot/internal/money"
)

func TestAddress_ChecksumsValid(t *testing.T) {
	got, err := Address("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	assert.NoError(t, err)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", got)
}

func TestAddress_RejectsGarbage(t *testing.T) {
	_, err := Address("not-an-address")
	assert.Error(t, err)
}

func TestHexID_RejectsMissingPrefix(t *testing.T) {
	err := HexID("deadbeef", 4)
	assert.Error(t, err)
}

func TestHexID_RejectsWrongLength(t *testing.T) {
	err := HexID("0xdead", 4)
	assert.Error(t, err)
}

func TestHexID_AcceptsValid(t *testing.T) {
	err := HexID("0xdeadbeef", 4)
	assert.NoError(t, err)
}

func TestPrice_RejectsOutOfBounds(t *testing.T) {
	assert.Error(t, Price(money.Zero))
	assert.Error(t, Price(money.FromInt(1)))
	assert.Error(t, Price(money.MustFromString("-0.1")))
	assert.NoError(t, Price(money.MustFromString("0.5")))
}

func TestAmount_RejectsNonPositive(t *testing.T) {
	assert.Error(t, Amount(money.Zero))
	assert.Error(t, Amount(money.MustFromString("-5")))
	assert.NoError(t, Amount(money.MustFromString("5")))
}

func TestMaskAddress(t *testing.T) {
	masked := MaskAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	assert.Equal(t, "0x5aAeb6…1BeAed", masked)
}

func TestMaskAddress_ShortStringUnchanged(t *testing.T) {
	assert.Equal(t, "short", MaskAddress("short"))
}
