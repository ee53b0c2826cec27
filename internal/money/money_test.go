package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromString_RejectsGarbage(t *testing.T) {
	_, err := FromString("not-a-number")
	assert.Error(t, err)
}

func TestFromString_PreservesPrecision(t *testing.T) {
	m, err := FromString("0.123456789012345678901234")
	require.NoError(t, err)
	assert.Equal(t, "0.123456789012345678901234", m.String())
}

func TestArithmetic(t *testing.T) {
	a := MustFromString("10.5")
	b := MustFromString("3")
	assert.Equal(t, "13.5", a.Add(b).String())
	assert.Equal(t, "7.5", a.Sub(b).String())
	assert.Equal(t, "31.5", a.Mul(b).String())
}

func TestSafeDiv_ZeroDenominator(t *testing.T) {
	a := MustFromString("10")
	zero := Zero
	fallback := MustFromString("-1")
	assert.Equal(t, fallback, a.SafeDiv(zero, fallback))
}

func TestClamp(t *testing.T) {
	lo := MustFromString("0")
	hi := MustFromString("1")
	assert.Equal(t, hi, MustFromString("5").Clamp(lo, hi))
	assert.Equal(t, lo, MustFromString("-5").Clamp(lo, hi))
	assert.Equal(t, MustFromString("0.5"), MustFromString("0.5").Clamp(lo, hi))
}

func TestRoundHalfUp(t *testing.T) {
	m := MustFromString("0.125")
	assert.Equal(t, "0.13", m.RoundHalfUp(2).String())
}

func TestFloor(t *testing.T) {
	m := MustFromString("12.987")
	assert.Equal(t, "12.98", m.Floor(2).String())

	neg := MustFromString("-1.001")
	assert.Equal(t, "-1.01", neg.Floor(2).String())
}

func TestIntPart(t *testing.T) {
	assert.Equal(t, int64(12), MustFromString("12.987").IntPart())
	assert.Equal(t, int64(-1), MustFromString("-1.987").IntPart())
}

// TestJSONFloatPoisoning guards P5: numeric JSON must never silently pass
// through a float64 representation that could lose precision.
func TestJSONFloatPoisoning(t *testing.T) {
	raw := `"0.1000000000000000000000000001"`
	var m Money
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	assert.Equal(t, "0.1000000000000000000000000001", m.String())

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestFromJSONNumber(t *testing.T) {
	m, err := FromJSONNumber(json.Number("0.73"))
	require.NoError(t, err)
	assert.True(t, m.Equal(MustFromString("0.73")))
}
