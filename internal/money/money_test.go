package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestRoundHalfUp(t *testing.T) {
	cases := []struct{ in, want string }{
		{"1.005", "1.01"},
		{"1.004", "1.00"},
		{"1.995", "2.00"},
		{"0.125", "0.13"},
		{"49.97", "49.97"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Text(dec(t, c.in)), "round %s", c.in)
	}
}

func TestCartTotalScenario(t *testing.T) {
	// 2 units at 19.99 plus 9.99 shipping.
	unit := dec(t, "19.99")
	subtotal := Round(unit.Mul(decimal.NewFromInt(2)))
	assert.Equal(t, "39.98", Text(subtotal))

	total := Round(subtotal.Add(dec(t, "9.99")))
	assert.Equal(t, "49.97", Text(total))
}

func TestEqualIgnoresTrailingZeros(t *testing.T) {
	assert.True(t, Equal(dec(t, "49.97"), dec(t, "49.970")))
	assert.False(t, Equal(dec(t, "49.97"), dec(t, "49.96")))
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("12,50")
	assert.Error(t, err)
}
