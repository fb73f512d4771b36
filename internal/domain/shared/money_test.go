package shared

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	testCases := []struct {
		in      string
		want    Cents
		wantErr bool
	}{
		{"25.50", 2550, false},
		{"100", 10000, false},
		{"0.01", 1, false},
		{"-10.00", -1000, false},
		{"0.1", 10, false},
		{"1.005", 0, true},
		{"abc", 0, true},
		{"", 0, true},
		{"99999999999999999999", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseAmount(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "25.50", FormatAmount(2550))
	assert.Equal(t, "0.00", FormatAmount(0))
	assert.Equal(t, "-0.05", FormatAmount(-5))
	assert.True(t, ToDecimal(8950).Equal(decimal.RequireFromString("89.5")))
}

func TestRequirePositive(t *testing.T) {
	assert.NoError(t, RequirePositive(1))
	assert.ErrorIs(t, RequirePositive(0), ErrInvalidAmount)
	assert.ErrorIs(t, RequirePositive(-1), ErrInvalidAmount)
}

func TestAccumulationHasNoDrift(t *testing.T) {
	// 0.10 added a thousand times in float64 drifts; in cents it must not
	var total Cents
	step, err := ParseAmount("0.10")
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		total += step
	}
	assert.Equal(t, "100.00", FormatAmount(total))
}
