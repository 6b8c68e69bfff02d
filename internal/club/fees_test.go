package club

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeePolicy_Compute(t *testing.T) {
	policy := NewFeePolicy(testConfig().Cancellation)

	tests := []struct {
		name         string
		total        string
		fee          string
		compensation string
		company      string
	}{
		{"clamped at max", "2500", "200", "120", "80"},
		{"rate applies", "1000", "100", "60", "40"},
		{"clamped at min", "100", "50", "30", "20"},
		{"fractional", "789.45", "78.95", "47.37", "31.58"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.Compute(dec(tt.total))
			assert.True(t, dec(tt.fee).Equal(got.Fee), got.Fee.String())
			assert.True(t, dec(tt.compensation).Equal(got.Compensation), got.Compensation.String())
			assert.True(t, dec(tt.company).Equal(got.CompanyShare), got.CompanyShare.String())
			assert.True(t, got.Fee.Equal(got.Compensation.Add(got.CompanyShare)))
		})
	}
}

func TestSplitEqually(t *testing.T) {
	shares := SplitEqually(dec("100"), 3)
	require.Len(t, shares, 3)
	assert.True(t, dec("33.33").Equal(shares[0]))
	assert.True(t, dec("33.33").Equal(shares[1]))
	assert.True(t, dec("33.34").Equal(shares[2]))

	shares = SplitEqually(dec("120"), 1)
	assert.True(t, dec("120").Equal(shares[0]))
	assert.Nil(t, SplitEqually(dec("10"), 0))
}
