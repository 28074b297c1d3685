package escrow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeePolicy_Split(t *testing.T) {
	testCases := []struct {
		name        string
		rate        string
		amount      int64
		expectedFee int64
		expectedPay int64
	}{
		{"five percent of 10000", "0.05", 10000, 500, 9500},
		{"ten percent of 10000", "0.10", 10000, 1000, 9000},
		{"five percent of 50000", "0.05", 50000, 2500, 47500},
		{"half cent rounds up", "0.05", 10, 1, 9},
		{"below half rounds down", "0.05", 9, 0, 9},
		{"exact half of a cent", "0.5", 1, 1, 0},
		{"zero amount", "0.05", 0, 0, 0},
		{"zero rate", "0", 12345, 0, 12345},
		{"full rate", "1", 777, 777, 0},
		{"odd rate", "0.075", 1999, 150, 1849},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			policy, err := NewFeePolicy(tc.rate)
			require.NoError(t, err)

			split, err := policy.Split(tc.amount)
			require.NoError(t, err)

			assert.Equal(t, tc.expectedFee, split.PlatformFee)
			assert.Equal(t, tc.expectedPay, split.PayeeAmount)
			assert.Equal(t, tc.amount, split.PlatformFee+split.PayeeAmount)
		})
	}
}

func TestFeePolicy_SplitNeverLeaks(t *testing.T) {
	for _, rate := range []string{"0.05", "0.1", "0.033", "0.125", "0.999"} {
		policy, err := NewFeePolicy(rate)
		require.NoError(t, err)

		for amount := int64(0); amount <= 5000; amount++ {
			split, err := policy.Split(amount)
			require.NoError(t, err)
			if split.PlatformFee+split.PayeeAmount != amount || split.PlatformFee < 0 || split.PayeeAmount < 0 {
				t.Fatalf("rate %s amount %d split %+v", rate, amount, split)
			}
		}
	}
}

func TestNewFeePolicy_Invalid(t *testing.T) {
	for _, rate := range []string{"", "abc", "-0.01", "1.5"} {
		_, err := NewFeePolicy(rate)
		assert.ErrorIs(t, err, ErrInvalidFeeRate, rate)
	}
}

func TestFeePolicy_NegativeAmount(t *testing.T) {
	policy, err := NewFeePolicy("0.05")
	require.NoError(t, err)

	_, err = policy.Split(-1)
	assert.ErrorIs(t, err, ErrNegativeAmount)
}
