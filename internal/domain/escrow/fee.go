package escrow

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidFeeRate = errors.New("fee rate must be a decimal between 0 and 1")
	ErrNegativeAmount = errors.New("escrow amount cannot be negative")
)

// FeePolicy splits a released escrow between the hunter and the platform.
type FeePolicy struct {
	rate decimal.Decimal
}

// Split is the result of applying the policy to an escrowed amount.
// PlatformFee + PayeeAmount always equals Amount.
type Split struct {
	Amount      int64 `json:"amount"`
	PlatformFee int64 `json:"platform_fee"`
	PayeeAmount int64 `json:"payee_amount"`
}

// NewFeePolicy parses rate, e.g. "0.05".
func NewFeePolicy(rate string) (FeePolicy, error) {
	r, err := decimal.NewFromString(rate)
	if err != nil {
		return FeePolicy{}, fmt.Errorf("%w: %v", ErrInvalidFeeRate, err)
	}
	if r.IsNegative() || r.GreaterThan(decimal.NewFromInt(1)) {
		return FeePolicy{}, ErrInvalidFeeRate
	}
	return FeePolicy{rate: r}, nil
}

// Rate returns the configured fraction.
func (p FeePolicy) Rate() decimal.Decimal {
	return p.rate
}

// Split rounds the fee half-up to whole minor units and gives the remainder to the payee.
func (p FeePolicy) Split(amount int64) (Split, error) {
	if amount < 0 {
		return Split{}, ErrNegativeAmount
	}
	// Round is half away from zero, which is half-up for non-negative values.
	fee := decimal.NewFromInt(amount).Mul(p.rate).Round(0).IntPart()
	return Split{
		Amount:      amount,
		PlatformFee: fee,
		PayeeAmount: amount - fee,
	}, nil
}
