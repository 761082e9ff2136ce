package payment

import (
	"fmt"

	"github.com/shopspring/decimal"

	"lensbook/models"
)

// SplitRates are the deposit share of a total and the platform's cut per leg.
type SplitRates struct {
	DepositRate     decimal.Decimal
	PlatformFeeRate decimal.Decimal
}

// DefaultSplitRates is 30% deposit and 15% platform fee.
var DefaultSplitRates = SplitRates{
	DepositRate:     decimal.RequireFromString("0.30"),
	PlatformFeeRate: decimal.RequireFromString("0.15"),
}

// Validate rejects rates outside [0,1].
func (r SplitRates) Validate() error {
	one := decimal.NewFromInt(1)
	if r.DepositRate.IsNegative() || r.DepositRate.GreaterThan(one) {
		return fmt.Errorf("deposit rate %s outside [0,1]", r.DepositRate)
	}
	if r.PlatformFeeRate.IsNegative() || r.PlatformFeeRate.GreaterThan(one) {
		return fmt.Errorf("platform fee rate %s outside [0,1]", r.PlatformFeeRate)
	}
	return nil
}

// Split is the payment schedule of a reservation.
type Split struct {
	Deposit              models.Money `json:"deposit"`
	Balance              models.Money `json:"balance"`
	PlatformFeeOnDeposit models.Money `json:"platformFeeOnDeposit"`
	PlatformFeeOnBalance models.Money `json:"platformFeeOnBalance"`
}

// ComputeSplit rounds the deposit to the minor unit and derives the balance as
// its exact complement, so Deposit+Balance == total always holds. Platform fees
// are taken from each leg and never added to the client-facing total.
func ComputeSplit(total models.Money, rates SplitRates) (Split, error) {
	if total < 0 {
		return Split{}, fmt.Errorf("negative total %s", total)
	}
	if err := rates.Validate(); err != nil {
		return Split{}, err
	}
	deposit := total.MulRate(rates.DepositRate)
	balance := total - deposit
	return Split{
		Deposit:              deposit,
		Balance:              balance,
		PlatformFeeOnDeposit: PlatformFee(deposit, rates.PlatformFeeRate),
		PlatformFeeOnBalance: PlatformFee(balance, rates.PlatformFeeRate),
	}, nil
}

// PlatformFee is the marketplace's share of a collected amount.
func PlatformFee(amount models.Money, rate decimal.Decimal) models.Money {
	return amount.MulRate(rate)
}
