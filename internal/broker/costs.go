package broker

import (
	"fmt"
	"math"

	"github.com/newthinker/tradesim/internal/core"
)

// CostConfig defines the trading frictions charged on every fill.
// All rates are fractions of the traded amount.
type CostConfig struct {
	// CommissionRate is the broker commission rate.
	CommissionRate float64 `json:"commission_rate"`
	// MinCommission is the floor applied to the commission alone.
	MinCommission float64 `json:"min_commission"`
	// StampDutyRate is charged on sells only.
	StampDutyRate float64 `json:"stamp_duty_rate"`
	// TransferFeeRate is charged on both sides.
	TransferFeeRate float64 `json:"transfer_fee_rate"`
	// SlippageRate models execution slippage on both sides.
	SlippageRate float64 `json:"slippage_rate"`
}

// DefaultCostConfig returns A-share retail frictions.
func DefaultCostConfig() CostConfig {
	return CostConfig{
		CommissionRate:  0.0003,
		MinCommission:   5,
		StampDutyRate:   0.001,
		TransferFeeRate: 0.00002,
		SlippageRate:    0.0005,
	}
}

// Validate rejects negative or absurd rates.
func (c CostConfig) Validate() error {
	rates := map[string]float64{
		"commission_rate":   c.CommissionRate,
		"stamp_duty_rate":   c.StampDutyRate,
		"transfer_fee_rate": c.TransferFeeRate,
		"slippage_rate":     c.SlippageRate,
	}
	for name, v := range rates {
		if v < 0 || v >= 1 || math.IsNaN(v) {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("%s must be in [0,1), got %v", name, v))
		}
	}
	if c.MinCommission < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("min_commission cannot be negative, got %v", c.MinCommission))
	}
	return nil
}

// Commission returns the total friction for trading amount on the given side:
// max(amount*rate, min) + stamp duty (sells) + transfer fee + slippage.
// It is a pure function of its inputs.
func (c CostConfig) Commission(amount float64, side OrderSide) float64 {
	commission := math.Max(amount*c.CommissionRate, c.MinCommission)
	if side == OrderSideSell {
		commission += amount * c.StampDutyRate
	}
	commission += amount * c.TransferFeeRate
	commission += amount * c.SlippageRate
	return commission
}
