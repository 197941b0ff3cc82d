package shipping

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Pricing holds the configured tariff.
type Pricing struct {
	baseFee       decimal.Decimal
	perKgRate     decimal.Decimal
	insuranceRate decimal.Decimal
}

// NewPricing validates a tariff. All values must be non-negative and the
// insurance rate at most 1.
func NewPricing(baseFee, perKgRate, insuranceRate decimal.Decimal) (Pricing, error) {
	if baseFee.IsNegative() || perKgRate.IsNegative() {
		return Pricing{}, fmt.Errorf("%w: fee and rate must not be negative", ErrInvalidPricing)
	}
	if insuranceRate.IsNegative() || insuranceRate.GreaterThan(decimal.NewFromInt(1)) {
		return Pricing{}, fmt.Errorf("%w: insurance rate must be within [0, 1]", ErrInvalidPricing)
	}
	return Pricing{baseFee: baseFee, perKgRate: perKgRate, insuranceRate: insuranceRate}, nil
}

// BaseFee returns the flat fee.
func (pricing Pricing) BaseFee() decimal.Decimal { return pricing.baseFee }

// PerKgRate returns the rate per chargeable kilogram.
func (pricing Pricing) PerKgRate() decimal.Decimal { return pricing.perKgRate }

// InsuranceRate returns the insurance share of the shipping cost.
func (pricing Pricing) InsuranceRate() decimal.Decimal { return pricing.insuranceRate }

// Quote prices a chargeable weight. The result depends only on the weight and the tariff.
func (pricing Pricing) Quote(chargeableWeight decimal.Decimal) Quote {
	shipping := pricing.baseFee.Add(chargeableWeight.Mul(pricing.perKgRate)).Round(moneyPlaces)
	insurance := shipping.Mul(pricing.insuranceRate).Round(moneyPlaces)
	return Quote{
		ShippingCost:  shipping,
		InsuranceCost: insurance,
		TotalCost:     shipping.Add(insurance),
	}
}
