package shipping

import "github.com/shopspring/decimal"

const (
	volumetricDivisor = 5000
	weightPlaces      = 3
	moneyPlaces       = 2
)

// VolumetricWeight returns L×W×H/5000 in kilograms for dimensions in centimetres.
func (dimensions Dimensions) VolumetricWeight() decimal.Decimal {
	volume := dimensions.LengthCm.Mul(dimensions.WidthCm).Mul(dimensions.HeightCm)
	return volume.Div(decimal.NewFromInt(volumetricDivisor))
}

// Measure sums physical and volumetric weight across items. Items without
// dimensions add nothing to the volumetric total.
func Measure(items []LockerItem) Weights {
	total := decimal.Zero
	volumetric := decimal.Zero
	for _, item := range items {
		total = total.Add(item.WeightKg)
		if item.Dimensions != nil {
			volumetric = volumetric.Add(item.Dimensions.VolumetricWeight())
		}
	}
	total = total.Round(weightPlaces)
	volumetric = volumetric.Round(weightPlaces)
	return Weights{
		Total:      total,
		Volumetric: volumetric,
		Chargeable: decimal.Max(total, volumetric),
	}
}
