package tools

import (
	"math"

	investapi "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/shopspring/decimal"
)

const BILLION int64 = 1000000000

// FloatToQuotation rounds number to the nearest multiple of step and splits it into units and nanos.
func FloatToQuotation(number float64, step float64) *investapi.Quotation {
	if step <= 0 {
		step = 1 / float64(BILLION)
	}
	k := math.Round(number / step)
	decNumber := decimal.NewFromFloat(step).Mul(decimal.NewFromFloat(k))

	intPart := decNumber.IntPart()
	fracPart := decNumber.Sub(decimal.NewFromInt(intPart))

	nano := fracPart.Mul(decimal.NewFromInt(BILLION)).IntPart()
	return &investapi.Quotation{
		Units: intPart,
		Nano:  int32(nano),
	}
}

// RoundDown truncates amount to a whole number of steps. A zero step leaves amount as is.
func RoundDown(amount, step float64) float64 {
	if amount <= 0 {
		return 0
	}
	a := decimal.NewFromFloat(amount)
	if step <= 0 {
		return a.InexactFloat64()
	}
	s := decimal.NewFromFloat(step)
	return a.Div(s).Floor().Mul(s).InexactFloat64()
}

// Fraction returns part/whole, or zero when whole is not positive.
func Fraction(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole
}
