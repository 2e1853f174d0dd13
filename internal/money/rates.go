package money

import "github.com/shopspring/decimal"

// Side says which way the branch trades the foreign currency.
type Side int

const (
	// BranchSells: the customer buys foreign currency, commission is added to the rate.
	BranchSells Side = iota
	// BranchBuys: the customer sells foreign currency, commission is taken off the rate.
	BranchBuys
)

var hundred = decimal.NewFromInt(100)

// EffectiveRate applies a commission percentage to a base rate and rounds to RateScale digits.
func EffectiveRate(baseRate, commissionPercent decimal.Decimal, side Side) decimal.Decimal {
	c := commissionPercent.Div(hundred)
	factor := decimal.NewFromInt(1).Add(c)
	if side == BranchBuys {
		factor = decimal.NewFromInt(1).Sub(c)
	}
	return baseRate.Mul(factor).Round(RateScale)
}

// Legs are both sides of a trade plus the commission, all in minor units.
type Legs struct {
	Foreign    int64 // foreign currency quantity
	Local      int64 // local currency that changes hands
	Principal  int64 // local value at the base rate
	Commission int64 // local currency kept by the branch
}

// AmountsWithCommission derives both legs of a trade of quantity foreign minor units.
// The local leg and the commission come from the same two products, so they never disagree.
func AmountsWithCommission(foreign Currency, quantity int64, baseRate, effectiveRate decimal.Decimal) Legs {
	q := ToDecimal(foreign, quantity)
	gross := FromDecimal(Base, RoundBase(q.Mul(effectiveRate)))
	principal := FromDecimal(Base, RoundBase(q.Mul(baseRate)))

	commission := gross - principal
	if commission < 0 {
		commission = -commission
	}
	return Legs{
		Foreign:    quantity,
		Local:      gross,
		Principal:  principal,
		Commission: commission,
	}
}

// ForeignFor is the inverse of AmountsWithCommission: how much foreign currency a local amount buys.
// The result is rounded to the foreign currency's minor unit.
func ForeignFor(foreign Currency, local int64, effectiveRate decimal.Decimal) int64 {
	if effectiveRate.IsZero() {
		return 0
	}
	l := ToDecimal(Base, local)
	return FromDecimal(foreign, RoundTo(foreign, l.DivRound(effectiveRate, foreign.Exponent()+RateScale)))
}
