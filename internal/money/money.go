package money

// Cents is an amount of money in integer cents. All pricing and ledger math
// operates on Cents so no float rounding can leak into balances.
type Cents int64

// BasisPoints expresses a percentage in 1/100ths of a percent. 10% == 1000.
type BasisPoints int64

const bpsDenominator = 10_000

// ApplyPercent returns the portion of amount described by bps, rounded
// half-up. A non-positive amount or rate yields zero.
func ApplyPercent(amount Cents, bps BasisPoints) Cents {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	product := int64(amount) * int64(bps)
	return Cents((product + bpsDenominator/2) / bpsDenominator)
}

// ApplyMultiplier scales amount by a multiplier expressed in basis points
// (15000 == 1.5x), rounded half-up. A non-positive multiplier leaves the
// amount unchanged.
func ApplyMultiplier(amount Cents, multiplierBps BasisPoints) Cents {
	if amount <= 0 {
		return 0
	}
	if multiplierBps <= 0 {
		return amount
	}
	product := int64(amount) * int64(multiplierBps)
	return Cents((product + bpsDenominator/2) / bpsDenominator)
}

// CapDiscount clamps a discount so it never exceeds the amount it applies to
// and never goes negative.
func CapDiscount(amount, discount Cents) Cents {
	if discount <= 0 {
		return 0
	}
	if discount > amount {
		return amount
	}
	return discount
}

// Min returns the smaller of two amounts.
func Min(a, b Cents) Cents {
	if a < b {
		return a
	}
	return b
}

// NonNegative floors an amount at zero.
func NonNegative(a Cents) Cents {
	if a < 0 {
		return 0
	}
	return a
}
