package domain

import "strconv"

// PriceStatus distinguishes a priced value from the two failure sentinels.
type PriceStatus int

const (
	PriceOK PriceStatus = iota
	PriceMissing
	PriceError
)

// Sentinel renderings used in persisted artifacts.
const (
	MissingSentinel = "MISSING"
	ErrorSentinel   = "ERROR"
)

// PriceOutcome is a numeric value or one of the MISSING / ERROR sentinels.
type PriceOutcome struct {
	Status PriceStatus
	Value  float64
	Detail string
}

// Priced returns an OK outcome.
func Priced(v float64) PriceOutcome { return PriceOutcome{Status: PriceOK, Value: v} }

// Missing returns a MISSING outcome.
func Missing(detail string) PriceOutcome { return PriceOutcome{Status: PriceMissing, Detail: detail} }

// Errored returns an ERROR outcome.
func Errored(detail string) PriceOutcome { return PriceOutcome{Status: PriceError, Detail: detail} }

// OK reports whether the outcome carries a number.
func (p PriceOutcome) OK() bool { return p.Status == PriceOK }

// String renders the value or its sentinel.
func (p PriceOutcome) String() string {
	switch p.Status {
	case PriceMissing:
		return MissingSentinel
	case PriceError:
		return ErrorSentinel
	default:
		return strconv.FormatFloat(p.Value, 'f', -1, 64)
	}
}

// ParsePriceOutcome is the inverse of String.
func ParsePriceOutcome(s string) (PriceOutcome, error) {
	switch s {
	case MissingSentinel:
		return Missing(""), nil
	case ErrorSentinel:
		return Errored(""), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return PriceOutcome{}, err
	}
	return Priced(v), nil
}

// Price sources recorded per row.
const (
	SourceManual = "manual"
	SourceCache  = "cache"
	SourceOracle = "oracle"
	SourceNone   = "none"
)

// PricedIncentive is an apportioned incentive with its USD valuation.
type PricedIncentive struct {
	ApportionedIncentive
	Amount      float64
	UnitPrice   PriceOutcome
	USDValue    PriceOutcome
	PerVote     PriceOutcome
	PriceSource string
}
