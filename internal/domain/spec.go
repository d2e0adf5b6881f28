package domain

// ContractSpec is the sizing/formatting contract of one instrument, taken
// from the exchange's public instrument list.
type ContractSpec struct {
	Symbol            string
	ContractPrecision int     // decimals of a contract quantity
	PricePrecision    int     // decimals of a price
	ContractSize      float64 // base units per contract
	PriceUnit         float64
	VolUnit           float64 // minimum contract step
	MaxLeverage       int
}

// Usable reports whether the spec carries enough data to size orders.
func (s ContractSpec) Usable() bool {
	return s.ContractSize > 0 && s.VolUnit > 0
}

// SpecProvider resolves instrument specs by normalized symbol.
type SpecProvider interface {
	Spec(symbol string) (ContractSpec, bool)
}
