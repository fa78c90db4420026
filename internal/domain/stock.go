package domain

// StockKey identifies one sellable unit: a product, optionally narrowed
// down to a single variant.
type StockKey struct {
	ProductID int64
	VariantID string
}

// StockInfo contains stock information for a key.
type StockInfo struct {
	OnHand int32 // total owned, independent of holds
	Held   int32 // claimed by active, unexpired reservations
}

// Available returns the sellable stock, on-hand minus held, floored at
// zero. Held can exceed on-hand after an operator lowers the stock level
// under active reservations; callers never see a negative number.
func (s StockInfo) Available() int32 {
	if s.Held >= s.OnHand {
		return 0
	}
	return s.OnHand - s.Held
}
