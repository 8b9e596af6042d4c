package domain

// UnitsPerListing is the quantity every cart entry holds. Classified listings
// are sold as one indivisible unit, so a listing is either in the cart or not.
const UnitsPerListing = 1

// QuantityPolicy maps a requested quantity (>= 1) to the quantity persisted
// for a cart entry.
type QuantityPolicy func(requested int) int

// SingleUnit enforces UnitsPerListing regardless of the requested value.
func SingleUnit(int) int {
	return UnitsPerListing
}
