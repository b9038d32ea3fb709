package model

type Product struct {
	ID        string        `json:"ID"`
	Name      string        `json:"name"`
	BasePrice RawPrice      `json:"basePrice"`
	Tiers     []PricingTier `json:"tiers,omitempty"`
	Stock     int           `json:"stock"`
	Variants  []Variant     `json:"variants,omitempty"`
}

// Variant is a sellable size of a product with its own price data.
type Variant struct {
	ID        string        `json:"ID"`
	Name      string        `json:"name"`
	BasePrice RawPrice      `json:"basePrice"`
	Tiers     []PricingTier `json:"tiers,omitempty"`
	Stock     int           `json:"stock"`
}
