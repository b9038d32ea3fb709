package model

import "github.com/shopspring/decimal"

// CartLine snapshots the price data of a product or variant at the moment it
// was added, so later catalog edits do not shift an open cart.
type CartLine struct {
	ID            string        `json:"ID"`
	ProductID     string        `json:"productID"`
	VariantID     string        `json:"variantID,omitempty"`
	Name          string        `json:"name"`
	UnitBasePrice RawPrice      `json:"unitBasePrice"`
	Tiers         []PricingTier `json:"tiers,omitempty"`
	Quantity      int           `json:"quantity"`
}

type AddToCartInput struct {
	ProductID string `json:"productID"`
	VariantID string `json:"variantID,omitempty"`
	Quantity  int    `json:"quantity"`
}

type UpdateQuantityInput struct {
	Quantity int `json:"quantity"`
}

type CartLineOutput struct {
	CartLine
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

type CartOutput struct {
	Lines    []CartLineOutput `json:"lines"`
	Subtotal decimal.Decimal  `json:"subtotal"`
}
