package model

import "encoding/json"

// RawPrice is a price value exactly as persisted. Historical records mix
// plain JSON numbers with free-form text like "KES 1,200.50"; the original
// text is kept so the pricing layer can normalize it.
type RawPrice struct {
	Text string
}

func (p *RawPrice) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		p.Text = s
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	p.Text = n.String()
	return nil
}

func (p RawPrice) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Text)
}

type PricingTier struct {
	MinQuantity int      `json:"minQuantity"`
	UnitPrice   RawPrice `json:"unitPrice"`
}
