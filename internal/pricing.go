package internal

import (
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Top-G-420/Rue-Organics/internal/model"
)

// NormalizePrice extracts the numeric magnitude from a persisted price value.
// Currency prefixes and thousands separators are noise; only digits and the
// first decimal point survive. ErrInvalidPriceFormat when no digits remain.
func NormalizePrice(raw model.RawPrice) (decimal.Decimal, error) {
	var b strings.Builder
	digits, dot := false, false
	for _, r := range raw.Text {
		switch {
		case r >= '0' && r <= '9':
			digits = true
			b.WriteRune(r)
		case r == '.' && !dot:
			dot = true
			b.WriteRune(r)
		}
	}
	if !digits {
		return decimal.Zero, ErrInvalidPriceFormat
	}

	d, err := decimal.NewFromString(strings.TrimSuffix(b.String(), "."))
	if err != nil {
		return decimal.Zero, ErrInvalidPriceFormat
	}
	return d, nil
}

// PriceResolver computes effective unit prices from quantity tiers. It never
// fails: a price that cannot be normalized resolves to zero so the cart
// stays usable, and the bad value is logged instead.
type PriceResolver struct {
	logger *zap.SugaredLogger
}

func NewPriceResolver(logger *zap.SugaredLogger) *PriceResolver {
	return &PriceResolver{logger: logger}
}

// UnitPrice picks the tier with the largest MinQuantity that still covers
// quantity, keeping the first-encountered tier on a duplicate threshold, and
// falls back to the base price when no tier qualifies.
func (p *PriceResolver) UnitPrice(base model.RawPrice, tiers []model.PricingTier, quantity int) decimal.Decimal {
	best := -1
	for i, t := range tiers {
		if t.MinQuantity > quantity {
			continue
		}
		if best == -1 || t.MinQuantity > tiers[best].MinQuantity {
			best = i
		}
	}
	if best >= 0 {
		return p.normalize(tiers[best].UnitPrice)
	}
	return p.normalize(base)
}

func (p *PriceResolver) LineTotal(line model.CartLine) decimal.Decimal {
	unit := p.UnitPrice(line.UnitBasePrice, line.Tiers, line.Quantity)
	return unit.Mul(decimal.NewFromInt(int64(line.Quantity)))
}

func (p *PriceResolver) CartSubtotal(lines []model.CartLine) decimal.Decimal {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(p.LineTotal(l))
	}
	return subtotal
}

func (p *PriceResolver) normalize(raw model.RawPrice) decimal.Decimal {
	d, err := NormalizePrice(raw)
	if err != nil {
		p.logger.Errorf("price %q is not numeric, treating as zero", raw.Text)
		return decimal.Zero
	}
	return d
}
