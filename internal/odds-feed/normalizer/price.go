package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// parsePrice aceita o preço como string ou número JSON, sem passar por float64,
// e converte para odd decimal.
func parsePrice(raw json.RawMessage, format string) (decimal.Decimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Decimal{}, errors.New("price is required")
	}

	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return decimal.Decimal{}, err
		}
	} else {
		text = string(raw)
	}
	text = strings.TrimSpace(text)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "decimal":
		return decimal.NewFromString(text)
	case "fractional":
		return fromFractional(text)
	case "american", "moneyline":
		return fromAmerican(text)
	default:
		return decimal.Decimal{}, fmt.Errorf("unknown price_format %q", format)
	}
}

// fromFractional converte "5/2" em 3.5.
func fromFractional(text string) (decimal.Decimal, error) {
	num, den, ok := strings.Cut(text, "/")
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("fractional price %q must be n/d", text)
	}
	n, err := decimal.NewFromString(strings.TrimSpace(num))
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, err := decimal.NewFromString(strings.TrimSpace(den))
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !d.IsPositive() || n.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("fractional price %q out of domain", text)
	}
	return n.DivRound(d, 4).Add(decimal.NewFromInt(1)), nil
}

// fromAmerican converte +150 em 2.5 e -200 em 1.5.
func fromAmerican(text string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimPrefix(text, "+"))
	if err != nil {
		return decimal.Decimal{}, err
	}
	one := decimal.NewFromInt(1)
	switch {
	case v.GreaterThanOrEqual(hundred):
		return v.DivRound(hundred, 4).Add(one), nil
	case v.LessThanOrEqual(hundred.Neg()):
		return hundred.DivRound(v.Abs(), 4).Add(one), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("american price %q must be <= -100 or >= 100", text)
	}
}
