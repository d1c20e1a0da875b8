package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrEmptyPrice is returned by ParsePrice for blank input.
var ErrEmptyPrice = errors.New("storage: empty price value")

// Observation is one scraped price point for a currency.
type Observation struct {
	ID                 int64
	CurrencyID         string
	CurrencyName       string
	FormattedName      string
	PriceValue         string
	ExchangePriceValue string
	ObservedAt         time.Time
	CreatedAt          time.Time
}

// Price returns the normalised base price.
func (o Observation) Price() (decimal.Decimal, error) {
	return ParsePrice(o.PriceValue)
}

// ExchangePrice returns the normalised exchange price.
func (o Observation) ExchangePrice() (decimal.Decimal, error) {
	return ParsePrice(o.ExchangePriceValue)
}

// Validate checks the fields required for persistence.
func (o Observation) Validate() error {
	if strings.TrimSpace(o.CurrencyID) == "" {
		return ErrEmptyCurrencyID
	}
	if o.ObservedAt.IsZero() {
		return fmt.Errorf("observation %s: observed_at not set", o.CurrencyID)
	}
	return nil
}

var nameReplacer = strings.NewReplacer(" ", "", "'", "", "(", "", ")", "")

// FormatName turns a display name into a slug by removing spaces,
// apostrophes and parentheses.
func FormatName(name string) string {
	return nameReplacer.Replace(name)
}

var priceReplacer = strings.NewReplacer(
	",", "",
	"_", "",
	" ", "",
	"\u00a0", "",
	"\u202f", "",
)

// ParsePrice normalises a scraped price string (thousands separators and
// stray whitespace removed) into a decimal.
func ParsePrice(raw string) (decimal.Decimal, error) {
	cleaned := priceReplacer.Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return decimal.Zero, ErrEmptyPrice
	}
	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", raw, err)
	}
	return value, nil
}
