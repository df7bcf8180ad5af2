package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	ErrInvalidCurrency = errors.New("invalid_currency")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrOverflow        = errors.New("amount_overflow")
)

// Money is an immutable amount held in the currency's minor units.
type Money struct {
	amount   int64
	currency string
	scale    int32
}

// FromMinorUnits builds a Money from an integer amount of minor units (cents for CAD).
func FromMinorUnits(amount int64, code string) (Money, error) {
	unit, scale, err := lookup(code)
	if err != nil {
		return Money{}, err
	}
	return Money{amount: amount, currency: unit.String(), scale: scale}, nil
}

// FromDecimal rounds d half away from zero to the currency's minor unit.
func FromDecimal(d decimal.Decimal, code string) (Money, error) {
	unit, scale, err := lookup(code)
	if err != nil {
		return Money{}, err
	}
	minor := d.Round(scale).Shift(scale)
	if !minor.IsInteger() {
		return Money{}, ErrInvalidAmount
	}
	if minor.GreaterThan(decimal.NewFromInt(maxInt64)) || minor.LessThan(decimal.NewFromInt(minInt64)) {
		return Money{}, ErrOverflow
	}
	return Money{amount: minor.IntPart(), currency: unit.String(), scale: scale}, nil
}

// FromString parses a decimal display value such as "33.33".
func FromString(value, code string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return FromDecimal(d, code)
}

// Zero returns a zero amount in the given currency.
func Zero(code string) (Money, error) {
	return FromMinorUnits(0, code)
}

func (m Money) MinorUnits() int64 { return m.amount }

func (m Money) Currency() string { return m.currency }

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.amount, -m.scale)
}

func (m Money) IsZero() bool { return m.amount == 0 }

func (m Money) IsNegative() bool { return m.amount < 0 }

func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount == other.amount
}

func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	sum := m.amount + other.amount
	if (other.amount > 0 && sum < m.amount) || (other.amount < 0 && sum > m.amount) {
		return Money{}, ErrOverflow
	}
	return Money{amount: sum, currency: m.currency, scale: m.scale}, nil
}

func (m Money) Subtract(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	diff := m.amount - other.amount
	if (other.amount > 0 && diff > m.amount) || (other.amount < 0 && diff < m.amount) {
		return Money{}, ErrOverflow
	}
	return Money{amount: diff, currency: m.currency, scale: m.scale}, nil
}

// MultiplyInt scales the amount by a whole quantity.
func (m Money) MultiplyInt(qty int64) (Money, error) {
	if qty == 0 || m.amount == 0 {
		return Money{amount: 0, currency: m.currency, scale: m.scale}, nil
	}
	product := m.amount * qty
	if product/qty != m.amount {
		return Money{}, ErrOverflow
	}
	return Money{amount: product, currency: m.currency, scale: m.scale}, nil
}

// Compare returns -1, 0 or 1.
func (m Money) Compare(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	switch {
	case m.amount < other.amount:
		return -1, nil
	case m.amount > other.amount:
		return 1, nil
	default:
		return 0, nil
	}
}

// Sum adds items in the given currency. An empty list sums to zero.
func Sum(code string, items ...Money) (Money, error) {
	total, err := Zero(code)
	if err != nil {
		return Money{}, err
	}
	for _, item := range items {
		total, err = total.Add(item)
		if err != nil {
			return Money{}, err
		}
	}
	return total, nil
}

// Format renders the amount for display in the given locale.
func (m Money) Format(tag language.Tag) string {
	unit, err := currency.ParseISO(m.currency)
	if err != nil {
		return m.String()
	}
	p := message.NewPrinter(tag)
	return p.Sprint(currency.Symbol(unit.Amount(m.Decimal().InexactFloat64())))
}

func (m Money) String() string {
	return m.Decimal().StringFixed(m.scale) + " " + m.currency
}

func (m Money) sameCurrency(other Money) error {
	if m.currency == "" || m.currency != other.currency {
		return fmt.Errorf("%w: %q vs %q", ErrInvalidCurrency, m.currency, other.currency)
	}
	return nil
}

const (
	maxInt64 = int64(^uint64(0) >> 1)
	minInt64 = -maxInt64 - 1
)

func lookup(code string) (currency.Unit, int32, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return currency.Unit{}, 0, ErrInvalidCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return currency.Unit{}, 0, fmt.Errorf("%w: %s", ErrInvalidCurrency, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return unit, int32(scale), nil
}
