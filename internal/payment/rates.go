package payment

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/order"
)

type Rate struct {
	Version       string
	Rate          decimal.Decimal
	EffectiveFrom time.Time
}

// RateTable converts ledger amounts to the settlement currency with the rate
// that was effective at a given moment.
type RateTable struct {
	from  string
	to    string
	rates []Rate
}

func NewRateTable(from, to string, rates []Rate) (*RateTable, error) {
	if len(rates) == 0 {
		return nil, errors.New("payment: rate table needs at least one rate")
	}

	seen := make(map[string]bool, len(rates))
	sorted := make([]Rate, len(rates))
	copy(sorted, rates)
	for _, r := range sorted {
		if r.Version == "" {
			return nil, errors.New("payment: rate version is required")
		}
		if seen[r.Version] {
			return nil, fmt.Errorf("payment: duplicate rate version %q", r.Version)
		}
		seen[r.Version] = true
		if !r.Rate.IsPositive() {
			return nil, fmt.Errorf("payment: rate %q must be positive", r.Version)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EffectiveFrom.Before(sorted[j].EffectiveFrom) })

	return &RateTable{
		from:  strings.ToLower(from),
		to:    strings.ToLower(to),
		rates: sorted,
	}, nil
}

func (t *RateTable) LedgerCurrency() string {
	return t.from
}

func (t *RateTable) SettlementCurrency() string {
	return t.to
}

// Resolve returns the latest rate whose EffectiveFrom is not after at.
func (t *RateTable) Resolve(at time.Time) (Rate, error) {
	i := sort.Search(len(t.rates), func(i int) bool { return t.rates[i].EffectiveFrom.After(at) })
	if i == 0 {
		return Rate{}, ErrNoRate
	}
	return t.rates[i-1], nil
}

// Convert prices amount in the settlement currency, rounded to cents.
func (t *RateTable) Convert(amount decimal.Decimal, at time.Time) (order.PaymentSnapshot, error) {
	if !amount.IsPositive() {
		return order.PaymentSnapshot{}, ErrInvalidAmount
	}
	rate, err := t.Resolve(at)
	if err != nil {
		return order.PaymentSnapshot{}, err
	}

	converted := amount.Mul(rate.Rate).Round(2)
	if !converted.IsPositive() {
		return order.PaymentSnapshot{}, ErrInvalidAmount
	}

	return order.PaymentSnapshot{
		Amount:      converted,
		Currency:    t.to,
		RateVersion: rate.Version,
		Rate:        rate.Rate,
	}, nil
}

// MinorUnits converts a two-decimal amount into the provider's integer units.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
