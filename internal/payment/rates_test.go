package payment_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/payment"
)

func testRates(t *testing.T) *payment.RateTable {
	t.Helper()
	table, err := payment.NewRateTable("LKR", "USD", []payment.Rate{
		{Version: "2025-06", Rate: decimal.RequireFromString("0.0034"), EffectiveFrom: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		{Version: "2025-01", Rate: decimal.RequireFromString("0.0033"), EffectiveFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	return table
}

func TestRateTable_Resolve(t *testing.T) {
	table := testRates(t)

	tests := []struct {
		name        string
		at          time.Time
		wantVersion string
		wantErr     error
	}{
		{name: "before_first_rate", at: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), wantErr: payment.ErrNoRate},
		{name: "first_period", at: time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), wantVersion: "2025-01"},
		{name: "boundary", at: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), wantVersion: "2025-06"},
		{name: "latest", at: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), wantVersion: "2025-06"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, err := table.Resolve(tt.at)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, rate.Version)
		})
	}
}

func TestRateTable_ConvertKeepsHistoricalRate(t *testing.T) {
	table := testRates(t)

	snap, err := table.Convert(decimal.NewFromInt(1500), time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2025-01", snap.RateVersion)
	assert.Equal(t, "usd", snap.Currency)
	assert.True(t, snap.Amount.Equal(decimal.RequireFromString("4.95")), snap.Amount.String())
	assert.Equal(t, int64(495), payment.MinorUnits(snap.Amount))

	_, err = table.Convert(decimal.Zero, time.Now())
	assert.ErrorIs(t, err, payment.ErrInvalidAmount)
}

func TestNewRateTable_Validation(t *testing.T) {
	_, err := payment.NewRateTable("lkr", "usd", nil)
	assert.Error(t, err)

	_, err = payment.NewRateTable("lkr", "usd", []payment.Rate{
		{Version: "a", Rate: decimal.NewFromInt(1)},
		{Version: "a", Rate: decimal.NewFromInt(2)},
	})
	assert.Error(t, err)

	_, err = payment.NewRateTable("lkr", "usd", []payment.Rate{{Version: "a", Rate: decimal.Zero}})
	assert.Error(t, err)
}
