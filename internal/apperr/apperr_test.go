package apperr_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
)

func TestKind(t *testing.T) {
	notFound := apperr.New(apperr.ErrNotFound, "order not found")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "direct", err: notFound, want: apperr.ErrNotFound},
		{name: "wrapped", err: fmt.Errorf("service: failed to load: %w", notFound), want: apperr.ErrNotFound},
		{name: "stock", err: apperr.Newf(apperr.ErrInsufficientStock, "product %s", "p1"), want: apperr.ErrInsufficientStock},
		{name: "plain", err: fmt.Errorf("boom"), want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.Kind(tt.err))
		})
	}
}

func TestError_IsMatchesSameKindAndMessage(t *testing.T) {
	sentinel := apperr.New(apperr.ErrConflict, "order already shipped")
	copyErr := apperr.New(apperr.ErrConflict, "order already shipped")

	assert.ErrorIs(t, fmt.Errorf("wrap: %w", copyErr), sentinel)
	assert.NotErrorIs(t, apperr.New(apperr.ErrConflict, "other"), sentinel)
	assert.Equal(t, "order already shipped", copyErr.Error())
}
