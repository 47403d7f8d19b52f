package http

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/vasiliy-maslov/ecommerce-storefront/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-storefront/internal/inventory"
)

var ErrInvalidVariant = apperr.New(apperr.ErrValidation, "variant must be an object, an array of objects, or a colour")

// VariantInput decodes a selected variant from any of the shapes clients
// send: an object, an array of objects (first one wins), a JSON string
// holding either of those, or a bare colour string.
type VariantInput struct {
	inventory.Variant
}

func (v *VariantInput) UnmarshalJSON(data []byte) error {
	variant, err := NormalizeVariant(data)
	if err != nil {
		return err
	}
	v.Variant = variant
	return nil
}

type variantObject struct {
	Color  string `json:"color"`
	Colour string `json:"colour"`
	Image  string `json:"image"`
}

func (o variantObject) variant() inventory.Variant {
	color := o.Color
	if color == "" {
		color = o.Colour
	}
	return inventory.Variant{Color: strings.TrimSpace(color), Image: strings.TrimSpace(o.Image)}
}

func NormalizeVariant(raw []byte) (inventory.Variant, error) {
	return normalizeVariant(raw, false)
}

// unwrapped is set once a JSON string has been decoded, so a payload is
// never unwrapped twice.
func normalizeVariant(raw []byte, unwrapped bool) (inventory.Variant, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return inventory.Variant{}, nil
	}

	switch raw[0] {
	case '{':
		var obj variantObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return inventory.Variant{}, ErrInvalidVariant
		}
		return obj.variant(), nil

	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return inventory.Variant{}, ErrInvalidVariant
		}
		if len(list) == 0 {
			return inventory.Variant{}, nil
		}
		// элементы массива могут быть и объектами, и строками
		return normalizeVariant(list[0], unwrapped)

	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return inventory.Variant{}, ErrInvalidVariant
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return inventory.Variant{}, nil
		}
		if s[0] == '{' || s[0] == '[' {
			if unwrapped {
				return inventory.Variant{}, ErrInvalidVariant
			}
			return normalizeVariant([]byte(s), true)
		}
		return inventory.Variant{Color: s}, nil
	}

	return inventory.Variant{}, ErrInvalidVariant
}
