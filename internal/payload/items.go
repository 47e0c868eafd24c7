package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedItems is returned by ParseOrderItems when the stored items cannot be decoded.
var ErrMalformedItems = errors.New("payload: malformed order items")

// maxItemsNesting bounds how many times a JSON string may wrap the items value.
const maxItemsNesting = 2

// maxQuantity bounds a line quantity so the conversion to int is exact on every platform.
const maxQuantity = math.MaxInt32

// OrderItem is one line item as stored on the order.
type OrderItem struct {
	Weight   float64 `json:"weight"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// EffectiveQuantity treats a missing or non-positive quantity as a single plate.
func (i OrderItem) EffectiveQuantity() int {
	if i.Quantity <= 0 {
		return 1
	}
	return i.Quantity
}

// ParseOrderItems decodes the order's items. It accepts a JSON array of items, a single
// item object, or a JSON string whose content is either. Empty or null input yields an
// empty list.
func ParseOrderItems(raw json.RawMessage) ([]OrderItem, error) {
	return parseItems(raw, 0)
}

func parseItems(raw []byte, depth int) ([]OrderItem, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []OrderItem{}, nil
	}

	switch trimmed[0] {
	case '"':
		if depth >= maxItemsNesting {
			return nil, fmt.Errorf("%w: items nested in too many strings", ErrMalformedItems)
		}
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedItems, err)
		}
		return parseItems([]byte(inner), depth+1)
	case '[':
		var list []rawItem
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedItems, err)
		}
		items := make([]OrderItem, 0, len(list))
		for _, r := range list {
			item, err := r.item()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	case '{':
		var single rawItem
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedItems, err)
		}
		item, err := single.item()
		if err != nil {
			return nil, err
		}
		return []OrderItem{item}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %q", ErrMalformedItems, trimmed[0])
	}
}

// rawItem tolerates numbers written as strings, which older checkout forms produced.
type rawItem struct {
	Weight   flexNumber `json:"weight"`
	Quantity flexNumber `json:"quantity"`
	Price    flexNumber `json:"price"`
}

func (r rawItem) item() (OrderItem, error) {
	q := float64(r.Quantity)
	if q > maxQuantity || q < -maxQuantity {
		return OrderItem{}, fmt.Errorf("%w: quantity %g out of range", ErrMalformedItems, q)
	}
	return OrderItem{
		Weight:   float64(r.Weight),
		Quantity: int(q),
		Price:    float64(r.Price),
	}, nil
}

type flexNumber float64

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("invalid number %q", s)
		}
		*n = flexNumber(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = flexNumber(f)
	return nil
}
