package payload

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseOrderItemsForms(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []OrderItem
	}{
		{"array", `[{"weight":45,"quantity":2,"price":89.5},{"weight":2.5,"quantity":4,"price":12}]`, []OrderItem{{45, 2, 89.5}, {2.5, 4, 12}}},
		{"single object", `{"weight":25,"quantity":1,"price":55}`, []OrderItem{{25, 1, 55}}},
		{"string wrapped array", `"[{\"weight\":10,\"quantity\":3,\"price\":25}]"`, []OrderItem{{10, 3, 25}}},
		{"string wrapped object", `"{\"weight\":35,\"quantity\":1,\"price\":70}"`, []OrderItem{{35, 1, 70}}},
		{"numeric strings", `[{"weight":"45","quantity":"2","price":"89.50"}]`, []OrderItem{{45, 2, 89.5}}},
		{"empty", ``, []OrderItem{}},
		{"null", `null`, []OrderItem{}},
		{"empty array", `[]`, []OrderItem{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOrderItems(json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("ParseOrderItems() error = %v", err)
			}
			if got == nil {
				t.Fatal("expected non-nil slice")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d (%+v)", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("item[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseOrderItemsMalformed(t *testing.T) {
	tests := []string{
		`not json`,
		`[{"weight":45,`,
		`42`,
		`"also not json"`,
		`[{"weight":"heavy"}]`,
		`[{"weight":"45","quantity":1,"price":"NaN"}]`,
		`[{"weight":"Infinity","quantity":1,"price":10}]`,
		`{"weight":45,"quantity":"-Inf","price":10}`,
		`[{"weight":45,"quantity":"1e20","price":10}]`,
		`{"weight":45,"quantity":1e20,"price":10}`,
		`"\"\\\"[]\\\"\""`,
	}

	for _, raw := range tests {
		items, err := ParseOrderItems(json.RawMessage(raw))
		if !errors.Is(err, ErrMalformedItems) {
			t.Errorf("ParseOrderItems(%q) error = %v, want ErrMalformedItems", raw, err)
		}
		if items != nil {
			t.Errorf("ParseOrderItems(%q) items = %+v, want nil", raw, items)
		}
	}
}

func TestEffectiveQuantity(t *testing.T) {
	tests := []struct {
		qty  int
		want int
	}{
		{-2, 1},
		{0, 1},
		{1, 1},
		{6, 6},
	}
	for _, tt := range tests {
		if got := (OrderItem{Quantity: tt.qty}).EffectiveQuantity(); got != tt.want {
			t.Errorf("EffectiveQuantity(%d) = %d, want %d", tt.qty, got, tt.want)
		}
	}
}
