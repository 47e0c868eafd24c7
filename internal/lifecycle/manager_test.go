package lifecycle

import (
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
)

func TestManager_ClosesInReverseOrder(t *testing.T) {
	m := NewManager(zerolog.Nop())
	var order []string
	for _, name := range []string{"db_pool", "store", "worker"} {
		name := name
		m.RegisterFunc(name, func() error {
			order = append(order, name)
			return nil
		})
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	want := []string{"worker", "store", "db_pool"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("close order = %v, want %v", order, want)
	}
}

func TestManager_AttemptsAllAndJoinsErrors(t *testing.T) {
	m := NewManager(zerolog.Nop())
	errStore := errors.New("store close failed")
	errPool := errors.New("pool close failed")
	closed := 0

	m.RegisterFunc("pool", func() error { closed++; return errPool })
	m.RegisterFunc("store", func() error { closed++; return errStore })
	m.RegisterFunc("worker", func() error { closed++; return nil })

	err := m.Close()
	if closed != 3 {
		t.Errorf("closed %d resources, want 3", closed)
	}
	if !errors.Is(err, errStore) || !errors.Is(err, errPool) {
		t.Errorf("Close() error = %v, want both errors joined", err)
	}
}

func TestManager_CloseTwice(t *testing.T) {
	m := NewManager(zerolog.Nop())
	calls := 0
	m.RegisterFunc("worker", func() error { calls++; return nil })
	m.Register("nil closer", nil)

	m.Close()
	m.Close()
	if calls != 1 {
		t.Errorf("resource closed %d times, want 1", calls)
	}
}
