package stock

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// memStore implements Store with the same conditional-write contract as the
// sqlite repository.
type memStore struct {
	mu   sync.Mutex
	rows map[int64]Stock
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[int64]Stock)}
}

func (m *memStore) put(s Stock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.ProductID] = s
}

func (m *memStore) Get(_ context.Context, productID int64) (*Stock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[productID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *memStore) Update(_ context.Context, s *Stock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[s.ProductID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != s.Version {
		return ErrVersionConflict
	}
	s.Version++
	m.rows[s.ProductID] = *s
	return nil
}

func TestLedgerConcurrentReservesNeverOversell(t *testing.T) {
	st := newMemStore()
	st.put(Stock{ProductID: 7, TotalQty: 10})
	ledger := NewLedger(st, 50)

	// quantities sum to 15 against available=10
	quantities := []int64{4, 3, 3, 2, 2, 1}
	results := make([]bool, len(quantities))
	var wg sync.WaitGroup
	for i, q := range quantities {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ledger.Reserve(context.Background(), 7, q)
			if err != nil {
				t.Errorf("reserve(%d): %v", q, err)
				return
			}
			results[i] = ok
		}()
	}
	wg.Wait()

	var reserved int64
	for i, ok := range results {
		if ok {
			reserved += quantities[i]
		}
	}
	final, err := st.Get(context.Background(), 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.HeldQty != reserved {
		t.Fatalf("held=%d but successful reserves sum to %d", final.HeldQty, reserved)
	}
	if final.HeldQty > final.TotalQty {
		t.Fatalf("oversold: held=%d total=%d", final.HeldQty, final.TotalQty)
	}
	if reserved != 10 {
		t.Fatalf("successful reservations sum to %d, want exactly 10", reserved)
	}
}

// conflictStore always reports a stale version.
type conflictStore struct{}

func (conflictStore) Get(context.Context, int64) (*Stock, error) {
	return &Stock{ProductID: 1, TotalQty: 10}, nil
}

func (conflictStore) Update(context.Context, *Stock) error {
	return ErrVersionConflict
}

func TestLedgerSurfacesContentionAfterBoundedRetries(t *testing.T) {
	ledger := NewLedger(conflictStore{}, 3)
	ok, err := ledger.Reserve(context.Background(), 1, 1)
	if ok {
		t.Fatalf("reserve should not report success under permanent conflict")
	}
	if !errors.Is(err, ErrStockConflict) {
		t.Fatalf("got %v, want ErrStockConflict", err)
	}
}

func TestLedgerInsufficientIsNotAnError(t *testing.T) {
	st := newMemStore()
	st.put(Stock{ProductID: 1, TotalQty: 2})
	ledger := NewLedger(st, 3)

	ok, err := ledger.Reserve(context.Background(), 1, 3)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if ok {
		t.Fatalf("reserve beyond available should refuse")
	}
	s, _ := st.Get(context.Background(), 1)
	if s.HeldQty != 0 || s.Version != 0 {
		t.Fatalf("refused reserve must not write: held=%d version=%d", s.HeldQty, s.Version)
	}
}

func TestLedgerUnknownProduct(t *testing.T) {
	ledger := NewLedger(newMemStore(), 3)
	if _, err := ledger.Reserve(context.Background(), 99, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}
