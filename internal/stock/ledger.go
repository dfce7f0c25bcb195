package stock

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// Store is the persistence contract the ledger drives. Update must fail
// with ErrVersionConflict when the row changed since Get.
type Store interface {
	Get(ctx context.Context, productID int64) (*Stock, error)
	Update(ctx context.Context, s *Stock) error
}

// Ledger applies the four stock transitions under optimistic concurrency.
// Each call is a read-modify-write retried up to maxRetries times on a
// version conflict; no lock is held across the operation.
type Ledger struct {
	store      Store
	maxRetries int
}

func NewLedger(store Store, maxRetries int) *Ledger {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Ledger{store: store, maxRetries: maxRetries}
}

// mutate runs fn against a freshly loaded row and writes the result back.
// fn returning (false, nil) means a clean business refusal: nothing is
// written and false is passed through.
func (l *Ledger) mutate(ctx context.Context, productID int64, fn func(*Stock) (bool, error)) (bool, error) {
	for attempt := 0; attempt < l.maxRetries; attempt++ {
		s, err := l.store.Get(ctx, productID)
		if err != nil {
			return false, err
		}
		ok, err := fn(s)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		err = l.store.Update(ctx, s)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return false, err
		}
		log.Debug().Int64("product", productID).Int("attempt", attempt+1).
			Msg("ledger: version conflict, retrying")
	}
	return false, ErrStockConflict
}

// Reserve holds qty units of productID. The boolean is the business
// outcome; an error is infrastructure or contract failure.
func (l *Ledger) Reserve(ctx context.Context, productID int64, qty int64) (bool, error) {
	return l.mutate(ctx, productID, func(s *Stock) (bool, error) {
		return s.Reserve(qty)
	})
}

// Commit consumes a prior reservation.
func (l *Ledger) Commit(ctx context.Context, productID int64, qty int64) error {
	_, err := l.mutate(ctx, productID, func(s *Stock) (bool, error) {
		if err := s.Commit(qty); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}

// Release returns a reservation to the available pool.
func (l *Ledger) Release(ctx context.Context, productID int64, qty int64) error {
	_, err := l.mutate(ctx, productID, func(s *Stock) (bool, error) {
		if err := s.Release(qty); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}

// Replenish restores previously committed stock.
func (l *Ledger) Replenish(ctx context.Context, productID int64, qty int64) error {
	_, err := l.mutate(ctx, productID, func(s *Stock) (bool, error) {
		if err := s.Replenish(qty); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}

// SetTotalQuantity is the administrative override.
func (l *Ledger) SetTotalQuantity(ctx context.Context, productID int64, v int64) error {
	_, err := l.mutate(ctx, productID, func(s *Stock) (bool, error) {
		if err := s.SetTotalQuantity(v); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}
