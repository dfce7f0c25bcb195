// Package stock holds the per-product inventory ledger. Every mutation goes
// through the four ledger operations plus the administrative override; there
// is no other write path.
package stock

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuantity marks a caller contract violation: ledger
	// quantities must be positive.
	ErrInvalidQuantity = errors.New("stock: quantity must be positive")

	// ErrLedgerInconsistency means a commit or release was attempted for
	// more than is currently held. It indicates a missing prior
	// reservation and is a data-integrity alarm, not a business outcome.
	ErrLedgerInconsistency = errors.New("stock: held quantity smaller than requested")

	// ErrStockChangeInvalid rejects an administrative override to a
	// negative total.
	ErrStockChangeInvalid = errors.New("stock: total quantity must not be negative")

	// ErrVersionConflict is returned by a conditional write that observed
	// a stale version token.
	ErrVersionConflict = errors.New("stock: version conflict")

	// ErrStockConflict is surfaced after the bounded retry loop exhausted
	// its attempts against ErrVersionConflict.
	ErrStockConflict = errors.New("stock: concurrent update contention")

	// ErrNotFound means no ledger row exists for the product.
	ErrNotFound = errors.New("stock: product not found")
)

// Stock is the inventory record for one product. Version is the optimistic
// lock token, incremented by the repository on every successful write.
// Invariant: 0 <= HeldQty <= TotalQty.
type Stock struct {
	ProductID int64
	Version   int64
	TotalQty  int64
	HeldQty   int64
}

// Available is the quantity that can still be reserved.
func (s *Stock) Available() int64 {
	return s.TotalQty - s.HeldQty
}

// Reserve holds qty units provisionally. The insufficient case is a normal
// business outcome reported through the boolean, not an error.
func (s *Stock) Reserve(qty int64) (bool, error) {
	if qty <= 0 {
		return false, ErrInvalidQuantity
	}
	if s.Available() < qty {
		return false, nil
	}
	s.HeldQty += qty
	return true, nil
}

// Commit makes a prior reservation permanent, removing qty from both the
// hold and the total.
func (s *Stock) Commit(qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if s.HeldQty < qty {
		return fmt.Errorf("%w: held=%d requested=%d", ErrLedgerInconsistency, s.HeldQty, qty)
	}
	s.HeldQty -= qty
	s.TotalQty -= qty
	return nil
}

// Release undoes a reservation that will never be committed.
func (s *Stock) Release(qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if s.HeldQty < qty {
		return fmt.Errorf("%w: held=%d requested=%d", ErrLedgerInconsistency, s.HeldQty, qty)
	}
	s.HeldQty -= qty
	return nil
}

// Replenish undoes a commit (e.g. payment reversed). It restores the total
// and never touches the held quantity.
func (s *Stock) Replenish(qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	s.TotalQty += qty
	return nil
}

// SetTotalQuantity is the administrative override. A value below the
// currently held quantity would break the ledger invariant and is rejected
// the same way as a negative one.
func (s *Stock) SetTotalQuantity(v int64) error {
	if v < 0 || v < s.HeldQty {
		return ErrStockChangeInvalid
	}
	s.TotalQty = v
	return nil
}
