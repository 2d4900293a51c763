// Package store owns the canonical mutable state of one simulation instance:
// the id-indexed transaction arena, the ordered agent registry and the
// deterministic central queue. State is exposed only through explicit
// mutating operations; transactions are never destroyed and stay queryable
// for the life of the run.
package store

import (
	"github.com/google/uuid"

	"rtgsim/internal/domain"
	"rtgsim/pkg/errors"
)

// Transactions is the arena. Parent/child split links are ids resolved here,
// never pointers, so settled transactions remain queryable without ownership
// cycles.
type Transactions struct {
	byID  map[uuid.UUID]*domain.Transaction
	order []uuid.UUID
}

func NewTransactions() *Transactions {
	return &Transactions{byID: make(map[uuid.UUID]*domain.Transaction)}
}

// Add registers a constructed transaction.
func (s *Transactions) Add(t *domain.Transaction) {
	s.byID[t.ID] = t
	s.order = append(s.order, t.ID)
}

// Get resolves an id. The returned pointer is owned by the store; callers
// outside this package mutate only through store operations.
func (s *Transactions) Get(id uuid.UUID) (*domain.Transaction, error) {
	t, ok := s.byID[id]
	if !ok {
		return nil, errors.ErrTransactionNotFound
	}
	return t, nil
}

// Snapshot returns a value copy safe to hand across the embedding boundary.
func (s *Transactions) Snapshot(id uuid.UUID) (domain.Transaction, error) {
	t, ok := s.byID[id]
	if !ok {
		return domain.Transaction{}, errors.ErrTransactionNotFound
	}
	return *t, nil
}

// All iterates the arena in insertion order.
func (s *Transactions) All() []*domain.Transaction {
	out := make([]*domain.Transaction, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

func (s *Transactions) Len() int {
	return len(s.order)
}

// Settle settles the full remaining amount of one transaction and walks the
// parent chain, reducing each ancestor's remaining amount by the settled
// value.
func (s *Transactions) Settle(id uuid.UUID, amount, tick int64) error {
	t, ok := s.byID[id]
	if !ok {
		return errors.ErrTransactionNotFound
	}
	if err := t.Settle(amount, tick); err != nil {
		return err
	}
	return s.propagateToParents(t, amount, tick)
}

func (s *Transactions) propagateToParents(t *domain.Transaction, amount, tick int64) error {
	for t.ParentID != nil {
		parent, ok := s.byID[*t.ParentID]
		if !ok {
			return errors.ErrTransactionNotFound
		}
		if err := parent.ApplyChildSettlement(amount, tick); err != nil {
			return err
		}
		t = parent
	}
	return nil
}

// MarkOverdue idempotently marks an unsettled transaction overdue. The
// boolean reports whether this call was the first mark, which is when the
// one-time deadline-miss penalty applies.
func (s *Transactions) MarkOverdue(id uuid.UUID, tick int64) (bool, error) {
	t, ok := s.byID[id]
	if !ok {
		return false, errors.ErrTransactionNotFound
	}
	if t.MissedDeadlineTick != nil {
		return false, t.MarkOverdue(tick)
	}
	if err := t.MarkOverdue(tick); err != nil {
		return false, err
	}
	return true, nil
}

// Split carves children with the given amounts out of a transaction. The
// child amounts must sum to the parent's remaining amount at the moment of
// the split. Children inherit deadline, priority and divisibility and
// reference the parent by id. The parent keeps its remaining amount, which
// decreases only as children settle.
func (s *Transactions) Split(id uuid.UUID, childIDs []uuid.UUID, amounts []int64, tick int64) ([]*domain.Transaction, error) {
	t, ok := s.byID[id]
	if !ok {
		return nil, errors.ErrTransactionNotFound
	}
	if t.IsSettled() {
		return nil, errors.ErrAlreadySettled
	}
	if !t.Divisible {
		return nil, errors.ErrIndivisibleTransaction
	}
	if len(amounts) < 2 || len(childIDs) != len(amounts) {
		return nil, errors.ErrInvalidSplitCount
	}
	var total int64
	for _, a := range amounts {
		if a <= 0 {
			return nil, errors.ErrSplitBelowMinimum
		}
		total += a
	}
	if total != t.RemainingAmount {
		return nil, errors.ErrAmountExceedsRemaining
	}

	children := make([]*domain.Transaction, 0, len(amounts))
	for i, amount := range amounts {
		child, err := domain.NewChildTransaction(childIDs[i], t, amount, tick)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	for _, c := range children {
		s.Add(c)
	}
	t.WasSplit = true
	return children, nil
}

// EqualSplitAmounts divides a value into n parts differing by at most one
// unit, remainder on the leading children, preserving the total exactly.
func EqualSplitAmounts(total int64, n int) []int64 {
	amounts := make([]int64, n)
	base := total / int64(n)
	rem := total % int64(n)
	for i := range amounts {
		amounts[i] = base
		if int64(i) < rem {
			amounts[i]++
		}
	}
	return amounts
}
