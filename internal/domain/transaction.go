// Package domain holds the canonical data model of the settlement simulator:
// transactions, agents, events and the declarative scenario records the core
// consumes. All money is int64 minor currency units.
package domain

import (
	"github.com/google/uuid"

	"rtgsim/pkg/errors"
)

// MaxPriority is the inclusive upper bound for transaction priority.
const MaxPriority = 10

type TransactionStatus string

const (
	StatusPending          TransactionStatus = "pending"
	StatusPartiallySettled TransactionStatus = "partially_settled"
	StatusSettled          TransactionStatus = "settled"
	StatusOverdue          TransactionStatus = "overdue"
)

// Transaction is a payment obligation between two agents. Identity fields
// (ID, SenderID, ReceiverID, Amount, ArrivalTick, OriginalPriority) are
// immutable after construction; lifecycle fields are mutated only through the
// store's explicit operations.
type Transaction struct {
	ID         uuid.UUID `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`

	// Amount is the original obligation value and never changes.
	// RemainingAmount is the unsettled portion: 0 <= remaining <= amount,
	// monotonically non-increasing.
	Amount          int64 `json:"amount"`
	RemainingAmount int64 `json:"remaining_amount"`

	ArrivalTick  int64 `json:"arrival_tick"`
	DeadlineTick int64 `json:"deadline_tick"`

	Priority         int `json:"priority"`
	OriginalPriority int `json:"original_priority"`

	Status TransactionStatus `json:"status"`

	// Divisible gates voluntary splitting.
	Divisible bool `json:"divisible"`

	// WasSplit marks obligations replaced by split children. The children
	// carry the economic exposure from that point; per-obligation penalties
	// skip split parents to avoid charging the same value twice.
	WasSplit bool `json:"was_split,omitempty"`

	// ParentID is a lookup key into the transaction store, never a pointer;
	// split children reference the transaction they were carved from.
	ParentID *uuid.UUID `json:"parent_id,omitempty"`

	// Status payloads. MissedDeadlineTick is preserved once set, even if the
	// obligation settles afterwards.
	FirstSettlementTick *int64 `json:"first_settlement_tick,omitempty"`
	SettledTick         *int64 `json:"settled_tick,omitempty"`
	MissedDeadlineTick  *int64 `json:"missed_deadline_tick,omitempty"`

	// Central-queue bookkeeping, populated on admission, cleared on withdrawal.
	CentralQueuePriority         *int   `json:"central_queue_priority,omitempty"`
	DeclaredCentralQueuePriority *int   `json:"declared_central_queue_priority,omitempty"`
	CentralQueueSubmissionTick   *int64 `json:"central_queue_submission_tick,omitempty"`
}

// NewTransaction validates and builds an obligation in Pending status.
// The deadline is capped to the simulation horizon when horizon > 0.
func NewTransaction(id uuid.UUID, senderID, receiverID string, amount, arrivalTick, deadlineTick int64, priority int, divisible bool, horizonTicks int64) (*Transaction, error) {
	if amount <= 0 {
		return nil, errors.ErrNonPositiveAmount
	}
	if deadlineTick <= arrivalTick {
		return nil, errors.ErrDeadlineNotAfterArrival
	}
	if senderID == receiverID {
		return nil, errors.ErrSenderIsReceiver
	}
	if horizonTicks > 0 && deadlineTick > horizonTicks {
		deadlineTick = horizonTicks
	}
	priority = clampPriority(priority)

	return &Transaction{
		ID:               id,
		SenderID:         senderID,
		ReceiverID:       receiverID,
		Amount:           amount,
		RemainingAmount:  amount,
		ArrivalTick:      arrivalTick,
		DeadlineTick:     deadlineTick,
		Priority:         priority,
		OriginalPriority: priority,
		Status:           StatusPending,
		Divisible:        divisible,
	}, nil
}

// NewChildTransaction builds a split child carved from a parent obligation.
// Children inherit the parent's deadline as-is, even when it has already
// passed: overdue is not a terminal state and the remainder must stay
// settleable, so the deadline-vs-arrival check of NewTransaction does not
// apply here. A child of an overdue parent starts overdue, carrying the
// parent's missed-deadline tick so the one-time penalty is never re-charged.
func NewChildTransaction(id uuid.UUID, parent *Transaction, amount, tick int64) (*Transaction, error) {
	if amount <= 0 {
		return nil, errors.ErrSplitBelowMinimum
	}
	parentID := parent.ID
	child := &Transaction{
		ID:               id,
		SenderID:         parent.SenderID,
		ReceiverID:       parent.ReceiverID,
		Amount:           amount,
		RemainingAmount:  amount,
		ArrivalTick:      tick,
		DeadlineTick:     parent.DeadlineTick,
		Priority:         parent.Priority,
		OriginalPriority: parent.Priority,
		Status:           StatusPending,
		Divisible:        parent.Divisible,
		ParentID:         &parentID,
	}
	if parent.MissedDeadlineTick != nil {
		missed := *parent.MissedDeadlineTick
		child.MissedDeadlineTick = &missed
		child.Status = StatusOverdue
	}
	return child, nil
}

// Settle zeroes the remaining amount in one call. Partial settlement is
// expressed by splitting, never by partial Settle calls.
func (t *Transaction) Settle(amount, tick int64) error {
	if t.RemainingAmount == 0 {
		return errors.ErrAlreadySettled
	}
	if amount != t.RemainingAmount {
		return errors.ErrAmountExceedsRemaining
	}
	t.RemainingAmount = 0
	t.Status = StatusSettled
	t.SettledTick = &tick
	if t.FirstSettlementTick == nil {
		t.FirstSettlementTick = &tick
	}
	return nil
}

// ApplyChildSettlement reduces a split parent's remaining amount as its
// children settle. The parent transitions to PartiallySettled on the first
// child settlement and to Settled once the remaining amount reaches zero.
func (t *Transaction) ApplyChildSettlement(amount, tick int64) error {
	if t.RemainingAmount == 0 {
		return errors.ErrAlreadySettled
	}
	if amount > t.RemainingAmount {
		return errors.ErrAmountExceedsRemaining
	}
	t.RemainingAmount -= amount
	if t.FirstSettlementTick == nil {
		t.FirstSettlementTick = &tick
	}
	if t.RemainingAmount == 0 {
		t.Status = StatusSettled
		t.SettledTick = &tick
	} else if t.Status == StatusPending {
		t.Status = StatusPartiallySettled
	}
	return nil
}

// MarkOverdue records the first missed-deadline tick. Overdue is not a
// terminal state: the obligation stays settleable. Repeat calls preserve the
// original tick; marking a settled transaction fails.
func (t *Transaction) MarkOverdue(tick int64) error {
	if t.IsSettled() {
		return errors.ErrAlreadySettled
	}
	if t.MissedDeadlineTick != nil {
		return nil
	}
	t.MissedDeadlineTick = &tick
	t.Status = StatusOverdue
	return nil
}

// SetPriority clamps into [0, MaxPriority].
func (t *Transaction) SetPriority(p int) {
	t.Priority = clampPriority(p)
}

func (t *Transaction) IsSettled() bool {
	return t.RemainingAmount == 0
}

func (t *Transaction) IsOverdue() bool {
	return t.MissedDeadlineTick != nil && !t.IsSettled()
}

func (t *Transaction) InCentralQueue() bool {
	return t.CentralQueueSubmissionTick != nil
}

// AdmitToCentralQueue stamps the queue bookkeeping fields.
func (t *Transaction) AdmitToCentralQueue(declaredPriority int, tick int64) {
	effective := declaredPriority
	t.CentralQueuePriority = &effective
	declared := declaredPriority
	t.DeclaredCentralQueuePriority = &declared
	submission := tick
	t.CentralQueueSubmissionTick = &submission
}

// WithdrawFromCentralQueue clears the queue bookkeeping fields.
func (t *Transaction) WithdrawFromCentralQueue() {
	t.CentralQueuePriority = nil
	t.DeclaredCentralQueuePriority = nil
	t.CentralQueueSubmissionTick = nil
}

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}
