package store

import (
	"sort"

	"github.com/google/uuid"
)

// QueueEntry is one obligation waiting in the shared central queue.
type QueueEntry struct {
	TxID           uuid.UUID
	Priority       int
	SubmissionTick int64
	seq            int64
}

// CentralQueue keeps the network-wide queue ordered by (priority ascending,
// submission tick ascending, admission sequence ascending) — strict FIFO
// within a priority band. Lower priority numbers settle first.
type CentralQueue struct {
	entries []QueueEntry
	nextSeq int64
}

func NewCentralQueue() *CentralQueue {
	return &CentralQueue{}
}

// Push admits an obligation at its ordered position.
func (q *CentralQueue) Push(txID uuid.UUID, priority int, submissionTick int64) {
	entry := QueueEntry{TxID: txID, Priority: priority, SubmissionTick: submissionTick, seq: q.nextSeq}
	q.nextSeq++
	idx := sort.Search(len(q.entries), func(i int) bool {
		return less(entry, q.entries[i])
	})
	q.entries = append(q.entries, QueueEntry{})
	copy(q.entries[idx+1:], q.entries[idx:])
	q.entries[idx] = entry
}

func less(a, b QueueEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if a.SubmissionTick != b.SubmissionTick {
		return a.SubmissionTick < b.SubmissionTick
	}
	return a.seq < b.seq
}

// Remove withdraws an obligation; reports whether it was queued.
func (q *CentralQueue) Remove(txID uuid.UUID) bool {
	for i, e := range q.entries {
		if e.TxID == txID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Replace substitutes one queued obligation with another at the same queue
// position, used when the LSM carves a remainder child out of a partially
// cleared obligation.
func (q *CentralQueue) Replace(oldID, newID uuid.UUID) bool {
	for i := range q.entries {
		if q.entries[i].TxID == oldID {
			q.entries[i].TxID = newID
			return true
		}
	}
	return false
}

func (q *CentralQueue) Contains(txID uuid.UUID) bool {
	for _, e := range q.entries {
		if e.TxID == txID {
			return true
		}
	}
	return false
}

// Entries returns the ordered contents as a copy.
func (q *CentralQueue) Entries() []QueueEntry {
	out := make([]QueueEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// IDs returns the ordered transaction ids.
func (q *CentralQueue) IDs() []uuid.UUID {
	out := make([]uuid.UUID, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.TxID
	}
	return out
}

func (q *CentralQueue) Len() int {
	return len(q.entries)
}
