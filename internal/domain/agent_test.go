package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestAvailableLiquidity(t *testing.T) {
	a := &Agent{
		Balance:          1000,
		CreditLimit:      500,
		PostedCollateral: 200,
		PoolAllocation:   300,
	}
	assert.Equal(t, int64(1400), a.AvailableLiquidity())

	// A negative balance eats into credit.
	a.Balance = -400
	assert.Equal(t, int64(0), a.AvailableLiquidity())
}

func TestInternalQueueOrdering(t *testing.T) {
	a := &Agent{ID: "alpha"}
	first, second, third := uuid.New(), uuid.New(), uuid.New()

	a.EnqueueInternal(first)
	a.EnqueueInternal(second)
	a.EnqueueInternal(third)

	assert.True(t, a.DequeueInternal(second))
	assert.Equal(t, []uuid.UUID{first, third}, a.InternalQueue)
	assert.False(t, a.DequeueInternal(second))
}

func TestReplaceInternalKeepsPosition(t *testing.T) {
	a := &Agent{ID: "alpha"}
	first, second, third := uuid.New(), uuid.New(), uuid.New()
	childA, childB := uuid.New(), uuid.New()

	a.EnqueueInternal(first)
	a.EnqueueInternal(second)
	a.EnqueueInternal(third)

	assert.True(t, a.ReplaceInternal(second, []uuid.UUID{childA, childB}))
	assert.Equal(t, []uuid.UUID{first, childA, childB, third}, a.InternalQueue)

	assert.False(t, a.ReplaceInternal(uuid.New(), []uuid.UUID{childA}))
}

func TestCostBreakdownTotal(t *testing.T) {
	c := CostBreakdown{
		Overdraft:             1,
		Delay:                 2,
		CollateralOpportunity: 3,
		PoolOpportunity:       4,
		DeadlineMiss:          5,
		SplitFriction:         6,
		EndOfPeriod:           7,
	}
	assert.Equal(t, int64(28), c.Total())
}
