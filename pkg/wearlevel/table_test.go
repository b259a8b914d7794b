package wearlevel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTable(t *testing.T) {
	tbl := NewTable(5)
	require.Equal(t, 5, tbl.Len())

	i := 0
	for b := range tbl.All() {
		assert.Equal(t, uint32(i), b.ID)
		assert.Equal(t, StateFree, b.State)
		assert.Zero(t, b.EraseCount)
		assert.Zero(t, b.WriteCount)
		i++
	}
	assert.Equal(t, 5, i)
}

func TestTableInvalidID(t *testing.T) {
	tbl := NewTable(3)

	_, err := tbl.Get(3)
	assert.ErrorIs(t, err, ErrInvalidBlockID)
	_, err = tbl.Update(10, func(*FlashBlock) error { return nil })
	assert.ErrorIs(t, err, ErrInvalidBlockID)
	_, err = tbl.Transition(4, StateFree, StateAllocated, nil)
	assert.ErrorIs(t, err, ErrInvalidBlockID)
}

func TestTransitionCompareAndSet(t *testing.T) {
	tbl := NewTable(2)

	b, err := tbl.Transition(0, StateFree, StateAllocated, nil)
	require.NoError(t, err)
	assert.Equal(t, StateAllocated, b.State)

	// Second claim loses the race without changing anything.
	_, err = tbl.Transition(0, StateFree, StateAllocated, nil)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	got, _ := tbl.Get(0)
	assert.Equal(t, StateAllocated, got.State)
}

func TestTransitionRejectsIllegalEdges(t *testing.T) {
	tbl := NewTable(1)

	_, err := tbl.Transition(0, StateFree, StateFree, nil)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	_, err = tbl.Transition(0, StateAllocated, StateStatic, nil)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	for _, to := range AllStates {
		assert.False(t, CanTransition(StateBad, to), "bad -> %s", to)
	}
}

func TestTransitionMutationErrorAborts(t *testing.T) {
	tbl := NewTable(1)
	boom := errors.New("boom")

	_, err := tbl.Transition(0, StateFree, StateAllocated, func(b *FlashBlock) error {
		b.EraseCount = 9
		return boom
	})
	assert.ErrorIs(t, err, boom)

	b, _ := tbl.Get(0)
	assert.Equal(t, StateFree, b.State)
	assert.Zero(t, b.EraseCount)
}

func TestUpdateGuards(t *testing.T) {
	tbl := NewTable(1)

	b, err := tbl.Update(0, func(b *FlashBlock) error {
		b.EraseCount = 4
		b.WriteCount = 2
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), b.EraseCount)

	_, err = tbl.Update(0, func(b *FlashBlock) error {
		b.EraseCount = 3
		return nil
	})
	assert.ErrorIs(t, err, ErrCounterRegression)

	_, err = tbl.Update(0, func(b *FlashBlock) error {
		b.State = StateStatic
		return nil
	})
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	_, err = tbl.Update(0, func(b *FlashBlock) error {
		b.ID = 7
		return nil
	})
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	b, _ = tbl.Get(0)
	assert.Equal(t, uint64(4), b.EraseCount)
	assert.Equal(t, StateFree, b.State)
}

func TestRetireIsTerminal(t *testing.T) {
	tbl := NewTable(2)

	calls := 0
	_, ok, err := tbl.retire(1, nil, func(FlashBlock) { calls++ })
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = tbl.retire(1, nil, func(FlashBlock) { calls++ })
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, calls)

	for _, to := range AllStates {
		_, err := tbl.Transition(1, StateBad, to, nil)
		assert.ErrorIs(t, err, ErrInvalidStateTransition)
	}

	_, ok, _ = tbl.retire(0, func(b FlashBlock) bool { return b.State == StateStatic }, nil)
	assert.False(t, ok, "guard refused")
}

func TestAllIsRestartable(t *testing.T) {
	tbl := NewTable(4)
	seq := tbl.All()

	count := func() int {
		n := 0
		for range seq {
			n++
		}
		return n
	}
	assert.Equal(t, 4, count())
	assert.Equal(t, 4, count())

	n := 0
	for b := range seq {
		n++
		if b.ID == 1 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestStateText(t *testing.T) {
	for _, s := range AllStates {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var back State
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}
	_, err := ParseState("zombie")
	assert.Error(t, err)
	assert.Equal(t, "state(9)", State(9).String())
}
