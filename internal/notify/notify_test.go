package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_FansOut(t *testing.T) {
	bus := NewBus()

	var first, second []IndexChange
	bus.Subscribe(func(c IndexChange) { first = append(first, c) })
	bus.Subscribe(func(c IndexChange) { second = append(second, c) })

	bus.Notify(IndexChange{Name: "orders", Type: IndexDemotedToIdle})

	assert.Len(t, first, 1)
	assert.Len(t, second, 1)
	assert.Equal(t, "orders", first[0].Name)
	assert.Equal(t, IndexDemotedToIdle, first[0].Type)
}

func TestBus_PanickingObserverIsIsolated(t *testing.T) {
	bus := NewBus()

	bus.Subscribe(func(IndexChange) { panic("boom") })
	var got []IndexChange
	bus.Subscribe(func(c IndexChange) { got = append(got, c) })

	assert.NotPanics(t, func() {
		bus.Notify(IndexChange{Name: "orders", Type: RemoveFromIndex})
	})
	assert.Len(t, got, 1)
}

func TestChangeType_String(t *testing.T) {
	assert.Equal(t, "MapCompleted", MapCompleted.String())
	assert.Equal(t, "ReduceCompleted", ReduceCompleted.String())
	assert.Equal(t, "RemoveFromIndex", RemoveFromIndex.String())
	assert.Equal(t, "IndexPromotedFromIdle", IndexPromotedFromIdle.String())
	assert.Equal(t, "IndexDemotedToIdle", IndexDemotedToIdle.String())
}
