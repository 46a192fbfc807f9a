package entitystore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/entity-store-go/entitystore"
)

func Test_ReceiverName(t *testing.T) {
	tests := []struct {
		eventType string
		expected  string
	}{
		{eventType: "OrderPlaced", expected: "order_placed"},
		{eventType: "BookCopyLentToReader", expected: "book_copy_lent_to_reader"},
		{eventType: "HTTPRequestSent", expected: "http_request_sent"},
		{eventType: "Shop.Orders.OrderPlaced", expected: "order_placed"},
		{eventType: "Shop::Orders::OrderPlaced", expected: "order_placed"},
		{eventType: "Order-Placed", expected: "order_placed"},
		{eventType: "Version2Released", expected: "version2_released"},
		{eventType: "placed", expected: "placed"},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			assert.Equal(t, tt.expected, entitystore.ReceiverName(tt.eventType))
		})
	}
}

func Test_VersionIncremented(t *testing.T) {
	entity := &counter{}
	entity.SetID("some-id")
	entity.SetVersion(7)

	event := entitystore.NewVersionIncremented(entity)

	assert.Equal(t, "CounterVersionIncremented", event.EventType())
	assert.Equal(t, "counter_version_incremented", entitystore.ReceiverName(event.EventType()))
	assert.Equal(t, "some-id", event.GetEntityID())
	assert.Equal(t, 7, event.GetEntityVersion())
	assert.NoError(t, event.Apply(entity))
	assert.True(t, entitystore.IsVersionIncrementedType(event.EventType()))
	assert.False(t, entitystore.IsVersionIncrementedType("VersionIncremented"))
}

func Test_EventAttributes_IncludesIdentityAndPayload(t *testing.T) {
	event := &incremented{By: 4}
	event.SetEventID("event-id")
	event.SetEntityID("entity-id")
	event.SetEntityVersion(2)

	attrs, err := entitystore.EventAttributes(event)

	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"id":             "event-id",
		"entity_id":      "entity-id",
		"entity_version": float64(2),
		"by":             float64(4),
	}, attrs)
}

func Test_UnknownEvent_FailsToApply(t *testing.T) {
	event := &entitystore.UnknownEvent{StoredType: "Vanished"}

	assert.Equal(t, "Vanished", event.EventType())
	assert.ErrorIs(t, event.Apply(&counter{}), entitystore.ErrUnknownType)
}
