package domain

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestAdjustQuantity(t *testing.T) {
	cases := []struct {
		name    string
		current int64
		delta   int64
		want    int64
	}{
		{"increase", 10, 2, 12},
		{"decrease", 10, -2, 8},
		{"clamp at zero", 0, -2, 0},
		{"over-subtract clamps", 5, -10, 0},
		{"no change", 7, 0, 7},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &Pool{Quantity: tc.current}
			got := p.AdjustQuantity(tc.delta)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.want, p.Quantity)
		})
	}
}

func TestIsOverflowing(t *testing.T) {
	assert.False(t, (&Pool{Quantity: 10, Consumed: 10}).IsOverflowing())
	assert.True(t, (&Pool{Quantity: 10, Consumed: 11}).IsOverflowing())
	assert.False(t, (&Pool{Quantity: UnlimitedQuantity, Consumed: 1 << 40}).IsOverflowing())
	assert.False(t, (&Pool{Quantity: 0, Consumed: 0}).IsOverflowing())
}

func TestEntitlementsAvailable(t *testing.T) {
	p := &Pool{Quantity: 5, Consumed: 3}
	assert.True(t, p.EntitlementsAvailable(2))
	assert.False(t, p.EntitlementsAvailable(3))

	unlimited := &Pool{Quantity: UnlimitedQuantity, Consumed: 100}
	assert.True(t, unlimited.EntitlementsAvailable(1<<40))
}

func TestTypeDerivation(t *testing.T) {
	entID := snowflake.ID(42)
	consumer := "consumer-1"
	stack := "stack-1"

	cases := []struct {
		name       string
		attributes datatypes.JSONMap
		sourceEnt  *snowflake.ID
		stack      bool
		want       PoolType
	}{
		{"plain pool", nil, nil, false, PoolTypeNormal},
		{"source fields without derived attribute", nil, &entID, true, PoolTypeNormal},
		{"unmapped guest dominates", datatypes.JSONMap{AttributeUnmappedGuestsOnly: "true"}, &entID, false, PoolTypeUnmappedGuest},
		{"unmapped guest dominates derived", datatypes.JSONMap{AttributeUnmappedGuestsOnly: "true", AttributeDerivedPool: "true"}, &entID, true, PoolTypeUnmappedGuest},
		{"entitlement derived", datatypes.JSONMap{AttributeDerivedPool: "true"}, &entID, false, PoolTypeEntitlementDerived},
		{"stack derived", datatypes.JSONMap{AttributeDerivedPool: "true"}, nil, true, PoolTypeStackDerived},
		{"bonus when neither source set", datatypes.JSONMap{AttributeDerivedPool: "true"}, nil, false, PoolTypeBonus},
		{"entitlement source wins over stack source", datatypes.JSONMap{AttributeDerivedPool: "true"}, &entID, true, PoolTypeEntitlementDerived},
		{"attribute must be truthy", datatypes.JSONMap{AttributeDerivedPool: "false"}, &entID, false, PoolTypeNormal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &Pool{Attributes: tc.attributes, SourceEntitlementID: tc.sourceEnt}
			if tc.stack {
				p.SourceStackConsumerID = &consumer
				p.SourceStackID = &stack
			}
			assert.Equal(t, tc.want, p.Type())
		})
	}
}

func TestSubscriptionLinkageCascade(t *testing.T) {
	t.Run("setting id creates container with nil sub-key", func(t *testing.T) {
		p := &Pool{}
		p.SetSubscriptionID("sub-1")

		src := p.SourceSubscription()
		require.NotNil(t, src)
		require.NotNil(t, src.SubscriptionID)
		assert.Equal(t, "sub-1", *src.SubscriptionID)
		assert.Nil(t, src.SubscriptionSubKey)
	})

	t.Run("setting sub-key creates container with nil id", func(t *testing.T) {
		p := &Pool{}
		p.SetSubscriptionSubKey("master")

		src := p.SourceSubscription()
		require.NotNil(t, src)
		assert.Nil(t, src.SubscriptionID)
		require.NotNil(t, src.SubscriptionSubKey)
		assert.Equal(t, "master", *src.SubscriptionSubKey)
	})

	t.Run("clearing id removes container when sub-key absent", func(t *testing.T) {
		p := &Pool{}
		p.SetSubscriptionID("sub-1")
		p.SetSubscriptionID("")
		assert.Nil(t, p.SourceSubscription())
	})

	t.Run("clearing sub-key removes container when id absent", func(t *testing.T) {
		p := &Pool{}
		p.SetSubscriptionSubKey("master")
		p.SetSubscriptionSubKey("")
		assert.Nil(t, p.SourceSubscription())
	})

	t.Run("clearing id keeps a still-present sub-key", func(t *testing.T) {
		p := &Pool{}
		p.SetSubscriptionID("sub-1")
		p.SetSubscriptionSubKey("master")
		p.SetSubscriptionID("")

		src := p.SourceSubscription()
		require.NotNil(t, src)
		assert.Nil(t, src.SubscriptionID)
		require.NotNil(t, src.SubscriptionSubKey)
		assert.Equal(t, "master", *src.SubscriptionSubKey)

		p.SetSubscriptionSubKey("")
		assert.Nil(t, p.SourceSubscription())
	})
}

func TestSourceStack(t *testing.T) {
	p := &Pool{}
	assert.Nil(t, p.SourceStack())

	p.SetSourceStack("consumer-1", "stack-1")
	src := p.SourceStack()
	require.NotNil(t, src)
	assert.Equal(t, "consumer-1", src.ConsumerID)
	assert.Equal(t, "stack-1", src.StackID)

	p.SetSourceStack("", "")
	assert.Nil(t, p.SourceStack())
}

func TestActiveAt(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	p := &Pool{StartDate: start, EndDate: end}

	assert.True(t, p.ActiveAt(start))
	assert.True(t, p.ActiveAt(end))
	assert.True(t, p.ActiveAt(start.AddDate(0, 6, 0)))
	assert.False(t, p.ActiveAt(start.Add(-time.Second)))
	assert.False(t, p.ActiveAt(end.Add(time.Second)))
}
