package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// PoolType classifies a pool by its provenance.
type PoolType string

const (
	PoolTypeNormal             PoolType = "NORMAL"
	PoolTypeBonus              PoolType = "BONUS"
	PoolTypeEntitlementDerived PoolType = "ENTITLEMENT_DERIVED"
	PoolTypeStackDerived       PoolType = "STACK_DERIVED"
	PoolTypeUnmappedGuest      PoolType = "UNMAPPED_GUEST"
)

// Well-known pool attribute keys.
const (
	AttributeDerivedPool        = "DERIVED_POOL"
	AttributeUnmappedGuestsOnly = "UNMAPPED_GUESTS_ONLY"
)

// UnlimitedQuantity marks a pool with no capacity ceiling.
const UnlimitedQuantity int64 = -1

type Pool struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	OwnerKey  string       `gorm:"column:owner_key;type:text;not null;index:ix_pools_owner"`
	ProductID string       `gorm:"column:product_id;type:text;not null;index:ix_pools_product"`

	// Quantity of -1 denotes unlimited capacity.
	Quantity int64 `gorm:"not null"`
	Consumed int64 `gorm:"not null;default:0"`

	StartDate time.Time `gorm:"column:start_date;not null"`
	EndDate   time.Time `gorm:"column:end_date;not null"`

	Attributes datatypes.JSONMap `gorm:"type:jsonb"`

	// Provenance columns. At most one of the entitlement or stack pair is
	// meaningful for type derivation; storage does not enforce exclusivity.
	SourceEntitlementID   *snowflake.ID `gorm:"column:source_entitlement_id"`
	SourceStackConsumerID *string       `gorm:"column:source_stack_consumer_id;type:text"`
	SourceStackID         *string       `gorm:"column:source_stack_id;type:text"`
	SubscriptionID        *string       `gorm:"column:subscription_id;type:text"`
	SubscriptionSubKey    *string       `gorm:"column:subscription_sub_key;type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Pool) TableName() string { return "pools" }

// SourceSubscription links a pool back to the subscription it was minted from.
type SourceSubscription struct {
	SubscriptionID     *string
	SubscriptionSubKey *string
}

// SourceStack links a derived pool back to the consumer stack that spawned it.
type SourceStack struct {
	ConsumerID string
	StackID    string
}

// Attribute returns the string value for key, if present.
func (p *Pool) Attribute(key string) (string, bool) {
	if p.Attributes == nil {
		return "", false
	}
	raw, ok := p.Attributes[key]
	if !ok {
		return "", false
	}
	value, ok := raw.(string)
	return value, ok
}

// SetAttribute stores a string attribute on the pool.
func (p *Pool) SetAttribute(key, value string) {
	if p.Attributes == nil {
		p.Attributes = datatypes.JSONMap{}
	}
	p.Attributes[key] = value
}

func (p *Pool) attributeTrue(key string) bool {
	value, ok := p.Attribute(key)
	return ok && value == "true"
}

// Type derives the pool classification from attributes and provenance.
// Precedence is strict: an unmapped-guest override dominates everything,
// then entitlement provenance, then stack provenance, then plain derived.
func (p *Pool) Type() PoolType {
	if p.attributeTrue(AttributeUnmappedGuestsOnly) {
		return PoolTypeUnmappedGuest
	}
	if !p.attributeTrue(AttributeDerivedPool) {
		return PoolTypeNormal
	}

	// Ordered checks: entitlement provenance wins even when a stack
	// source is also recorded.
	if p.SourceEntitlementID != nil {
		return PoolTypeEntitlementDerived
	}
	if p.SourceStack() != nil {
		return PoolTypeStackDerived
	}
	return PoolTypeBonus
}

// AdjustQuantity applies delta to the pool quantity, clamping at zero.
// Returns the resulting quantity.
func (p *Pool) AdjustQuantity(delta int64) int64 {
	quantity := p.Quantity + delta
	if quantity < 0 {
		quantity = 0
	}
	p.Quantity = quantity
	return quantity
}

// IsOverflowing reports whether consumption exceeds a finite capacity.
func (p *Pool) IsOverflowing() bool {
	return p.Quantity != UnlimitedQuantity && p.Consumed > p.Quantity
}

// EntitlementsAvailable reports whether the pool can absorb n more units.
func (p *Pool) EntitlementsAvailable(n int64) bool {
	return p.Quantity == UnlimitedQuantity || p.Consumed+n <= p.Quantity
}

// Unlimited reports whether the pool has no capacity ceiling.
func (p *Pool) Unlimited() bool {
	return p.Quantity == UnlimitedQuantity
}

// ActiveAt reports whether the instant falls inside the validity window.
func (p *Pool) ActiveAt(at time.Time) bool {
	return !at.Before(p.StartDate) && !at.After(p.EndDate)
}

// SourceSubscription returns the subscription linkage, or nil when absent.
// The container exists only while at least one of its fields is set.
func (p *Pool) SourceSubscription() *SourceSubscription {
	if p.SubscriptionID == nil && p.SubscriptionSubKey == nil {
		return nil
	}
	return &SourceSubscription{
		SubscriptionID:     p.SubscriptionID,
		SubscriptionSubKey: p.SubscriptionSubKey,
	}
}

// SetSubscriptionID assigns the subscription id side of the linkage.
// An empty value clears the id; if the sub-key is already absent the whole
// linkage disappears with it. A still-present sub-key is left untouched.
func (p *Pool) SetSubscriptionID(value string) {
	if value == "" {
		p.SubscriptionID = nil
		return
	}
	p.SubscriptionID = &value
}

// SetSubscriptionSubKey assigns the sub-key side of the linkage, with
// clearing semantics symmetric to SetSubscriptionID.
func (p *Pool) SetSubscriptionSubKey(value string) {
	if value == "" {
		p.SubscriptionSubKey = nil
		return
	}
	p.SubscriptionSubKey = &value
}

// SourceStack returns the stack linkage, or nil when absent.
func (p *Pool) SourceStack() *SourceStack {
	if p.SourceStackConsumerID == nil && p.SourceStackID == nil {
		return nil
	}
	stack := SourceStack{}
	if p.SourceStackConsumerID != nil {
		stack.ConsumerID = *p.SourceStackConsumerID
	}
	if p.SourceStackID != nil {
		stack.StackID = *p.SourceStackID
	}
	return &stack
}

// SetSourceStack assigns the stack linkage. Empty ids clear it.
func (p *Pool) SetSourceStack(consumerID, stackID string) {
	if consumerID == "" && stackID == "" {
		p.SourceStackConsumerID = nil
		p.SourceStackID = nil
		return
	}
	p.SourceStackConsumerID = &consumerID
	p.SourceStackID = &stackID
}
