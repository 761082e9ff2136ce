package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteStatus is the lifecycle state of a provider's offer.
type QuoteStatus string

const (
	QuotePending   QuoteStatus = "pending"
	QuoteAccepted  QuoteStatus = "accepted"
	QuoteRejected  QuoteStatus = "rejected"
	QuoteCancelled QuoteStatus = "cancelled"
	QuoteExpired   QuoteStatus = "expired"
)

// LineItemKind classifies a priced line on a quote.
type LineItemKind string

const (
	LineItemBaseRate  LineItemKind = "base_rate"
	LineItemOption    LineItemKind = "option"
	LineItemTravelFee LineItemKind = "travel_fee"
)

// LineItem is one priced component of a quote.
type LineItem struct {
	Kind       LineItemKind `bson:"kind" json:"kind"`
	Label      string       `bson:"label" json:"label"`
	UnitAmount Money        `bson:"unitAmount" json:"unitAmount"`
	Quantity   int          `bson:"quantity" json:"quantity"`
}

// MaxQuoteAmount bounds any line item amount and any quote total
// (100,000,000.00 in major units).
const MaxQuoteAmount Money = 10_000_000_000

// Amount is UnitAmount × Quantity. Callers must have checked the items with
// CheckedTotal first; Amount does not guard against overflow.
func (li LineItem) Amount() Money {
	return li.UnitAmount * Money(li.Quantity)
}

// LineItems is the ordered price breakdown of a quote.
type LineItems []LineItem

// Total is the single summation used for quote totals, and therefore for
// every deposit/balance computation downstream.
func (items LineItems) Total() Money {
	var total Money
	for _, li := range items {
		total += li.Amount()
	}
	return total
}

// CheckedTotal sums the items without int64 wraparound. ok is false when a
// line amount or the running total exceeds MaxQuoteAmount.
func (items LineItems) CheckedTotal() (total Money, ok bool) {
	limit := decimal.NewFromInt(int64(MaxQuoteAmount))
	sum := decimal.Zero
	for _, li := range items {
		amount := decimal.NewFromInt(int64(li.UnitAmount)).Mul(decimal.NewFromInt(int64(li.Quantity)))
		if amount.Abs().GreaterThan(limit) {
			return 0, false
		}
		sum = sum.Add(amount)
		if sum.Abs().GreaterThan(limit) {
			return 0, false
		}
	}
	return Money(sum.IntPart()), true
}

// Quote is a priced offer from a provider to a client for a specific slot.
type Quote struct {
	ID               string      `bson:"id" json:"id" gorm:"primaryKey;size:64"`
	DemandID         string      `bson:"demandId,omitempty" json:"demandId,omitempty" gorm:"size:64;index"`
	ProviderID       string      `bson:"providerId" json:"providerId" gorm:"size:64;index;not null"`
	ClientID         string      `bson:"clientId" json:"clientId" gorm:"size:64;index;not null"`
	LineItems        LineItems   `bson:"lineItems" json:"lineItems" gorm:"serializer:json;type:text"`
	Total            Money       `bson:"total" json:"total" gorm:"not null"`
	Currency         string      `bson:"currency" json:"currency" gorm:"size:8"`
	ServiceDateTime  time.Time   `bson:"serviceDateTime" json:"serviceDateTime" gorm:"not null"`
	SlotWindow       int         `bson:"slotWindow" json:"slotWindow" gorm:"not null"` // minutes
	CancellationTier PolicyTier  `bson:"cancellationTier" json:"cancellationTier" gorm:"size:16"`
	ValidUntil       time.Time   `bson:"validUntil" json:"validUntil"`
	Status           QuoteStatus `bson:"status" json:"status" gorm:"size:16;index"`
	CreatedAt        time.Time   `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time   `bson:"updatedAt" json:"updatedAt"`
}

// IsExpired reports whether the quote can no longer be accepted at now.
func (q *Quote) IsExpired(now time.Time) bool {
	return !now.Before(q.ValidUntil)
}

// Slot returns the provider time the quote would claim once accepted.
func (q *Quote) Slot() Slot {
	return NewSlot(q.ProviderID, q.ServiceDateTime, q.SlotWindow)
}
