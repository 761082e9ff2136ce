package models

import "time"

// TransactionType is the kind of money movement recorded in the settlement ledger.
type TransactionType string

const (
	TransactionDeposit TransactionType = "deposit_transfer"
	TransactionBalance TransactionType = "balance_transfer"
	TransactionRefund  TransactionType = "refund"
)

// Transaction is an append-only ledger entry. GrossAmount is signed: captures
// are positive, refunds negative.
type Transaction struct {
	ID               string          `bson:"id" json:"id" gorm:"primaryKey;size:64"`
	ReservationID    string          `bson:"reservationId" json:"reservationId" gorm:"size:64;index;not null"`
	Type             TransactionType `bson:"type" json:"type" gorm:"size:24;not null"`
	GrossAmount      Money           `bson:"grossAmount" json:"grossAmount" gorm:"not null"`
	PlatformFee      Money           `bson:"platformFee" json:"platformFee" gorm:"not null"`
	NetAmount        Money           `bson:"netAmount" json:"netAmount" gorm:"not null"`
	ExternalEventID  string          `bson:"externalEventId" json:"externalEventId" gorm:"size:128;uniqueIndex;not null"`
	ExternalChargeID string          `bson:"externalChargeId,omitempty" json:"externalChargeId,omitempty" gorm:"size:128;index"`
	CreatedAt        time.Time       `bson:"createdAt" json:"createdAt"`
}

// IsCapture reports whether the entry records collected client funds.
func (t *Transaction) IsCapture() bool {
	return t.Type == TransactionDeposit || t.Type == TransactionBalance
}
