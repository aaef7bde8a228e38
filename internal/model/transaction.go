package model

import (
	"errors"
	"time"
)

// TransactionStatus is the lifecycle state of an STK push transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Terminal reports whether no further transition is defined from s.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

// Transaction is one outstanding or settled STK push request. The
// CheckoutRequestID is assigned by Daraja when the push is accepted and is the
// only lookup key; it is never generated locally.
type Transaction struct {
	CheckoutRequestID string            `json:"checkoutRequestId"`
	MerchantRequestID string            `json:"merchantRequestId,omitempty"`
	Phone             string            `json:"phone"`
	Amount            uint              `json:"amount"`
	AccountReference  string            `json:"accountRef"`
	CustomerMessage   string            `json:"customerMessage,omitempty"`
	Status            TransactionStatus `json:"status"`
	CreatedAt         time.Time         `json:"createdAt"`

	// Set only when the callback reports success.
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	ActualAmount    *float64   `json:"actualAmount,omitempty"`
	ReceiptNumber   *string    `json:"mpesaReceiptNumber,omitempty"`
	TransactionDate *int64     `json:"transactionDate,omitempty"`
	PayerPhone      *string    `json:"payerPhone,omitempty"`

	// Set only when the callback reports failure.
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// PaymentRequest is the caller-supplied input for initiating a push. It is
// consumed to produce a Transaction and never stored as its own entity.
type PaymentRequest struct {
	Phone            string `json:"phone"`
	Amount           uint   `json:"amount"`
	AccountReference string `json:"accountRef"`
}

var (
	ErrMissingPhone      = errors.New("phone is required")
	ErrInvalidAmount     = errors.New("amount must be a positive number")
	ErrMissingAccountRef = errors.New("accountRef is required")
)

func (p PaymentRequest) Validate() error {
	if p.Phone == "" {
		return ErrMissingPhone
	}
	if p.Amount == 0 {
		return ErrInvalidAmount
	}
	if p.AccountReference == "" {
		return ErrMissingAccountRef
	}
	return nil
}
