package models

// PaymentState is what the payment sub-ledger knows about an order.
type PaymentState string

const (
	PaymentUnpaid  PaymentState = "unpaid"
	PaymentPending PaymentState = "pending"
	PaymentPaid    PaymentState = "paid"
)
