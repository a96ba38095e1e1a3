package models

// GatewayInvoice is what the payment gateway returns for a new invoice.
type GatewayInvoice struct {
	PaymentHash    string
	PaymentRequest string
	Amount         int64
}

// Settlement is the gateway's answer to "is this payment settled?".
type Settlement struct {
	Paid   bool
	Amount int64
	// AmountReported is false when the gateway confirmed payment without an
	// amount. The invoice amount is fixed at creation, so paid covers it.
	AmountReported bool
}
