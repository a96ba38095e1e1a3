package service

import (
	"context"

	"nip05d/internal/billing/models"
)

//go:generate mockgen -source=gateway.go -destination=mocks/mocks.go -package=mocks

// Gateway is the external payment service. Errors mean the gateway could not
// answer; "not paid yet" is a Settlement with Paid=false.
type Gateway interface {
	CreateInvoice(ctx context.Context, amount int64, memo string) (*models.GatewayInvoice, error)
	CheckSettlement(ctx context.Context, paymentHash string) (*models.Settlement, error)
}
