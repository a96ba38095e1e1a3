package service

import (
	"context"
	"time"

	"nip05d/internal/namesync/relay"
)

//go:generate mockgen -source=relay.go -destination=mocks/mocks.go -package=mocks

// RelayClient fetches the newest kind 0 profile for a key.
type RelayClient interface {
	FetchLatestProfile(ctx context.Context, hexKey string, relays []string, timeout time.Duration) (*relay.Profile, error)
}
