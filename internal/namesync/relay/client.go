// Package relay fetches profile metadata (kind 0) from nostr relays.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"
)

// ErrUnavailable is returned when no relay answered.
var ErrUnavailable = errors.New("no relay responded")

// Profile is the newest valid kind 0 event found for a key.
type Profile struct {
	Name      string
	EventID   string
	CreatedAt time.Time
	Relay     string
}

// QueryFunc runs one filter against one relay.
type QueryFunc func(ctx context.Context, url string, filter nostr.Filter) ([]*nostr.Event, error)

// Client queries relays in parallel and keeps the newest signed profile.
type Client struct {
	query  QueryFunc
	logger *slog.Logger
}

type Option func(*Client)

// WithQueryFunc replaces the websocket transport.
func WithQueryFunc(fn QueryFunc) Option {
	return func(c *Client) { c.query = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(opts ...Option) *Client {
	c := &Client{
		query:  querySync,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func querySync(ctx context.Context, url string, filter nostr.Filter) ([]*nostr.Event, error) {
	r, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.QuerySync(ctx, filter)
}

// FetchLatestProfile asks every relay for hexKey's metadata and returns the
// newest event with a valid signature. It returns nil, nil when at least one
// relay answered and none had a usable event, and ErrUnavailable when every
// relay failed.
func (c *Client) FetchLatestProfile(ctx context.Context, hexKey string, relays []string, timeout time.Duration) (*Profile, error) {
	if len(relays) == 0 {
		return nil, fmt.Errorf("%w: no relays configured", ErrUnavailable)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	filter := nostr.Filter{
		Kinds:   []int{nostr.KindProfileMetadata},
		Authors: []string{hexKey},
		Limit:   1,
	}

	var (
		mu       sync.Mutex
		best     *nostr.Event
		bestURL  string
		answered int
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, url := range relays {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			evs, err := c.query(qctx, url, filter)
			if err != nil {
				c.logger.DebugContext(ctx, "relay query failed", "relay", url, "error", err)
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			answered++
			for _, ev := range evs {
				if !valid(ev, hexKey) {
					continue
				}
				if best == nil || ev.CreatedAt > best.CreatedAt {
					best, bestURL = ev, url
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if answered == 0 {
		return nil, ErrUnavailable
	}
	if best == nil {
		return nil, nil
	}
	return &Profile{
		Name:      profileName(best.Content),
		EventID:   best.ID,
		CreatedAt: best.CreatedAt.Time(),
		Relay:     bestURL,
	}, nil
}

func valid(ev *nostr.Event, hexKey string) bool {
	if ev == nil || ev.Kind != nostr.KindProfileMetadata || ev.PubKey != hexKey {
		return false
	}
	ok, err := ev.CheckSignature()
	return err == nil && ok
}

func profileName(content string) string {
	var meta struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(content), &meta); err != nil {
		return ""
	}
	return strings.TrimSpace(meta.Name)
}
