package sinks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip19"
	"golang.org/x/sync/errgroup"

	"nip05d/internal/events"
)

// ErrNoRelayAccepted is returned when every relay refused or failed a DM.
var ErrNoRelayAccepted = errors.New("no relay accepted the direct message")

// PublishFunc sends one signed event to one relay.
type PublishFunc func(ctx context.Context, url string, ev nostr.Event) error

// NostrDM sends each notification as an encrypted kind 4 direct message from
// the service key to the party's key.
type NostrDM struct {
	secretKey string
	publicKey string
	relays    []string
	domain    string
	timeout   time.Duration
	publish   PublishFunc
	logger    *slog.Logger
}

type NostrDMOption func(*NostrDM)

// WithPublishFunc replaces the websocket transport.
func WithPublishFunc(fn PublishFunc) NostrDMOption {
	return func(d *NostrDM) { d.publish = fn }
}

func WithDMLogger(logger *slog.Logger) NostrDMOption {
	return func(d *NostrDM) { d.logger = logger }
}

// WithRelayTimeout bounds each relay publish.
func WithRelayTimeout(timeout time.Duration) NostrDMOption {
	return func(d *NostrDM) { d.timeout = timeout }
}

// NewNostrDM builds a notifier signing with secretKey, given as hex or nsec.
func NewNostrDM(secretKey string, relays []string, domain string, opts ...NostrDMOption) (*NostrDM, error) {
	sk, err := parseSecretKey(secretKey)
	if err != nil {
		return nil, err
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("derive dm public key: %w", err)
	}
	if len(relays) == 0 {
		return nil, errors.New("nostr dm: no relays configured")
	}
	d := &NostrDM{
		secretKey: sk,
		publicKey: pk,
		relays:    relays,
		domain:    domain,
		timeout:   10 * time.Second,
		publish:   publishOnce,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func parseSecretKey(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "nsec1") {
		prefix, value, err := nip19.Decode(raw)
		if err != nil || prefix != "nsec" {
			return "", errors.New("nostr dm: invalid nsec key")
		}
		sk, ok := value.(string)
		if !ok {
			return "", errors.New("nostr dm: invalid nsec key")
		}
		return sk, nil
	}
	raw = strings.ToLower(raw)
	if !nostr.IsValid32ByteHex(raw) {
		return "", errors.New("nostr dm: private key must be 64 hex characters or nsec")
	}
	return raw, nil
}

func publishOnce(ctx context.Context, url string, ev nostr.Event) error {
	r, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.Publish(ctx, ev)
}

// PublicKey is the hex key parties receive messages from.
func (d *NostrDM) PublicKey() string { return d.publicKey }

// Notify encrypts the message for e and publishes it to every relay. It
// succeeds when at least one relay accepted the event.
func (d *NostrDM) Notify(ctx context.Context, e events.Event) error {
	text := d.message(e)
	if text == "" || e.IdentityKey == "" {
		return nil
	}
	ev, err := d.seal(e.IdentityKey, text)
	if err != nil {
		return err
	}

	var (
		mu       sync.Mutex
		accepted int
		errs     []error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, url := range d.relays {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, d.timeout)
			defer cancel()
			err := d.publish(pctx, url, ev)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", url, err))
				return nil
			}
			accepted++
			return nil
		})
	}
	_ = g.Wait()

	if accepted == 0 {
		return fmt.Errorf("%w: %w", ErrNoRelayAccepted, errors.Join(errs...))
	}
	d.logger.InfoContext(ctx, "direct message sent",
		"event_type", string(e.Type),
		"identity_key", e.IdentityKey,
		"relays_accepted", accepted,
		"relays_total", len(d.relays),
	)
	return nil
}

// seal builds the signed kind 4 event carrying text for recipient.
func (d *NostrDM) seal(recipient, text string) (nostr.Event, error) {
	shared, err := nip04.ComputeSharedSecret(recipient, d.secretKey)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("compute shared secret: %w", err)
	}
	content, err := nip04.Encrypt(text, shared)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("encrypt direct message: %w", err)
	}
	ev := nostr.Event{
		PubKey:    d.publicKey,
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindEncryptedDirectMessage,
		Tags:      nostr.Tags{{"p", recipient}},
		Content:   content,
	}
	if err := ev.Sign(d.secretKey); err != nil {
		return nostr.Event{}, fmt.Errorf("sign direct message: %w", err)
	}
	return ev, nil
}

func (d *NostrDM) message(e events.Event) string {
	addr := e.Name + "@" + d.domain
	switch e.Type {
	case events.PaymentConfirmed:
		if e.ExpiresAt != nil {
			return fmt.Sprintf("Payment received. %s is active until %s.", addr, e.ExpiresAt.Format("2006-01-02"))
		}
		return fmt.Sprintf("Payment received. %s is active.", addr)
	case events.InvoiceExpired:
		return fmt.Sprintf("Your invoice for %s expired before it was paid. The name is available again.", addr)
	case events.UsernameUpdated:
		return fmt.Sprintf("Your identifier changed from %s@%s to %s@%s to match your profile name.",
			e.OldName, d.domain, e.NewName, d.domain)
	case events.UserWhitelisted:
		return fmt.Sprintf("%s has been assigned to you.", addr)
	case events.UserRemoved:
		return fmt.Sprintf("%s has been removed.", addr)
	case events.SubscriptionExpiring:
		if e.ExpiresAt == nil {
			return ""
		}
		return fmt.Sprintf("%s expires on %s. Renew to keep it.", addr, e.ExpiresAt.Format("2006-01-02"))
	case events.SubscriptionExpired:
		return fmt.Sprintf("%s has expired and is no longer published.", addr)
	default:
		return ""
	}
}
