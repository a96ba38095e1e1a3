// Package service renders the published name map served at
// /.well-known/nostr.json.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"nip05d/internal/events"
	identity "nip05d/internal/identity/models"
	dErrors "nip05d/pkg/domain-errors"
)

type Store interface {
	List(ctx context.Context, activeOnly bool) ([]*identity.Registration, error)
	ListActiveByNames(ctx context.Context, names []string) ([]*identity.Registration, error)
}

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

// Document is the NIP-05 response body.
type Document struct {
	Names map[string]string `json:"names"`
}

type Metrics struct {
	lookups *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		lookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "nip05_directory_lookups_total",
			Help: "nostr.json lookups by cache result",
		}, []string{"cache"}),
	}
}

func (m *Metrics) lookup(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}

type Service struct {
	store   Store
	cache   Cache
	ttl     time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Service)

// WithCache serves rendered documents from cache for ttl.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = cache
		s.ttl = ttl
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ttl:    5 * time.Minute,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Render returns the encoded document for name, or for every active
// registration when name is empty. A name that does not normalize yields an
// empty map, as does one nobody holds.
func (s *Service) Render(ctx context.Context, name string) ([]byte, error) {
	key := "all"
	if name != "" {
		normalized, err := identity.NormalizeName(name)
		if err != nil {
			return json.Marshal(Document{Names: map[string]string{}})
		}
		name = normalized
		key = "name:" + name
	}

	if s.cache != nil {
		b, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.WarnContext(ctx, "directory cache read failed", "error", err)
		} else if ok {
			s.metrics.lookup("hit")
			return b, nil
		}
	}
	s.metrics.lookup("miss")

	doc, err := s.build(ctx, name)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode directory")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, b, s.ttl); err != nil {
			s.logger.WarnContext(ctx, "directory cache write failed", "error", err)
		}
	}
	return b, nil
}

func (s *Service) build(ctx context.Context, name string) (*Document, error) {
	var (
		regs []*identity.Registration
		err  error
	)
	if name == "" {
		regs, err = s.store.List(ctx, true)
	} else {
		regs, err = s.store.ListActiveByNames(ctx, []string{name})
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load directory")
	}
	doc := &Document{Names: make(map[string]string, len(regs))}
	for _, reg := range regs {
		if reg.IsActive() {
			doc.Names[reg.Name] = reg.IdentityKey.String()
		}
	}
	return doc, nil
}

// Invalidate drops cached documents.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Invalidate(ctx)
}

// Sink invalidates the cache whenever an event may change the published
// names.
func (s *Service) Sink() events.Sink {
	return events.SinkFunc{
		SinkName: "directory",
		Fn: func(ctx context.Context, e events.Event) error {
			if !e.Type.ChangesDirectory() {
				return nil
			}
			return s.Invalidate(ctx)
		},
	}
}
