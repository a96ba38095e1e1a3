package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"nip05d/internal/events"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.records = append(f.records, rs...)
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func TestKafkaSinkKeysByIdentity(t *testing.T) {
	producer := &fakeProducer{}
	sink := NewKafka(producer, "nip05.events")

	err := sink.Handle(context.Background(), events.Event{
		Type:        events.UsernameUpdated,
		IdentityKey: "abc",
		OldName:     "bob",
		NewName:     "bobby",
	})
	require.NoError(t, err)
	require.Len(t, producer.records, 1)

	rec := producer.records[0]
	assert.Equal(t, "nip05.events", rec.Topic)
	assert.Equal(t, []byte("abc"), rec.Key)

	var decoded events.Event
	require.NoError(t, json.Unmarshal(rec.Value, &decoded))
	assert.Equal(t, "bobby", decoded.NewName)
}

func TestKafkaSinkReportsProduceError(t *testing.T) {
	sink := NewKafka(&fakeProducer{err: errors.New("broker down")}, "t")
	err := sink.Handle(context.Background(), events.Event{Type: events.PaymentConfirmed})
	assert.ErrorContains(t, err, "broker down")
}

type recordingNotifier struct{ got []events.Type }

func (r *recordingNotifier) Notify(_ context.Context, e events.Event) error {
	r.got = append(r.got, e.Type)
	return nil
}

func TestNotifySkipsOperationalEvents(t *testing.T) {
	n := &recordingNotifier{}
	sink := NewNotify(n)

	require.NoError(t, sink.Handle(context.Background(), events.Event{Type: events.ActivationConflict}))
	require.NoError(t, sink.Handle(context.Background(), events.Event{Type: events.PaymentConfirmed}))

	assert.Equal(t, []events.Type{events.PaymentConfirmed}, n.got)
}

func TestWebhookNotifier(t *testing.T) {
	var received events.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, srv.Client())
	require.NoError(t, n.Notify(context.Background(), events.Event{Type: events.UserRemoved, IdentityKey: "k"}))
	assert.Equal(t, events.UserRemoved, received.Type)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	assert.Error(t, NewWebhookNotifier(failing.URL, failing.Client()).Notify(context.Background(), events.Event{}))
}
