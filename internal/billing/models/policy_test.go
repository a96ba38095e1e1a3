package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollPolicySchedule(t *testing.T) {
	policy := DefaultPollPolicy()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	inv := &Invoice{CreatedAt: t0, ExpiresAt: t0.Add(30 * time.Minute)}

	var polls []time.Duration
	at := policy.First(inv)
	for !policy.IsFinal(inv, at) {
		polls = append(polls, at.Sub(t0))
		at = policy.Next(inv, at)
	}
	final := at.Sub(t0)

	var want []time.Duration
	for s := 60; s <= 600; s += 60 {
		want = append(want, time.Duration(s)*time.Second)
	}
	want = append(want, 900*time.Second, 1200*time.Second, 1500*time.Second)

	assert.Equal(t, want, polls)
	assert.Equal(t, 1800*time.Second, final)
}

func TestPollPolicyDeadlineUsesEarlierExpiry(t *testing.T) {
	policy := DefaultPollPolicy()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	inv := &Invoice{CreatedAt: t0, ExpiresAt: t0.Add(10 * time.Minute)}

	assert.Equal(t, t0.Add(10*time.Minute), policy.Deadline(inv))
	assert.Equal(t, t0.Add(10*time.Minute), policy.Next(inv, t0.Add(590*time.Second)))
}

func TestPollPolicyAfterErrorIsClamped(t *testing.T) {
	policy := DefaultPollPolicy()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	inv := &Invoice{CreatedAt: t0, ExpiresAt: t0.Add(30 * time.Minute)}

	assert.Equal(t, t0.Add(130*time.Second), policy.AfterError(inv, t0.Add(100*time.Second)))
	assert.Equal(t, t0.Add(1800*time.Second), policy.AfterError(inv, t0.Add(1790*time.Second)))
}
