package models

import "time"

// PollPolicy is the stepwise backoff used to poll the gateway for settlement.
// Dense polling while payment is likely, sparse afterwards, and a hard ceiling
// after which an unpaid invoice expires.
type PollPolicy struct {
	Short  time.Duration
	Long   time.Duration
	Switch time.Duration
	Max    time.Duration
	Retry  time.Duration
}

func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Short:  60 * time.Second,
		Long:   300 * time.Second,
		Switch: 600 * time.Second,
		Max:    1800 * time.Second,
		Retry:  30 * time.Second,
	}
}

// Deadline is the instant at or after which a poll is the final check.
func (p PollPolicy) Deadline(inv *Invoice) time.Time {
	hard := inv.CreatedAt.Add(p.Max)
	if inv.ExpiresAt.Before(hard) {
		return inv.ExpiresAt
	}
	return hard
}

// IsFinal reports whether a poll at now is the final check.
func (p PollPolicy) IsFinal(inv *Invoice, now time.Time) bool {
	return !now.Before(p.Deadline(inv))
}

// First is the first poll time for an invoice created at createdAt.
func (p PollPolicy) First(inv *Invoice) time.Time {
	return p.clamp(inv, inv.CreatedAt.Add(p.Short))
}

// Next is the poll after an unsettled check at now.
func (p PollPolicy) Next(inv *Invoice, now time.Time) time.Time {
	interval := p.Long
	if now.Sub(inv.CreatedAt) < p.Switch {
		interval = p.Short
	}
	return p.clamp(inv, now.Add(interval))
}

// AfterError is the poll after a gateway failure at now.
func (p PollPolicy) AfterError(inv *Invoice, now time.Time) time.Time {
	retry := p.Retry
	if retry <= 0 {
		retry = p.Short
	}
	return p.clamp(inv, now.Add(retry))
}

func (p PollPolicy) clamp(inv *Invoice, t time.Time) time.Time {
	if d := p.Deadline(inv); t.After(d) {
		return d
	}
	return t
}
