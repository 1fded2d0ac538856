package domain

import "time"

// Challenge is a transient record correlating one authentication attempt with
// its eventual out-of-band confirmation. At most one open (unanswered,
// unexpired) challenge governs a transaction id; several challenges may exist
// for the same token across different transactions.
type Challenge struct {
	ID            string
	TransactionID string
	Serial        string
	Message       string
	Answered      bool
	Answer        bool
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the challenge's time-to-live has elapsed at now.
// An expired challenge is terminal: polling it must report not confirmed.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
