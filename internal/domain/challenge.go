package domain

import "time"

// Challenge is a server-issued registration nonce. It is single-use: the
// registry consumes it atomically, so a replayed registration bundle cannot
// ride an already-spent challenge.
type Challenge struct {
	ID         string
	Nonce      []byte
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}
