package domain

import "time"

// Lock is a named, owner-scoped lease used to keep jobs from running concurrently
type Lock struct {
	Name       string    `json:"name" msgpack:"name"`
	Owner      string    `json:"owner" msgpack:"owner"`
	AcquiredAt time.Time `json:"acquired_at" msgpack:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at" msgpack:"expires_at"`
}

// Expired reports whether the lease has run out at the given instant
func (l Lock) Expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && !now.Before(l.ExpiresAt)
}
