// Package boosts evaluates time-limited coin multipliers.
package boosts

import (
	"time"

	"github.com/R3E-Network/cosmicminer/internal/app/domain/account"
)

// Evaluation splits a boost list at an instant.
type Evaluation struct {
	Valid      []account.Boost
	Expired    []account.Boost
	Multiplier float64
}

// Evaluate partitions boosts into valid and expired sets at now. A boost whose
// expiry equals now is expired. Multiplier is the product of the valid
// boosts' factors and 1.0 when none apply.
func Evaluate(list []account.Boost, now time.Time) Evaluation {
	ev := Evaluation{Multiplier: 1.0}
	for _, b := range list {
		if b.Expired(now) {
			ev.Expired = append(ev.Expired, b)
			continue
		}
		ev.Valid = append(ev.Valid, b)
		ev.Multiplier *= b.Multiplier
	}
	return ev
}

// New builds a boost that starts at now.
func New(id, name string, multiplier float64, duration time.Duration, now time.Time) account.Boost {
	return account.Boost{
		ID:         id,
		Name:       name,
		Multiplier: multiplier,
		ExpiresAt:  now.Add(duration).UTC(),
	}
}
