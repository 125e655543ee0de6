package account

import "time"

// BasicShip is granted to every account and cannot be removed.
const BasicShip = "basic"

// Account is a player record: identity, balance and entitlements.
type Account struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
	PasswordHash  string    `json:"-"`
	Coins         int64     `json:"coins"`
	TotalEarned   int64     `json:"total_earned"`
	OwnedShips    []string  `json:"owned_ships"`
	ActiveShip    string    `json:"active_ship"`
	Boosts        []Boost   `json:"active_boosts"`
	IsAdmin       bool      `json:"is_admin"`
	ReferralCode  string    `json:"referral_code"`
	ReferredBy    string    `json:"referred_by,omitempty"`
	ReferralCount int64     `json:"referral_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Boost is a time-limited multiplicative effect.
type Boost struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Multiplier float64   `json:"multiplier"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the boost no longer applies at t.
func (b Boost) Expired(t time.Time) bool {
	return !b.ExpiresAt.After(t)
}

// Owns reports whether the ship is in the inventory.
func (a Account) Owns(shipID string) bool {
	for _, s := range a.OwnedShips {
		if s == shipID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (a Account) Clone() Account {
	out := a
	out.OwnedShips = append([]string(nil), a.OwnedShips...)
	out.Boosts = append([]Boost(nil), a.Boosts...)
	return out
}

// Summary is the public view of another player.
type Summary struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	TotalEarned int64     `json:"total_earned"`
	CreatedAt   time.Time `json:"created_at"`
}
