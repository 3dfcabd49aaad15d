package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is the account holder view the pipeline needs: identity, verification
// state and consent flags. Account management itself lives elsewhere.
type User struct {
	UserID           int64           `json:"user_id"`
	Name             string          `json:"name"`
	Email            string          `json:"email"`
	Country          string          `json:"country"`
	Status           string          `json:"status"` // "active", "suspended", "closed"
	DocumentVerified bool            `json:"document_verified"`
	AddressVerified  bool            `json:"address_verified"`
	IdentityVerified bool            `json:"identity_verified"`
	DataConsent      bool            `json:"data_consent"`
	ConsentUpdatedAt time.Time       `json:"consent_updated_at"`
	DailyLimit       decimal.Decimal `json:"daily_limit"` // zero means the configured default applies
	CreatedAt        time.Time       `json:"created_at"`
}

func (u *User) IsActive() bool {
	return u.Status == "active"
}
