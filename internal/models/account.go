package models

import "time"

// Account is the identity root. Every other record in the store hangs off an
// account and is removed with it.
type Account struct {
	AccountBucket int        `json:"-" db:"account_bucket"`
	AccountID     string     `json:"account_id" db:"account_id"`
	Handle        string     `json:"handle" db:"handle"`
	Name          string     `json:"name" db:"name"`
	Email         string     `json:"email" db:"email"`
	PasswordHash  string     `json:"-" db:"password_hash"`
	PasswordSalt  string     `json:"-" db:"password_salt"`
	PepperVersion int        `json:"-" db:"pepper_version"`
	IsVerified    bool       `json:"is_verified" db:"is_verified"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty" db:"updated_at"`
	LastLogin     *time.Time `json:"last_login,omitempty" db:"last_login"`
}

// Profile carries the referral metadata for one account.
type Profile struct {
	ProfileID    string     `json:"profile_id" db:"profile_id"`
	AccountID    string     `json:"account_id" db:"account_id"`
	ReferralCode string     `json:"referral_code" db:"referral_code"`
	ReferredBy   string     `json:"referred_by,omitempty" db:"referred_by"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// ReferralStats is the read model for a profile's referral counter.
type ReferralStats struct {
	ProfileID     string `json:"profile_id"`
	ReferredCount int64  `json:"referred_count"`
}

// AccountDocument is the shape indexed into Elasticsearch for support lookups.
type AccountDocument struct {
	AccountID  string    `json:"account_id"`
	Handle     string    `json:"handle"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	IsVerified bool      `json:"is_verified"`
	CreatedAt  time.Time `json:"created_at"`
}
