package model

import (
	"time"

	"github.com/google/uuid"
)

// Identity is the phone number a user signs in with
type Identity struct {
	CountryCode string
	Mobile      string
}

// String returns the dialable form used as the OTP identity (country code followed by the number)
func (i Identity) String() string {
	return i.CountryCode + i.Mobile
}

// User represents a registered user with decrypted identity fields
type User struct {
	ID           uuid.UUID
	CountryCode  string
	Mobile       string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Detail       UserDetail
}

// Identity returns the user's phone identity
func (u User) Identity() Identity {
	return Identity{CountryCode: u.CountryCode, Mobile: u.Mobile}
}

// UserDetail holds optional personal fields of a user
type UserDetail struct {
	First string
	Last  string
	Email string
}

// DisplayName returns the name used when addressing the user, "user" if none is known
func (d UserDetail) DisplayName() string {
	if d.First != "" {
		return d.First
	}
	return "user"
}

// OtpChannel identifies where a one-time code was delivered
type OtpChannel string

const (
	OtpChannelMobile OtpChannel = "mobile"
	OtpChannelEmail  OtpChannel = "email"
)

// OneTimeCode represents a stored one-time code. Identity and Code hold ciphertext.
type OneTimeCode struct {
	ID        uuid.UUID
	Channel   OtpChannel
	Identity  string
	Code      string
	CreatedAt time.Time
}

// MealType represents a named time window of a user's meal schedule
type MealType struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Label     string
	Start     int
	End       int
	CreatedAt time.Time
}
