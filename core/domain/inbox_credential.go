package domain

import (
	"time"
)

// Credential is the stored OAuth token pair for one Gmail account.
// At most one record exists per email.
type Credential struct {
	Email        string    `json:"email" bson:"email" db:"email"`
	Name         string    `json:"name,omitempty" bson:"name,omitempty" db:"name"`
	Picture      string    `json:"picture,omitempty" bson:"picture,omitempty" db:"picture"`
	AccessToken  string    `json:"-" bson:"accessToken" db:"access_token"`
	RefreshToken string    `json:"-" bson:"refreshToken,omitempty" db:"refresh_token"`
	LastLogin    time.Time `json:"last_login" bson:"lastLogin" db:"last_login"`
	CreatedAt    time.Time `json:"created_at" bson:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updatedAt" db:"updated_at"`
}

// CanRefresh reports whether a refresh token is available.
func (c *Credential) CanRefresh() bool {
	return c != nil && c.RefreshToken != ""
}

// Profile is the identity Google reports for the signed-in user.
type Profile struct {
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	VerifiedEmail bool   `json:"verified_email,omitempty"`
}
