package out

import (
	"context"
	"errors"

	"inbox_server/core/domain"
)

// ErrCredentialNotFound is returned by UpdateTokens when no record exists.
var ErrCredentialNotFound = errors.New("credential not found")

// CredentialRepository persists the per-email OAuth token pair.
type CredentialRepository interface {
	// GetByEmail returns (nil, nil) when no record exists.
	GetByEmail(ctx context.Context, email string) (*domain.Credential, error)

	// Upsert creates or replaces the record for cred.Email and stamps LastLogin.
	Upsert(ctx context.Context, cred *domain.Credential) error

	// UpdateTokens writes a refreshed token pair to an existing record. An empty
	// refreshToken leaves the stored one untouched. A missing record yields
	// ErrCredentialNotFound; only sign-in creates records.
	UpdateTokens(ctx context.Context, email, accessToken, refreshToken string) error

	// Delete removes the record; deleting a missing record is not an error.
	Delete(ctx context.Context, email string) error

	// ListAll returns every stored credential (watch renewal).
	ListAll(ctx context.Context) ([]*domain.Credential, error)
}
