// Package persistence provides database adapters.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"inbox_server/core/domain"
	"inbox_server/core/port/out"
	"inbox_server/pkg/crypto"
)

// CredentialSchema creates the credentials table.
const CredentialSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	email         TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	picture       TEXT NOT NULL DEFAULT '',
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	last_login    TIMESTAMP NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
)`

// ErrInvalidInput rejects a write without an email key.
var ErrInvalidInput = errors.New("invalid input")

const credentialColumns = `email, name, picture, access_token, refresh_token, last_login, created_at, updated_at`

// CredentialAdapter implements out.CredentialRepository on PostgreSQL.
type CredentialAdapter struct {
	db  *sqlx.DB
	enc *crypto.Encryptor
	now func() time.Time
}

var _ out.CredentialRepository = (*CredentialAdapter)(nil)

// NewCredentialAdapter stores tokens encrypted when enc is non-nil.
func NewCredentialAdapter(db *sqlx.DB, enc *crypto.Encryptor) *CredentialAdapter {
	return &CredentialAdapter{db: db, enc: enc, now: func() time.Time { return time.Now().UTC() }}
}

func (a *CredentialAdapter) EnsureSchema(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, CredentialSchema)
	return err
}

func (a *CredentialAdapter) GetByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	var cred domain.Credential
	err := a.db.GetContext(ctx, &cred, `SELECT `+credentialColumns+` FROM credentials WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.decrypt(&cred)
	return &cred, nil
}

func (a *CredentialAdapter) Upsert(ctx context.Context, cred *domain.Credential) error {
	if cred == nil || cred.Email == "" {
		return ErrInvalidInput
	}
	now := a.now()
	access, refresh, err := a.encryptPair(cred.AccessToken, cred.RefreshToken)
	if err != nil {
		return err
	}
	lastLogin := cred.LastLogin
	if lastLogin.IsZero() {
		lastLogin = now
	}

	_, err = a.db.ExecContext(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			picture = EXCLUDED.picture,
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), credentials.refresh_token),
			last_login = EXCLUDED.last_login,
			updated_at = EXCLUDED.updated_at`,
		cred.Email, cred.Name, cred.Picture, access, refresh, lastLogin.UTC(), now)
	return err
}

func (a *CredentialAdapter) UpdateTokens(ctx context.Context, email, accessToken, refreshToken string) error {
	if email == "" {
		return ErrInvalidInput
	}
	now := a.now()
	access, refresh, err := a.encryptPair(accessToken, refreshToken)
	if err != nil {
		return err
	}

	res, err := a.db.ExecContext(ctx, `
		UPDATE credentials SET
			access_token = $2,
			refresh_token = COALESCE(NULLIF($3, ''), refresh_token),
			updated_at = $4
		WHERE email = $1`,
		email, access, refresh, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return out.ErrCredentialNotFound
	}
	return nil
}

func (a *CredentialAdapter) Delete(ctx context.Context, email string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM credentials WHERE email = $1`, email)
	return err
}

func (a *CredentialAdapter) ListAll(ctx context.Context) ([]*domain.Credential, error) {
	var creds []*domain.Credential
	if err := a.db.SelectContext(ctx, &creds, `SELECT `+credentialColumns+` FROM credentials ORDER BY email`); err != nil {
		return nil, err
	}
	for _, c := range creds {
		a.decrypt(c)
	}
	return creds, nil
}

func (a *CredentialAdapter) encryptPair(access, refresh string) (string, string, error) {
	if a.enc == nil {
		return access, refresh, nil
	}
	encAccess, err := a.enc.Encrypt(access)
	if err != nil {
		return "", "", err
	}
	encRefresh, err := a.enc.Encrypt(refresh)
	if err != nil {
		return "", "", err
	}
	return encAccess, encRefresh, nil
}

func (a *CredentialAdapter) decrypt(c *domain.Credential) {
	c.AccessToken = a.enc.DecryptLenient(c.AccessToken)
	c.RefreshToken = a.enc.DecryptLenient(c.RefreshToken)
}
