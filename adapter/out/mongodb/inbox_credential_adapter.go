package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"inbox_server/core/domain"
	"inbox_server/core/port/out"
	"inbox_server/pkg/crypto"
)

const collectionUsers = "users"

// CredentialAdapter implements out.CredentialRepository using MongoDB.
type CredentialAdapter struct {
	collection *mongo.Collection
	enc        *crypto.Encryptor
	now        func() time.Time
}

var _ out.CredentialRepository = (*CredentialAdapter)(nil)

// NewCredentialAdapter stores tokens encrypted when enc is non-nil.
func NewCredentialAdapter(db *mongo.Database, enc *crypto.Encryptor) *CredentialAdapter {
	return &CredentialAdapter{
		collection: db.Collection(collectionUsers),
		enc:        enc,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// EnsureIndexes enforces one record per email.
func (a *CredentialAdapter) EnsureIndexes(ctx context.Context) error {
	_, err := a.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (a *CredentialAdapter) GetByEmail(ctx context.Context, email string) (*domain.Credential, error) {
	var cred domain.Credential
	err := a.collection.FindOne(ctx, bson.M{"email": email}).Decode(&cred)
	if errors.Is(err, mongo.ErrNoDocuments) {
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
		return errors.New("credential email is required")
	}
	now := a.now()
	lastLogin := cred.LastLogin
	if lastLogin.IsZero() {
		lastLogin = now
	}

	set := bson.M{
		"name":      cred.Name,
		"picture":   cred.Picture,
		"lastLogin": lastLogin,
		"updatedAt": now,
	}
	update, err := a.tokenUpdate(set, now, cred.AccessToken, cred.RefreshToken)
	if err != nil {
		return err
	}
	_, err = a.collection.UpdateOne(ctx, bson.M{"email": cred.Email}, update, options.Update().SetUpsert(true))
	return err
}

func (a *CredentialAdapter) UpdateTokens(ctx context.Context, email, accessToken, refreshToken string) error {
	if email == "" {
		return errors.New("credential email is required")
	}
	now := a.now()
	update, err := a.tokenUpdate(bson.M{"updatedAt": now}, now, accessToken, refreshToken)
	if err != nil {
		return err
	}
	delete(update, "$setOnInsert")
	res, err := a.collection.UpdateOne(ctx, bson.M{"email": email}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return out.ErrCredentialNotFound
	}
	return nil
}

func (a *CredentialAdapter) Delete(ctx context.Context, email string) error {
	_, err := a.collection.DeleteOne(ctx, bson.M{"email": email})
	return err
}

func (a *CredentialAdapter) ListAll(ctx context.Context) ([]*domain.Credential, error) {
	cursor, err := a.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "email", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var creds []*domain.Credential
	if err := cursor.All(ctx, &creds); err != nil {
		return nil, err
	}
	for _, c := range creds {
		a.decrypt(c)
	}
	return creds, nil
}

// tokenUpdate adds the token pair to set. An empty refresh token is left out
// so the stored one survives.
func (a *CredentialAdapter) tokenUpdate(set bson.M, now time.Time, accessToken, refreshToken string) (bson.M, error) {
	access, err := a.enc.Encrypt(accessToken)
	if err != nil {
		return nil, err
	}
	set["accessToken"] = access
	if refreshToken != "" {
		refresh, err := a.enc.Encrypt(refreshToken)
		if err != nil {
			return nil, err
		}
		set["refreshToken"] = refresh
	}
	return bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"createdAt": now},
	}, nil
}

func (a *CredentialAdapter) decrypt(c *domain.Credential) {
	c.AccessToken = a.enc.DecryptLenient(c.AccessToken)
	c.RefreshToken = a.enc.DecryptLenient(c.RefreshToken)
}
