package mongodb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"inbox_server/pkg/crypto"
)

func TestTokenUpdateKeepsStoredRefreshToken(t *testing.T) {
	a := &CredentialAdapter{}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	update, err := a.tokenUpdate(bson.M{"updatedAt": now}, now, "access", "")
	require.NoError(t, err)
	set := update["$set"].(bson.M)
	assert.Equal(t, "access", set["accessToken"])
	assert.NotContains(t, set, "refreshToken")
	assert.Equal(t, bson.M{"createdAt": now}, update["$setOnInsert"])

	update, err = a.tokenUpdate(bson.M{}, now, "access", "refresh")
	require.NoError(t, err)
	assert.Equal(t, "refresh", update["$set"].(bson.M)["refreshToken"])
}

func TestTokenUpdateEncrypts(t *testing.T) {
	enc, err := crypto.NewEncryptor([]byte("k"))
	require.NoError(t, err)
	a := &CredentialAdapter{enc: enc}

	update, err := a.tokenUpdate(bson.M{}, time.Now(), "access", "refresh")
	require.NoError(t, err)
	set := update["$set"].(bson.M)
	stored := set["accessToken"].(string)
	assert.NotEqual(t, "access", stored)
	assert.Equal(t, "access", enc.DecryptLenient(stored))
}
