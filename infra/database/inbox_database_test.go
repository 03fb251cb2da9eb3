package database

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
	assert.NotNil(t, GetRedisStats(client))
}

func TestNewRedisErrors(t *testing.T) {
	_, err := NewRedis(context.Background(), "not a url")
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = NewRedis(context.Background(), "redis://"+addr)
	assert.Error(t, err)
}

func TestDefaultPostgresConfig(t *testing.T) {
	t.Setenv("DB_MAX_CONNS", "7")
	assert.Equal(t, 7, DefaultPostgresConfig().MaxOpenConns)

	t.Setenv("DB_MAX_CONNS", "nope")
	assert.Equal(t, 25, DefaultPostgresConfig().MaxOpenConns)
}
