//go:build integration

package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/giftguard/internal/idgen"
	"github.com/mbd888/giftguard/internal/testutil"
)

func TestPostgresStore_Lifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	live := &Session{ID: "as_live", Owner: "ops", Token: idgen.Token(), ExpiresAt: now.Add(time.Hour), CreatedAt: now}
	dead := &Session{ID: "as_dead", Owner: "ops", Token: idgen.Token(), ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour)}
	require.NoError(t, store.Create(ctx, live))
	require.NoError(t, store.Create(ctx, dead))

	got, err := store.GetByToken(ctx, live.Token)
	require.NoError(t, err)
	assert.Equal(t, live.ID, got.ID)
	assert.True(t, live.ExpiresAt.Equal(got.ExpiresAt))

	n, err := store.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetByToken(ctx, dead.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
