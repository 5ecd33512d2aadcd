package transcript

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	msg := NewMessage(RoleAgent, "Pay 0.001 USDC?", ActionPaymentPrompt)

	_, err := uuid.Parse(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleAgent, msg.Role)
	assert.True(t, msg.HasAction(ActionPaymentPrompt))
	assert.False(t, msg.HasAction(ActionPaymentExecuted))
	assert.False(t, msg.CreatedAt.IsZero())
	assert.NotEqual(t, msg.ID, NewMessage(RoleAgent, "again").ID)
}

func TestMessage_ContainsAny(t *testing.T) {
	msg := NewMessage(RoleAgent, "This costs 0.001 usdc")
	assert.True(t, msg.ContainsAny([]string{"USDC"}))
	assert.False(t, msg.ContainsAny([]string{"ETH", ""}))
	assert.False(t, msg.ContainsAny(nil))
}

func TestAction_Resolves(t *testing.T) {
	assert.True(t, ActionPaymentExecuted.Resolves())
	assert.True(t, ActionPaymentSkipped.Resolves())
	assert.True(t, ActionPaymentFailed.Resolves())
	assert.True(t, ActionPaymentReset.Resolves())
	assert.False(t, ActionPaymentPrompt.Resolves())
	assert.False(t, ActionPaymentDenied.Resolves())
}

func testStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	session := "session-" + uuid.NewString()

	empty, err := store.Recent(ctx, session, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for i := 0; i < 15; i++ {
		require.NoError(t, store.Append(ctx, session, NewMessage(RoleUser, fmt.Sprintf("m%d", i))))
	}
	require.NoError(t, store.Append(ctx, "other-"+session, NewMessage(RoleUser, "elsewhere")))

	recent, err := store.Recent(ctx, session, 10)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	assert.Equal(t, "m5", recent[0].Text)
	assert.Equal(t, "m14", recent[9].Text)

	none, err := store.Recent(ctx, session, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore(0))
}

func TestMemoryStore_Retention(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, "s", NewMessage(RoleUser, fmt.Sprintf("m%d", i))))
	}

	recent, err := store.Recent(ctx, "s", 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "m2", recent[0].Text)
}

func TestMemoryStore_RecentIsACopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)
	require.NoError(t, store.Append(ctx, "s", NewMessage(RoleUser, "original")))

	recent, err := store.Recent(ctx, "s", 1)
	require.NoError(t, err)
	recent[0].Text = "mutated"

	again, err := store.Recent(ctx, "s", 1)
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Text)
}

func TestMemoryStore_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewMemoryStore(10)
	assert.ErrorIs(t, store.Append(ctx, "s", NewMessage(RoleUser, "x")), context.Canceled)
	_, err := store.Recent(ctx, "s", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestRedisStore_Integration requires a running Redis at X402_TEST_REDIS_ADDR.
func TestRedisStore_Integration(t *testing.T) {
	addr := os.Getenv("X402_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping Redis integration test: X402_TEST_REDIS_ADDR not set")
	}

	store := NewRedisStoreFromAddr(addr, "", 0, WithKeyPrefix("x402:test:"), WithRetention(12))
	if err := store.Ping(context.Background()); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	testStore(t, store)

	ctx := context.Background()
	session := "actions-" + uuid.NewString()
	require.NoError(t, store.Append(ctx, session, NewMessage(RoleAgent, "Pay?", ActionPaymentPrompt)))
	recent, err := store.Recent(ctx, session, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].HasAction(ActionPaymentPrompt))
}
