package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/support-widget/internal/chat"
)

type fakeClient struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Get(ctx context.Context, key string) *redis.StringCmd {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeClient) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestConversation_RoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	store := New(client, time.Hour).ForConversation("conv-1")

	snap, err := store.LoadConversationState(ctx)
	require.NoError(t, err)
	require.Empty(t, snap.Messages)
	require.False(t, snap.IsLoading)

	ts := time.Date(2024, 5, 2, 14, 0, 0, 0, time.UTC)
	msgs := []chat.Message{
		{ID: "a", Type: chat.MessageUser, Content: "hi", Timestamp: ts},
		{ID: "b", Type: chat.MessageAI, Content: "hello", Timestamp: ts.Add(time.Second), FeedbackSubmitted: true},
	}
	require.NoError(t, store.UpdateMessages(ctx, msgs, "sync_live_ahead"))
	require.Equal(t, time.Hour, client.ttls["support:conversation:conv-1:messages"])

	snap, err = store.LoadConversationState(ctx)
	require.NoError(t, err)
	require.Equal(t, msgs, snap.Messages)

	require.NoError(t, store.ClearConversation(ctx))
	snap, err = store.LoadConversationState(ctx)
	require.NoError(t, err)
	require.Empty(t, snap.Messages)
}

func TestConversation_CorruptSnapshotIsAnError(t *testing.T) {
	client := newFakeClient()
	client.data["support:conversation:conv-2:messages"] = "{not json"

	_, err := New(client, 0).ForConversation("conv-2").LoadConversationState(context.Background())
	require.Error(t, err)
}
