package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/AgentsPilot/neuronforge-sub000/core"
)

func newMiniredisProvider(t *testing.T) *RedisProvider {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisProviderFromClient(client, "test", nil)
}

func TestInMemoryProviderGetSetExpiry(t *testing.T) {
	ctx := context.Background()
	p := NewInMemoryProvider()

	_, ok, err := p.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, p.Set(ctx, "k", "v", time.Hour))
	v, ok, err := p.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)

	exists, err := p.Exists(ctx, "k")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, p.Set(ctx, "expired", "v", time.Nanosecond))
	time.Sleep(2 * time.Millisecond)
	_, ok, err = p.Get(ctx, "expired")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, p.Del(ctx, "k"))
	_, ok, err = p.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInMemoryProviderIndexOrdering(t *testing.T) {
	ctx := context.Background()
	p := NewInMemoryProvider()

	require.NoError(t, p.AddToIndex(ctx, "idx", 1, "a"))
	require.NoError(t, p.AddToIndex(ctx, "idx", 3, "b"))
	require.NoError(t, p.AddToIndex(ctx, "idx", 2, "c"))

	members, err := p.ListByScoreDesc(ctx, "idx", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "a"}, members)

	require.NoError(t, p.RemoveFromIndex(ctx, "idx", "b"))
	members, err = p.ListByScoreDesc(ctx, "idx", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a"}, members)
}

func testProviderRoundTrip(t *testing.T, p Provider) {
	ctx := context.Background()
	require.NoError(t, p.Set(ctx, "greeting", "hello", time.Minute))
	v, ok, err := p.Get(ctx, "greeting")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", v)

	require.NoError(t, p.AddToIndex(ctx, "ranked", 5, "first"))
	require.NoError(t, p.AddToIndex(ctx, "ranked", 1, "second"))
	members, err := p.ListByScoreDesc(ctx, "ranked", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, members)
}

func TestRedisProviderRoundTrip(t *testing.T) {
	testProviderRoundTrip(t, newMiniredisProvider(t))
}

func TestProviderExecutionStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewProviderExecutionStore(NewInMemoryProvider(), time.Hour, "exec")

	rec := &ExecutionRecord{
		ExecutionID: "exec-1",
		AgentID:     "agent-1",
		Status:      "running",
		StartedAt:   time.Now(),
	}
	require.NoError(t, s.Create(ctx, rec))

	got, err := s.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, "running", got.Status)

	rec.Status = "completed"
	require.NoError(t, s.Update(ctx, rec))
	got, err = s.Get(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, "completed", got.Status)

	recent, err := s.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	_, err = s.Get(ctx, "does-not-exist")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestProviderExecutionStoreSteps(t *testing.T) {
	ctx := context.Background()
	s := NewProviderExecutionStore(NewInMemoryProvider(), time.Hour, "exec")

	require.NoError(t, s.LogStep(ctx, &StepExecutionRecord{
		ExecutionID: "exec-1", StepID: "step-1", Status: "completed", StartedAt: time.Now(),
	}))
	require.NoError(t, s.LogStep(ctx, &StepExecutionRecord{
		ExecutionID: "exec-1", StepID: "step-2", Status: "completed", StartedAt: time.Now().Add(time.Second),
	}))

	steps, err := s.ListSteps(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
}

func TestProviderExecutionStoreTokenTotals(t *testing.T) {
	ctx := context.Background()
	s := NewProviderExecutionStore(NewInMemoryProvider(), time.Hour, "exec")

	require.NoError(t, s.Record(ctx, &TokenUsageRecord{
		ExecutionID: "exec-1", StepID: "step-1", Source: "llm",
		Usage: core.TokenUsage{Total: 10, Prompt: 6, Completion: 4},
	}))
	require.NoError(t, s.Record(ctx, &TokenUsageRecord{
		ExecutionID: "exec-1", StepID: "step-2", Source: "llm",
		Usage: core.TokenUsage{Total: 5, Prompt: 3, Completion: 2},
	}))

	total, err := s.Total(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, 15, total.Total)
	require.Equal(t, 9, total.Prompt)
	require.Equal(t, 6, total.Completion)
}
