package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AgentsPilot/neuronforge-sub000/store"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	s := NewStore(store.NewInMemoryProvider(), time.Hour, "approval")
	return NewTracker(s, nil, nil)
}

func TestAnyPolicyApprovesOnFirstApproval(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)

	req, err := tr.Create(ctx, CreateOptions{
		ExecutionID: "exec-1", StepID: "step-1",
		Approvers: []string{"alice", "bob"}, Policy: PolicyAny,
		Title: "Approve refund",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, req.Status)

	req, err = tr.Respond(ctx, req.ID, "alice", "approve", "")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, req.Status)
}

func TestAllPolicyRequiresEveryApprover(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)

	req, err := tr.Create(ctx, CreateOptions{
		ExecutionID: "exec-1", StepID: "step-1",
		Approvers: []string{"alice", "bob"}, Policy: PolicyAll,
	})
	require.NoError(t, err)

	req, err = tr.Respond(ctx, req.ID, "alice", "approve", "")
	require.NoError(t, err)
	require.Equal(t, StatusPending, req.Status)

	req, err = tr.Respond(ctx, req.ID, "bob", "approve", "")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, req.Status)
}

func TestAllPolicyRejectsOnAnyRejection(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)

	req, err := tr.Create(ctx, CreateOptions{
		ExecutionID: "exec-1", StepID: "step-1",
		Approvers: []string{"alice", "bob"}, Policy: PolicyAll,
	})
	require.NoError(t, err)

	req, err = tr.Respond(ctx, req.ID, "bob", "reject", "no")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, req.Status)
}

func TestMajorityPolicyResolvesEarly(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)

	req, err := tr.Create(ctx, CreateOptions{
		ExecutionID: "exec-1", StepID: "step-1",
		Approvers: []string{"a", "b", "c"}, Policy: PolicyMajority,
	})
	require.NoError(t, err)

	req, err = tr.Respond(ctx, req.ID, "a", "reject", "")
	require.NoError(t, err)
	require.Equal(t, StatusPending, req.Status)

	req, err = tr.Respond(ctx, req.ID, "b", "reject", "")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, req.Status)
}

func TestWaitResolvesOnTimeoutReject(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)

	req, err := tr.Create(ctx, CreateOptions{
		ExecutionID: "exec-1", StepID: "step-1",
		Approvers: []string{"alice"}, Policy: PolicyAny,
		Timeout: 5 * time.Millisecond, TimeoutAction: TimeoutReject,
	})
	require.NoError(t, err)

	resolved, err := tr.Wait(ctx, req.ID, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, StatusTimeout, resolved.Status)
}

func TestExpireOnceEscalatesOnTimeout(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)

	req, err := tr.Create(ctx, CreateOptions{
		ExecutionID: "exec-1", StepID: "step-1",
		Approvers: []string{"alice"}, Policy: PolicyAny,
		Timeout: 5 * time.Millisecond, TimeoutAction: TimeoutEscalate,
		EscalateTo: []string{"manager"},
	})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	n, err := tr.ExpireOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := tr.store.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.Equal(t, []string{"manager"}, got.Approvers)
}

func TestExpireOnceIgnoresUnexpiredRequests(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(t)

	_, err := tr.Create(ctx, CreateOptions{
		ExecutionID: "exec-1", StepID: "step-1",
		Approvers: []string{"alice"}, Timeout: time.Hour,
	})
	require.NoError(t, err)

	n, err := tr.ExpireOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
