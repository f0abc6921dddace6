// Package approval implements the ApprovalRequest entity and the human
// approval gate (spec.md §3 "ApprovalRequest", §4.8 "Human approval",
// "Approval policy resolution"). Grounded on gomind's HITL subsystem
// (orchestration/hitl_checkpoint_store.go, hitl_controller.go) generalized
// from "pause an agent-routing plan" to "pause a workflow step pending
// approver responses".
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/AgentsPilot/neuronforge-sub000/core"
	"github.com/AgentsPilot/neuronforge-sub000/store"
)

// Status is the closed set of ApprovalRequest states (spec.md §3).
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusTimeout   Status = "timeout"
	StatusEscalated Status = "escalated"
)

// Policy is the closed set of approval resolution policies (spec.md §3, §4.8
// "Approval policy resolution").
type Policy string

const (
	PolicyAny      Policy = "any"
	PolicyAll      Policy = "all"
	PolicyMajority Policy = "majority"
)

// TimeoutAction is what happens when an ApprovalRequest expires unresolved
// (spec.md §3 "optional timeout action").
type TimeoutAction string

const (
	TimeoutApprove  TimeoutAction = "approve"
	TimeoutReject   TimeoutAction = "reject"
	TimeoutEscalate TimeoutAction = "escalate"
)

// Response is one approver's decision (spec.md §3).
type Response struct {
	ApproverID     string    `json:"approverId"`
	Decision       string    `json:"decision"` // "approve" | "reject"
	Comment        string    `json:"comment,omitempty"`
	RespondedAt    time.Time `json:"respondedAt"`
	DelegatedFrom  string    `json:"delegatedFrom,omitempty"`
}

// Request is the ApprovalRequest entity (spec.md §3).
type Request struct {
	ID            string                 `json:"id"`
	ExecutionID   string                 `json:"executionId"`
	StepID        string                 `json:"stepId"`
	Approvers     []string               `json:"approvers"`
	Policy        Policy                 `json:"policy"`
	Title         string                 `json:"title"`
	Message       string                 `json:"message,omitempty"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Status        Status                 `json:"status"`
	CreatedAt     time.Time              `json:"createdAt"`
	ExpiresAt     time.Time              `json:"expiresAt"`
	Responses     []Response             `json:"responses,omitempty"`
	TimeoutAction TimeoutAction          `json:"timeoutAction,omitempty"`
	EscalateTo    []string               `json:"escalateTo,omitempty"`
}

// Notifier is the consumed notification channel surface (spec.md §6
// "Notification channels", "Generic send(channelType, channelConfig,
// payload)").
type Notifier interface {
	Send(ctx context.Context, channelType string, channelConfig map[string]interface{}, payload interface{}) error
}

// LoggingNotifier is the safe default Notifier: it records the notification
// via core.Logger rather than delivering it anywhere (real channels — email,
// Slack, SMS — are out of scope per spec.md §1).
type LoggingNotifier struct {
	Logger core.Logger
}

func (n LoggingNotifier) Send(ctx context.Context, channelType string, channelConfig map[string]interface{}, payload interface{}) error {
	logger := n.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	logger.Info("approval: notification", map[string]interface{}{
		"channel_type": channelType, "payload": payload,
	})
	return nil
}

const idxPending = "index:pending"

// Store persists ApprovalRequests over a store.Provider (ground: gomind's
// hitl_checkpoint_store.go Redis-backed checkpoint persistence).
type Store struct {
	p         store.Provider
	ttl       time.Duration
	keyPrefix string
}

// NewStore wraps p for approval-request persistence.
func NewStore(p store.Provider, ttl time.Duration, keyPrefix string) *Store {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if keyPrefix == "" {
		keyPrefix = "approval"
	}
	return &Store{p: p, ttl: ttl, keyPrefix: keyPrefix}
}

func (s *Store) key(id string) string { return fmt.Sprintf("%s:%s", s.keyPrefix, id) }

func (s *Store) pendingIndex() string { return fmt.Sprintf("%s:%s", s.keyPrefix, idxPending) }

func (s *Store) Save(ctx context.Context, req *Request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return core.NewFrameworkError("approval.Store.Save", "encode", err)
	}
	if err := s.p.Set(ctx, s.key(req.ID), string(b), s.ttl); err != nil {
		return err
	}
	if req.Status == StatusPending {
		return s.p.AddToIndex(ctx, s.pendingIndex(), float64(req.ExpiresAt.UnixNano()), req.ID)
	}
	return s.p.RemoveFromIndex(ctx, s.pendingIndex(), req.ID)
}

func (s *Store) Get(ctx context.Context, id string) (*Request, error) {
	v, ok, err := s.p.Get(ctx, s.key(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrNotFound
	}
	var req Request
	if err := json.Unmarshal([]byte(v), &req); err != nil {
		return nil, core.NewFrameworkError("approval.Store.Get", "decode", err)
	}
	return &req, nil
}

// ListPending returns every still-pending request, used by the expiry
// processor to find candidates without scanning the whole keyspace.
func (s *Store) ListPending(ctx context.Context) ([]*Request, error) {
	ids, err := s.p.ListByScoreDesc(ctx, s.pendingIndex(), 0, -1)
	if err != nil {
		return nil, err
	}
	out := make([]*Request, 0, len(ids))
	for _, id := range ids {
		req, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

// Tracker drives ApprovalRequest creation, response recording, policy
// resolution, and timeout/escalation handling (spec.md §4.8 "Human
// approval", "Approval policy resolution"). The Orchestrator owns the only
// Tracker for a run; ApprovalRequest itself is otherwise shared read-only
// with the external approval UI (spec.md §3 "Ownership").
type Tracker struct {
	store    *Store
	notifier Notifier
	logger   core.Logger

	mu      sync.Mutex
	waiters map[string][]chan *Request
}

// NewTracker creates a Tracker over store s, notifying approvers through n.
func NewTracker(s *Store, n Notifier, logger core.Logger) *Tracker {
	if n == nil {
		n = LoggingNotifier{Logger: logger}
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Tracker{store: s, notifier: n, logger: logger, waiters: map[string][]chan *Request{}}
}

// CreateOptions configures a new approval request's shape (spec.md §3).
type CreateOptions struct {
	ExecutionID   string
	StepID        string
	Approvers     []string
	Policy        Policy
	Title         string
	Message       string
	Context       map[string]interface{}
	Timeout       time.Duration
	TimeoutAction TimeoutAction
	EscalateTo    []string
}

// Create builds, persists, and notifies approvers for a new ApprovalRequest.
func (t *Tracker) Create(ctx context.Context, opts CreateOptions) (*Request, error) {
	if opts.Policy == "" {
		opts.Policy = PolicyAny
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 24 * time.Hour
	}
	now := time.Now()
	req := &Request{
		ID:            core.NewID("appr"),
		ExecutionID:   opts.ExecutionID,
		StepID:        opts.StepID,
		Approvers:     opts.Approvers,
		Policy:        opts.Policy,
		Title:         opts.Title,
		Message:       opts.Message,
		Context:       opts.Context,
		Status:        StatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(opts.Timeout),
		TimeoutAction: opts.TimeoutAction,
		EscalateTo:    opts.EscalateTo,
	}
	if err := t.store.Save(ctx, req); err != nil {
		return nil, err
	}
	for _, approver := range req.Approvers {
		_ = t.notifier.Send(ctx, "approval_request", map[string]interface{}{"approver": approver}, req)
	}
	return req, nil
}

// Respond records one approver's decision and resolves the request's status
// per its policy (spec.md §4.8 "Approval policy resolution"):
//   - any: one approval suffices
//   - all: every listed approver must approve; any rejection fails it
//   - majority: strictly more than half must approve; it rejects as soon as
//     the remaining approvers cannot reach the threshold
func (t *Tracker) Respond(ctx context.Context, requestID, approverID, decision, comment string) (*Request, error) {
	req, err := t.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return req, nil
	}
	req.Responses = append(req.Responses, Response{
		ApproverID: approverID, Decision: decision, Comment: comment, RespondedAt: time.Now(),
	})
	req.Status = resolveStatus(req)
	if err := t.store.Save(ctx, req); err != nil {
		return nil, err
	}
	t.notifyWaiters(req)
	return req, nil
}

func resolveStatus(req *Request) Status {
	approved, rejected := 0, 0
	decided := map[string]bool{}
	for _, r := range req.Responses {
		if decided[r.ApproverID] {
			continue
		}
		decided[r.ApproverID] = true
		if r.Decision == "approve" {
			approved++
		} else {
			rejected++
		}
	}
	total := len(req.Approvers)

	switch req.Policy {
	case PolicyAll:
		if rejected > 0 {
			return StatusRejected
		}
		if approved == total {
			return StatusApproved
		}
		return StatusPending
	case PolicyMajority:
		threshold := total/2 + 1
		if approved >= threshold {
			return StatusApproved
		}
		// Rejected as soon as remaining approvers can no longer reach threshold.
		remaining := total - approved - rejected
		if approved+remaining < threshold {
			return StatusRejected
		}
		return StatusPending
	default: // PolicyAny
		if approved > 0 {
			return StatusApproved
		}
		if rejected == total {
			return StatusRejected
		}
		return StatusPending
	}
}

// Wait blocks until req resolves (approved/rejected/timeout/escalated) or ctx
// is cancelled, polling the store at the given interval — the Orchestrator's
// "poll until approved, rejected, or timeout" loop (spec.md §4.8).
func (t *Tracker) Wait(ctx context.Context, requestID string, pollInterval time.Duration) (*Request, error) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		req, err := t.store.Get(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if req.Status != StatusPending {
			return req, nil
		}
		if time.Now().After(req.ExpiresAt) {
			return t.resolveTimeout(ctx, req)
		}
		select {
		case <-ctx.Done():
			return req, ctx.Err()
		case <-ticker.C:
		}
	}
}

// resolveTimeout applies the configured timeout action (spec.md §4.8
// "Resolve timeout per the configured action (auto-approve, auto-reject, or
// escalate to a fallback approver list; if escalation targets are absent,
// fall back to reject)").
func (t *Tracker) resolveTimeout(ctx context.Context, req *Request) (*Request, error) {
	switch req.TimeoutAction {
	case TimeoutApprove:
		req.Status = StatusApproved
	case TimeoutEscalate:
		if len(req.EscalateTo) == 0 {
			req.Status = StatusRejected
		} else {
			req.Status = StatusEscalated
			req.Approvers = req.EscalateTo
			req.ExpiresAt = time.Now().Add(24 * time.Hour)
			req.Status = StatusPending // re-open for the escalation targets
			if err := t.store.Save(ctx, req); err != nil {
				return nil, err
			}
			for _, approver := range req.EscalateTo {
				_ = t.notifier.Send(ctx, "approval_escalated", map[string]interface{}{"approver": approver}, req)
			}
			return req, nil
		}
	default:
		req.Status = StatusTimeout
	}
	if err := t.store.Save(ctx, req); err != nil {
		return nil, err
	}
	t.notifyWaiters(req)
	return req, nil
}

// ExpireOnce scans pending requests once and resolves any that have passed
// their ExpiresAt — the body of the expiry processor's periodic tick (ground:
// gomind's hitl_checkpoint_store.go expiry processor, SPEC_FULL.md §4.10
// "Checkpoint expiry processor").
func (t *Tracker) ExpireOnce(ctx context.Context) (int, error) {
	pending, err := t.store.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, req := range pending {
		if time.Now().After(req.ExpiresAt) {
			if _, err := t.resolveTimeout(ctx, req); err == nil {
				n++
			}
		}
	}
	return n, nil
}

// RunExpiryProcessor runs ExpireOnce on interval until ctx is cancelled.
func (t *Tracker) RunExpiryProcessor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := t.ExpireOnce(ctx); err != nil {
				t.logger.Warn("approval: expiry scan failed", map[string]interface{}{"error": err.Error()})
			} else if n > 0 {
				t.logger.Info("approval: expired requests resolved", map[string]interface{}{"count": n})
			}
		}
	}
}

func (t *Tracker) notifyWaiters(req *Request) {
	t.mu.Lock()
	chans := t.waiters[req.ID]
	delete(t.waiters, req.ID)
	t.mu.Unlock()
	for _, c := range chans {
		c <- req
		close(c)
	}
}
