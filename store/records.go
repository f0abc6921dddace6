package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/AgentsPilot/neuronforge-sub000/core"
)

// ExecutionRecord is the logical workflow_executions row (spec.md §6).
type ExecutionRecord struct {
	ExecutionID   string                 `json:"executionId"`
	AgentID       string                 `json:"agentId"`
	UserID        string                 `json:"userId"`
	SessionID     string                 `json:"sessionId"`
	Status        string                 `json:"status"` // running|paused|completed|failed|cancelled
	StartedAt     time.Time              `json:"startedAt"`
	EndedAt       time.Time              `json:"endedAt,omitempty"`
	TotalTime     time.Duration          `json:"totalTime,omitempty"`
	TokensUsed    core.TokenUsage        `json:"tokensUsed,omitempty"`
	FinalOutput   map[string]interface{} `json:"finalOutput,omitempty"`
	Error         string                 `json:"error,omitempty"`
	ErrorCode     string                 `json:"errorCode,omitempty"`
	FailedStep    string                 `json:"failedStep,omitempty"`
}

// StepExecutionRecord is one logical workflow_step_executions row (spec.md §6).
type StepExecutionRecord struct {
	ExecutionID   string          `json:"executionId"`
	StepID        string          `json:"stepId"`
	StepName      string          `json:"stepName"`
	Status        string          `json:"status"` // running|completed|failed|skipped
	StartedAt     time.Time       `json:"startedAt"`
	EndedAt       time.Time       `json:"endedAt,omitempty"`
	Duration      time.Duration   `json:"duration,omitempty"`
	ItemCount     int             `json:"itemCount,omitempty"`
	TokensUsed    core.TokenUsage `json:"tokensUsed,omitempty"`
	Error         string          `json:"error,omitempty"`
	ErrorCode     string          `json:"errorCode,omitempty"`
}

// TokenUsageRecord is one logical token_usage row (spec.md §6), covering both
// LLM calls and plugin-equivalent-token billable units.
type TokenUsageRecord struct {
	ExecutionID string          `json:"executionId"`
	StepID      string          `json:"stepId"`
	Source      string          `json:"source"` // "llm" | "plugin"
	Usage       core.TokenUsage `json:"usage"`
	RecordedAt  time.Time       `json:"recordedAt"`
}

// ExecutionStore is the workflow_executions write/read path.
type ExecutionStore interface {
	Create(ctx context.Context, rec *ExecutionRecord) error
	Update(ctx context.Context, rec *ExecutionRecord) error
	Get(ctx context.Context, executionID string) (*ExecutionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]*ExecutionRecord, error)
}

// StepExecutionStore is the workflow_step_executions write path.
type StepExecutionStore interface {
	LogStep(ctx context.Context, rec *StepExecutionRecord) error
	ListSteps(ctx context.Context, executionID string) ([]*StepExecutionRecord, error)
}

// TokenUsageStore is the token_usage write path (spec.md §6, billing/credits
// ledger remains out of scope — this only records the rows the external
// metering system reads, per spec.md §1 Non-goals).
type TokenUsageStore interface {
	Record(ctx context.Context, rec *TokenUsageRecord) error
	Total(ctx context.Context, executionID string) (core.TokenUsage, error)
}

const (
	idxExecutions = "index:executions"
)

// ProviderExecutionStore implements ExecutionStore/StepExecutionStore/
// TokenUsageStore over a single Provider (ground: gomind's
// executionStoreImpl wrapping StorageProvider in orchestration/
// execution_store.go).
type ProviderExecutionStore struct {
	p         Provider
	ttl       time.Duration
	keyPrefix string
}

// NewProviderExecutionStore wraps p with a TTL for execution/step rows and a
// key prefix for multi-tenant namespacing (ground: gomind's
// ExecutionStoreConfig.KeyPrefix/TTL).
func NewProviderExecutionStore(p Provider, ttl time.Duration, keyPrefix string) *ProviderExecutionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if keyPrefix == "" {
		keyPrefix = "exec"
	}
	return &ProviderExecutionStore{p: p, ttl: ttl, keyPrefix: keyPrefix}
}

func (s *ProviderExecutionStore) execKey(id string) string { return joinKey(s.keyPrefix, id) }

func (s *ProviderExecutionStore) Create(ctx context.Context, rec *ExecutionRecord) error {
	if err := s.put(ctx, rec); err != nil {
		return err
	}
	return s.p.AddToIndex(ctx, joinKey(s.keyPrefix, idxExecutions), scoreFromTime(rec.StartedAt), rec.ExecutionID)
}

func (s *ProviderExecutionStore) Update(ctx context.Context, rec *ExecutionRecord) error {
	return s.put(ctx, rec)
}

func (s *ProviderExecutionStore) put(ctx context.Context, rec *ExecutionRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return core.NewFrameworkError("store.ExecutionStore.put", "encode", err)
	}
	return s.p.Set(ctx, s.execKey(rec.ExecutionID), string(b), s.ttl)
}

func (s *ProviderExecutionStore) Get(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	v, ok, err := s.p.Get(ctx, s.execKey(executionID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.ErrNotFound
	}
	var rec ExecutionRecord
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return nil, core.NewFrameworkError("store.ExecutionStore.Get", "decode", err)
	}
	return &rec, nil
}

func (s *ProviderExecutionStore) ListRecent(ctx context.Context, limit int) ([]*ExecutionRecord, error) {
	ids, err := s.p.ListByScoreDesc(ctx, joinKey(s.keyPrefix, idxExecutions), 0, int64(limit))
	if err != nil {
		return nil, err
	}
	out := make([]*ExecutionRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *ProviderExecutionStore) stepKey(executionID, stepID string) string {
	return joinKey(s.keyPrefix, "step", executionID, stepID)
}

func (s *ProviderExecutionStore) stepIndexKey(executionID string) string {
	return joinKey(s.keyPrefix, "steps", executionID)
}

func (s *ProviderExecutionStore) LogStep(ctx context.Context, rec *StepExecutionRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return core.NewFrameworkError("store.StepExecutionStore.LogStep", "encode", err)
	}
	if err := s.p.Set(ctx, s.stepKey(rec.ExecutionID, rec.StepID), string(b), s.ttl); err != nil {
		return err
	}
	return s.p.AddToIndex(ctx, s.stepIndexKey(rec.ExecutionID), scoreFromTime(rec.StartedAt), rec.StepID)
}

func (s *ProviderExecutionStore) ListSteps(ctx context.Context, executionID string) ([]*StepExecutionRecord, error) {
	ids, err := s.p.ListByScoreDesc(ctx, s.stepIndexKey(executionID), 0, -1)
	if err != nil {
		return nil, err
	}
	out := make([]*StepExecutionRecord, 0, len(ids))
	for _, id := range ids {
		v, ok, err := s.p.Get(ctx, s.stepKey(executionID, id))
		if err != nil || !ok {
			continue
		}
		var rec StepExecutionRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

func (s *ProviderExecutionStore) tokenKey(executionID string) string {
	return joinKey(s.keyPrefix, "tokens", executionID)
}

// Record adds a token usage row's counts to the execution's running total,
// so Total() never re-sums a list. Only that total is stored: the row's
// StepID, Source and RecordedAt are not kept.
func (s *ProviderExecutionStore) Record(ctx context.Context, rec *TokenUsageRecord) error {
	total, err := s.Total(ctx, rec.ExecutionID)
	if err != nil {
		return err
	}
	total = total.Add(rec.Usage)
	b, err := json.Marshal(total)
	if err != nil {
		return core.NewFrameworkError("store.TokenUsageStore.Record", "encode", err)
	}
	return s.p.Set(ctx, s.tokenKey(rec.ExecutionID), string(b), s.ttl)
}

func (s *ProviderExecutionStore) Total(ctx context.Context, executionID string) (core.TokenUsage, error) {
	v, ok, err := s.p.Get(ctx, s.tokenKey(executionID))
	if err != nil {
		return core.TokenUsage{}, err
	}
	if !ok {
		return core.TokenUsage{}, nil
	}
	var total core.TokenUsage
	if err := json.Unmarshal([]byte(v), &total); err != nil {
		return core.TokenUsage{}, core.NewFrameworkError("store.TokenUsageStore.Total", "decode", err)
	}
	return total, nil
}

var (
	_ ExecutionStore     = (*ProviderExecutionStore)(nil)
	_ StepExecutionStore = (*ProviderExecutionStore)(nil)
	_ TokenUsageStore    = (*ProviderExecutionStore)(nil)
)
