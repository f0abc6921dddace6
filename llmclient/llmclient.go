// Package llmclient declares the LLM execution surface the StepExecutor
// consumes (spec.md §6 "LLM client"). The real client — a network call to a
// hosted model provider — is an external collaborator out of scope for this
// repo; this package carries executor.LLMClient's concrete mock/stub
// implementations used in tests and local development.
package llmclient

import (
	"context"
	"fmt"

	"github.com/AgentsPilot/neuronforge-sub000/core"
	"github.com/AgentsPilot/neuronforge-sub000/executor"
)

// EchoClient is a deterministic LLMClient stub: it fabricates a token count
// of one token per four characters of prompt and response, and returns a
// canned response, useful
// for exercising the StepExecutor's prompt-building and response-shaping
// logic without a live model.
type EchoClient struct {
	Response func(req executor.LLMRequest) string
}

// NewEchoClient creates an EchoClient with a default response generator.
func NewEchoClient() *EchoClient {
	return &EchoClient{
		Response: func(req executor.LLMRequest) string {
			return fmt.Sprintf(`{"result":"ok","summary":"processed prompt of %d chars"}`, len(req.Prompt))
		},
	}
}

// Run implements executor.LLMClient.
func (c *EchoClient) Run(ctx context.Context, req executor.LLMRequest) (executor.LLMResponse, error) {
	resp := c.Response(req)
	prompt := len(req.Prompt) / 4
	completion := len(resp) / 4
	return executor.LLMResponse{
		Success:  true,
		Response: resp,
		TokensUsed: core.TokenUsage{
			Total:      prompt + completion,
			Prompt:     prompt,
			Completion: completion,
		},
	}, nil
}

var _ executor.LLMClient = (*EchoClient)(nil)
