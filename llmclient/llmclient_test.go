package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AgentsPilot/neuronforge-sub000/executor"
)

func TestEchoClientDefaultResponse(t *testing.T) {
	client := NewEchoClient()
	resp, err := client.Run(context.Background(), executor.LLMRequest{Prompt: "hello world"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Contains(t, resp.Response, `"result":"ok"`)
	assert.Greater(t, resp.TokensUsed.Total, 0)
	assert.Equal(t, resp.TokensUsed.Prompt+resp.TokensUsed.Completion, resp.TokensUsed.Total)
}

func TestEchoClientCustomResponseFunc(t *testing.T) {
	client := NewEchoClient()
	client.Response = func(req executor.LLMRequest) string {
		return `{"summary":"custom"}`
	}
	resp, err := client.Run(context.Background(), executor.LLMRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"custom"}`, resp.Response)
}
