package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AgentsPilot/neuronforge-sub000/execctx"
	"github.com/AgentsPilot/neuronforge-sub000/schema"
)

// resultAliases are the keys downstream templates may use interchangeably
// to reference an LLM step's primary result (spec.md §4.5 "ai_processing /
// llm_decision dispatch").
var resultAliases = []string{"result", "response", "output", "summary", "analysis", "decision", "reasoning", "classification"}

const maxSchemaRetries = 2

// runLLMStep dispatches an ai_processing or llm_decision step: builds the
// prompt, calls the LLM client, validates against the declared output
// schema (retrying up to maxSchemaRetries on mismatch), and populates the
// alias/spread output shape.
func (e *Executor) runLLMStep(ctx context.Context, ec *execctx.ExecutionContext, step *schema.WorkflowStep, resolved map[string]interface{}) (interface{}, error) {
	hide := step.Kind == schema.KindAIProcessing || step.HidePlugins

	var lastResp LLMResponse
	var lastErr error
	prompt := e.buildLLMPrompt(ec, step, resolved)

	for attempt := 0; attempt <= maxSchemaRetries; attempt++ {
		if attempt > 0 {
			prompt = prompt + fmt.Sprintf("\n\n[retry %d/%d] Your previous response did not match the required output shape. Respond again, matching it exactly.", attempt, maxSchemaRetries)
		}
		resp, err := e.llmClient.Run(ctx, LLMRequest{
			UserID:      ec.UserID,
			AgentRef:    ec.AgentRef,
			SessionID:   ec.SessionID,
			Prompt:      prompt,
			HidePlugins: hide,
		})
		if err != nil {
			return nil, wrapExecErr(step.ID, CodeLLMDecisionFailed, err)
		}
		if !resp.Success {
			lastErr = newExecErr(step.ID, CodeLLMDecisionFailed, "llm client returned failure: %s", resp.Error)
			lastResp = resp
			continue
		}
		ec.AddTokens(resp.TokensUsed)

		if step.OutputSchema != nil {
			if ok := validateAgainstSchema(resp.Response, step.OutputSchema); !ok {
				lastResp = resp
				lastErr = newExecErr(step.ID, CodeLLMDecisionFailed, "response did not match declared output_schema")
				continue
			}
		}
		return e.shapeLLMOutput(step, resp), nil
	}
	if lastErr != nil {
		// Surface the best-effort shaped output from the final attempt rather
		// than dropping the LLM's answer entirely on a schema mismatch.
		if lastResp.Success {
			return e.shapeLLMOutput(step, lastResp), nil
		}
		return nil, lastErr
	}
	return nil, newExecErr(step.ID, CodeLLMDecisionFailed, "llm dispatch exhausted retries with no response")
}

// buildLLMPrompt assembles the step's prompt/description/name, a context
// summary of prior steps, and the resolved parameters as JSON.
func (e *Executor) buildLLMPrompt(ec *execctx.ExecutionContext, step *schema.WorkflowStep, resolved map[string]interface{}) string {
	var b strings.Builder
	if step.Prompt != "" {
		b.WriteString(ec.RenderSimple(step.Prompt))
	} else if step.Description != "" {
		b.WriteString(ec.RenderSimple(step.Description))
	} else {
		fmt.Fprintf(&b, "Execute step %q (%s).", step.Name, step.Kind)
	}

	if summary := contextSummary(ec); summary != "" {
		b.WriteString("\n\nPrior step context:\n")
		b.WriteString(summary)
	}
	if len(resolved) > 0 {
		if paramsJSON, err := json.Marshal(resolved); err == nil {
			b.WriteString("\n\nResolved parameters:\n")
			b.Write(paramsJSON)
		}
	}
	if step.OutputSchema != nil {
		if schemaJSON, err := json.Marshal(step.OutputSchema); err == nil {
			b.WriteString("\n\nRespond with JSON matching this schema:\n")
			b.Write(schemaJSON)
		}
	}
	return b.String()
}

// contextSummary renders a compact line per prior step: plugin/action, item
// count, and success, giving the LLM situational awareness without
// replaying full payloads.
func contextSummary(ec *execctx.ExecutionContext) string {
	var b strings.Builder
	for _, out := range ec.GetAllStepOutputs() {
		fmt.Fprintf(&b, "- %s (%s.%s): success=%v itemCount=%d\n",
			out.StepID, out.Plugin, out.Action, out.Metadata.Success, out.Metadata.ItemCount)
	}
	return b.String()
}

// shapeLLMOutput builds the alias/spread output data: every resultAliases
// key points at the raw response text; if the response parses as a JSON
// object, its top-level keys are spread in and, for each declared output
// key, the parsed value (or its "result" wrapper) is mapped onto that key.
func (e *Executor) shapeLLMOutput(step *schema.WorkflowStep, resp LLMResponse) map[string]interface{} {
	text := resp.Response
	if isSummaryLike(step) {
		text = stripNarrative(text)
	}

	data := make(map[string]interface{}, len(resultAliases)+4)
	for _, alias := range resultAliases {
		data[alias] = text
	}

	if parsed, ok := parseJSONObject(text); ok {
		for k, v := range parsed {
			data[k] = v
		}
		for declared := range step.Outputs {
			if schema.IsRoutingKey(declared) {
				continue
			}
			if v, has := parsed[declared]; has {
				data[declared] = v
			} else if v, has := parsed["result"]; has {
				data[declared] = v
			}
		}
	}
	return data
}

func isSummaryLike(step *schema.WorkflowStep) bool {
	s := strings.ToLower(step.Name + " " + step.Description + " " + step.Prompt)
	return strings.Contains(s, "summar")
}

func parseJSONObject(text string) (map[string]interface{}, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
		return nil, false
	}
	return m, true
}

// narrativeLinePrefixes are conservative meta-commentary line openers an LLM
// sometimes prepends/appends to a summarization answer.
var narrativeLinePrefixes = []string{
	"here is", "here's", "sure,", "certainly,", "i have summarized", "summary:",
}

// stripNarrative drops leading/trailing lines that look like meta-commentary
// rather than content. It is conservative: if the cleaned text drops more
// than a third of the original length, the cleaning is reverted.
func stripNarrative(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	start, end := 0, len(lines)
	for start < end && isNarrativeLine(lines[start]) {
		start++
	}
	for end > start && (strings.TrimSpace(lines[end-1]) == "" || isNarrativeLine(lines[end-1])) {
		end--
	}
	cleaned := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
	if len(cleaned) == 0 || len(text)-len(cleaned) > len(text)/3 {
		return text
	}
	return cleaned
}

func isNarrativeLine(line string) bool {
	l := strings.ToLower(strings.TrimSpace(line))
	if l == "" {
		return false
	}
	for _, prefix := range narrativeLinePrefixes {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

// validateAgainstSchema does a light structural check: when outputSchema
// declares required top-level keys (a JSON-schema-like
// {"required": [...]}), verify the response parses as a JSON object
// containing them. Anything else (a bare pattern-name string, or no
// recognizable shape) is accepted without any check.
func validateAgainstSchema(response string, outputSchema interface{}) bool {
	spec, ok := outputSchema.(map[string]interface{})
	if !ok {
		return true
	}
	requiredRaw, ok := spec["required"].([]interface{})
	if !ok || len(requiredRaw) == 0 {
		return true
	}
	parsed, ok := parseJSONObject(response)
	if !ok {
		return false
	}
	for _, r := range requiredRaw {
		key, ok := r.(string)
		if !ok {
			continue
		}
		if _, has := parsed[key]; !has {
			return false
		}
	}
	return true
}
