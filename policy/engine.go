// Package policy evaluates run requests against an OPA policy before any
// paid resource is provisioned.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Input is the policy input for one run request.
type Input struct {
	InstructionLength    int         `json:"instruction_length"`
	MaxInstructionLength int         `json:"max_instruction_length"`
	AgentCount           int         `json:"agent_count"`
	MaxAgents            int         `json:"max_agents"`
	Agents               []AgentSpec `json:"agents"`
	Demo                 bool        `json:"demo"`
}

// AgentSpec mirrors one requested backend/model pair for the policy.
type AgentSpec struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.run_policy.deny"),
		rego.Module("run_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate returns the policy violations for a request. An empty slice means
// the request is allowed.
func (e *Engine) Evaluate(ctx context.Context, input Input) ([]string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}

	raw, ok := results[0].Expressions[0].Value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("policy returned unexpected type %T", results[0].Expressions[0].Value)
	}
	violations := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			violations = append(violations, s)
		}
	}
	return violations, nil
}

// DefaultPolicy is the default run policy content.
const DefaultPolicy = `
package run_policy

import rego.v1

allowed_backends := {"stagehand", "browser-use", "skyvern"}

deny contains "instruction is required" if {
	input.instruction_length == 0
}

deny contains msg if {
	input.instruction_length > input.max_instruction_length
	msg := sprintf("instruction is too long: maximum length is %d characters", [input.max_instruction_length])
}

deny contains msg if {
	input.agent_count > input.max_agents
	msg := sprintf("too many agents: maximum is %d", [input.max_agents])
}

deny contains "at least one agent is required" if {
	input.agent_count == 0
}

deny contains msg if {
	some a in input.agents
	not a.name in allowed_backends
	msg := sprintf("unsupported agent type: %s", [a.name])
}
`
