package main

import (
	"context"

	"github.com/agentd/agentd/internal/permission"
	"github.com/agentd/agentd/internal/toolpipeline"
)

// echoTool is the one concrete tool this entrypoint wires up. Concrete
// tool implementations are explicitly out of scope for the core (spec
// §1); this exists only so the demo loop has something to call through
// the full permission/hook/retry pipeline.
type echoTool struct{}

func (echoTool) Spec() toolpipeline.ToolSpec {
	return toolpipeline.ToolSpec{
		Name:        "echo",
		Description: "Echoes its input argument back as output.",
		Parameters: []byte(`{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`),
		PermissionLevel: permission.LevelReadOnly,
	}
}

func (echoTool) Call(ctx context.Context, argumentsJSON []byte) (string, error) {
	return string(argumentsJSON), nil
}
