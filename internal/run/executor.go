package run

import (
	"context"
	"encoding/json"
)

// Executor performs a tool's actual work. The engine treats it as
// opaque: metering is decided and recorded strictly before execution, so
// a slow or failing tool cannot corrupt quota state.
type Executor interface {
	Execute(ctx context.Context, toolSlug string, input json.RawMessage) (json.RawMessage, error)
}

// EchoExecutor is the development stub: it returns the input unchanged.
type EchoExecutor struct{}

// Execute echoes the validated input back.
func (EchoExecutor) Execute(_ context.Context, toolSlug string, input json.RawMessage) (json.RawMessage, error) {
	out := map[string]json.RawMessage{"tool": json.RawMessage(`"` + toolSlug + `"`)}
	if len(input) > 0 {
		out["echo"] = input
	}
	return json.Marshal(out)
}
