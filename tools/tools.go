package tools

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

//go:generate mockgen -source=tools.go -destination=../mocks/mocktools/tools_mock.gen.go -package mocktools

// ITool is a tool the realtime model can invoke by name.
type ITool interface {
	// Name returns the name of the Tool, as advertised to the model.
	Name() string
	// Description returns the description of the tool, to be used in the prompt.
	// Should not exceed LLM model limit.
	Description() string
	// Parameters returns the parameters definition of the function, to be used in the prompt.
	Parameters() any

	// Call executes the tool with the given JSON arguments and returns the routed result.
	// If the tool fails to parse the input, it should return ErrFailedUnmarshalInput error.
	Call(context.Context, string) (*Result, error)
}

// Tool is an ITool with a typed argument record.
type Tool[I any] interface {
	ITool
	Run(context.Context, *I) (*Result, error)
}

// Callback observes the tool invocation lifecycle.
type Callback interface {
	OnToolStart(ctx context.Context, tool ITool, input string)
	OnToolEnd(ctx context.Context, tool ITool, input string, result *Result)
	OnToolError(ctx context.Context, tool ITool, input string, err error)
	OnToolNotFound(ctx context.Context, name string)
}

// Direction tells the orchestrator where a tool result goes.
type Direction int

const (
	// ToServer results are fed back into the model's own context.
	ToServer Direction = iota + 1
	// ToClient results are surfaced to the external client, e.g. a UI.
	ToClient
)

func (d Direction) String() string {
	switch d {
	case ToServer:
		return "TO_SERVER"
	case ToClient:
		return "TO_CLIENT"
	}
	return "UNKNOWN"
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	switch d {
	case ToServer, ToClient:
		return []byte(d.String()), nil
	}
	return nil, errors.Errorf("invalid direction: %d", int(d))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "TO_SERVER":
		*d = ToServer
	case "TO_CLIENT":
		*d = ToClient
	default:
		return errors.Errorf("invalid direction: %q", string(text))
	}
	return nil
}

// Result is the payload of a single tool invocation with its routing
// direction. It is created per invocation and not modified afterwards.
type Result struct {
	payload   any
	direction Direction
}

// NewResult returns a result with a string or structured payload.
func NewResult(payload any, direction Direction) *Result {
	return &Result{payload: payload, direction: direction}
}

// Payload returns the string or structured payload.
func (r *Result) Payload() any {
	return r.payload
}

// Direction returns the routing direction.
func (r *Result) Direction() Direction {
	return r.direction
}

// String returns the payload as text: string payloads as is,
// structured payloads as JSON.
func (r *Result) String() string {
	switch v := r.payload.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case json.RawMessage:
		return string(v)
	}
	bs, err := json.Marshal(r.payload)
	if err != nil {
		return ""
	}
	return string(bs)
}

// MarshalJSON renders the result as {"payload": ..., "direction": ...}.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Payload   any       `json:"payload"`
		Direction Direction `json:"direction"`
	}{r.payload, r.direction})
}
