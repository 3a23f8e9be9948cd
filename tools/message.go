package tools

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/tidwall/sjson"
)

// Realtime event types produced for routed results.
const (
	EventConversationItemCreate = "conversation.item.create"
	EventToolResponse           = "extension.middle_tier_tool_response"
	ItemFunctionCallOutput      = "function_call_output"
)

// Call is a function call emitted by the realtime model.
type Call struct {
	// CallID identifies the call, the output is correlated by it.
	CallID string `json:"call_id"`
	// Name is the tool name.
	Name string `json:"name"`
	// Arguments is the JSON text of the arguments.
	Arguments string `json:"arguments"`
	// PreviousItemID is the conversation item the call belongs to.
	PreviousItemID string `json:"previous_item_id,omitempty"`
}

// Routed holds the events to forward for one result.
type Routed struct {
	// Server is the event sent back to the model.
	Server []byte
	// Client is the event for the external client, nil for TO_SERVER results.
	Client []byte
}

// Route converts a result into realtime events.
// A TO_SERVER result becomes the function call output.
// A TO_CLIENT result is delivered to the client as a middle tier tool
// response, and the model receives an empty output to close its call.
func Route(call *Call, res *Result) (*Routed, error) {
	callID := call.CallID
	if callID == "" {
		callID = "call_" + uuid.NewString()
	}

	switch res.Direction() {
	case ToServer:
		server, err := functionCallOutput(callID, res.String())
		if err != nil {
			return nil, err
		}
		return &Routed{Server: server}, nil
	case ToClient:
		server, err := functionCallOutput(callID, "")
		if err != nil {
			return nil, err
		}
		client, err := toolResponse(call, res.String())
		if err != nil {
			return nil, err
		}
		return &Routed{Server: server, Client: client}, nil
	}
	return nil, errors.Errorf("unsupported result direction: %s", res.Direction())
}

// Handle invokes the tool named by the call and routes its result.
func (r *Registry) Handle(ctx context.Context, call *Call) (*Routed, error) {
	res, err := r.Invoke(ctx, call.Name, call.Arguments)
	if err != nil {
		return nil, err
	}
	return Route(call, res)
}

func functionCallOutput(callID, output string) ([]byte, error) {
	ev := []byte(`{}`)
	var err error
	for _, kv := range []struct {
		path  string
		value string
	}{
		{"type", EventConversationItemCreate},
		{"item.type", ItemFunctionCallOutput},
		{"item.call_id", callID},
		{"item.output", output},
	} {
		if ev, err = sjson.SetBytes(ev, kv.path, kv.value); err != nil {
			return nil, errors.Wrap(err, "failed to build function call output")
		}
	}
	return ev, nil
}

func toolResponse(call *Call, result string) ([]byte, error) {
	ev := []byte(`{}`)
	var err error
	for _, kv := range []struct {
		path  string
		value string
	}{
		{"type", EventToolResponse},
		{"previous_item_id", call.PreviousItemID},
		{"tool_name", call.Name},
		{"tool_result", result},
	} {
		if ev, err = sjson.SetBytes(ev, kv.path, kv.value); err != nil {
			return nil, errors.Wrap(err, "failed to build tool response")
		}
	}
	return ev, nil
}
