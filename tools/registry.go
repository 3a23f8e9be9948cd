package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/ragtools/pkg/metricskey"
	"github.com/effective-security/xlog"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/ragtools", "tools")

// Definition is the function-calling description of a registered tool,
// as sent to the realtime session.
type Definition struct {
	Type        string `json:"type" yaml:"type"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Parameters  any    `json:"parameters" yaml:"parameters"`
}

type registered struct {
	tool   ITool
	schema *jsonschema.Schema
}

// Registry maps tool names to tools. Tools are registered once at startup
// and shared read-only by concurrent invocations.
type Registry struct {
	lock     sync.RWMutex
	byName   map[string]*registered
	names    []string
	callback Callback
}

// RegistryOption configures the Registry.
type RegistryOption func(*Registry)

// WithCallback sets the tool lifecycle callback.
func WithCallback(cb Callback) RegistryOption {
	return func(r *Registry) {
		r.callback = cb
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byName: make(map[string]*registered),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds tools to the registry, the parameters schema of each tool
// is compiled for argument validation.
func (r *Registry) Register(list ...ITool) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	for _, tool := range list {
		name := tool.Name()
		if name == "" {
			return errors.New("tool name is empty")
		}
		if _, ok := r.byName[name]; ok {
			return errors.Errorf("tool already registered: %s", name)
		}

		sch, err := compileSchema(name, tool.Parameters())
		if err != nil {
			return err
		}

		r.byName[name] = &registered{tool: tool, schema: sch}
		r.names = append(r.names, name)

		logger.KV(xlog.DEBUG,
			"status", "tool_registered",
			"tool", name,
		)
	}
	return nil
}

// Get returns the tool registered under the name.
func (r *Registry) Get(name string) (ITool, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	reg, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return reg.tool, true
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return append([]string(nil), r.names...)
}

// Definitions returns the function definitions in registration order.
func (r *Registry) Definitions() []Definition {
	r.lock.RLock()
	defer r.lock.RUnlock()

	defs := make([]Definition, 0, len(r.names))
	for _, name := range r.names {
		tool := r.byName[name].tool
		defs = append(defs, Definition{
			Type:        "function",
			Name:        name,
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}
	return defs
}

// Invoke validates the arguments against the tool schema and calls the tool.
// Cancellation of ctx abandons the in-flight call.
func (r *Registry) Invoke(ctx context.Context, name, args string) (*Result, error) {
	r.lock.RLock()
	reg, ok := r.byName[name]
	r.lock.RUnlock()

	if !ok {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, name)
		if r.callback != nil {
			r.callback.OnToolNotFound(ctx, name)
		}
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "tool_not_found",
			"tool", name,
			"available_tools", strings.Join(r.Names(), ", "),
		)
		return nil, errors.Wrapf(ErrToolNotFound, "%s", name)
	}

	tool := reg.tool
	if r.callback != nil {
		r.callback.OnToolStart(ctx, tool, args)
	}

	if err := validateArgs(reg.schema, args); err != nil {
		metricskey.StatsToolCallsInvalidArgs.IncrCounter(1, name)
		if r.callback != nil {
			r.callback.OnToolError(ctx, tool, args, err)
		}
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "invalid_arguments",
			"tool", name,
			"err", err.Error(),
		)
		return nil, err
	}

	started := time.Now()
	res, err := tool.Call(ctx, args)
	metricskey.PerfToolCall.MeasureSince(started, name)

	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, name)
		if r.callback != nil {
			r.callback.OnToolError(ctx, tool, args, err)
		}
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "tool_call_failed",
			"tool", name,
			"err", err.Error(),
		)
		return nil, errors.WithMessagef(err, "failed to call tool %s", name)
	}
	metricskey.StatsToolCallsSucceeded.IncrCounter(1, name)

	if r.callback != nil {
		r.callback.OnToolEnd(ctx, tool, args, res)
	}
	return res, nil
}

func compileSchema(name string, params any) (*jsonschema.Schema, error) {
	js, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal parameters of %s", name)
	}

	url := "mem://tools/" + name + ".json"
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err = c.AddResource(url, bytes.NewReader(js)); err != nil {
		return nil, errors.Wrapf(err, "invalid parameters schema of %s", name)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid parameters schema of %s", name)
	}
	return sch, nil
}

func validateArgs(sch *jsonschema.Schema, args string) error {
	dec := json.NewDecoder(bytes.NewReader(CleanJSON([]byte(args))))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return errors.WithStack(ErrFailedUnmarshalInput)
	}
	if err := sch.Validate(v); err != nil {
		return errors.Mark(errors.Wrap(err, "arguments do not match the schema"), ErrInvalidArguments)
	}
	return nil
}
