// Package grounding provides the tool the model uses to report the knowledge
// base sources it cited. The cited chunks are fetched by identifier and sent
// to the client for display.
//
// Citation tokens are untrusted: only tokens of the identifier charset that
// are decimal numbers reach the backend filter. Other tokens are dropped.
// Failures never propagate to the caller, they are reported in the
// payload's error field with empty sources.
package grounding

import (
	"context"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/ragtools/pkg/citation"
	"github.com/effective-security/ragtools/pkg/knowledge"
	"github.com/effective-security/ragtools/pkg/metricskey"
	"github.com/effective-security/ragtools/pkg/schema"
	"github.com/effective-security/ragtools/tools"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/ragtools", "tools/grounding")

// ToolName is the name advertised to the model.
const ToolName = "report_grounding"

// Description is the tool description advertised to the model.
const Description = "Report use of a source from the knowledge base as part of an answer (effectively, cite the source). Sources " +
	"appear in square brackets before each knowledge base passage. Always use this tool to cite sources when responding " +
	"with information from the knowledge base."

// DefaultIdentifierField is the integer identifier field of the index.
const DefaultIdentifierField = "id"

// failure reasons
const (
	reasonIdentifier = "identifier"
	reasonFilter     = "filter"
	reasonBackend    = "backend"
)

// Request represents the tool input.
type Request struct {
	Sources []string `json:"sources" yaml:"sources" jsonschema:"description=List of source names from last statement actually used\\, do not include the ones not used to formulate a response" validate:"required"`
}

// Source is a cited chunk.
type Source struct {
	ID      string `json:"id" yaml:"id"`
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`
}

// Response is the payload sent to the client.
type Response struct {
	Sources []Source `json:"sources" yaml:"sources"`
	Error   string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// Option configures the Tool.
type Option func(*Tool)

// WithIdentifierField sets the identifier field used in the filter.
func WithIdentifierField(field string) Option {
	return func(t *Tool) {
		t.field = field
	}
}

// Tool fetches cited chunks.
type Tool struct {
	backend knowledge.Backend
	field   string
	params  any
}

var _ tools.Tool[Request] = (*Tool)(nil)

// New returns the grounding tool bound to the backend.
func New(backend knowledge.Backend, opts ...Option) (*Tool, error) {
	if backend == nil {
		return nil, errors.New("knowledge backend is required")
	}
	sc, err := schema.New(reflect.TypeOf(Request{}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create schema")
	}

	t := &Tool{
		backend: backend,
		params:  sc.Parameters,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.field = values.StringsCoalesce(t.field, DefaultIdentifierField)

	if _, err = citation.Filter(t.field, []int64{0}); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tool) Name() string {
	return ToolName
}

func (t *Tool) Description() string {
	return Description
}

func (t *Tool) Parameters() any {
	return t.params
}

// Call implements tools.ITool.
func (t *Tool) Call(ctx context.Context, input string) (*tools.Result, error) {
	req, err := tools.DecodeArgs[Request](input)
	if err != nil {
		return nil, err
	}
	return t.Run(ctx, req)
}

// Run returns the cited chunks with direction TO_CLIENT.
// The returned error is always nil.
func (t *Tool) Run(ctx context.Context, req *Request) (*tools.Result, error) {
	return tools.NewResult(t.Ground(ctx, req.Sources), tools.ToClient), nil
}

// Ground validates the citation tokens and fetches the cited chunks
// in backend order.
func (t *Tool) Ground(ctx context.Context, tokens []string) *Response {
	sel, err := citation.Select(tokens)
	if err != nil {
		return t.fail(ctx, reasonIdentifier, err)
	}
	for reason, count := range sel.Dropped {
		metricskey.StatsGroundingTokensDropped.IncrCounter(float64(count), string(reason))
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "grounding",
		"ids", sel.IDs,
		"dropped", len(tokens)-len(sel.IDs),
	)

	res := &Response{Sources: []Source{}}
	if len(sel.IDs) == 0 {
		return res
	}

	filter, err := citation.Filter(t.field, sel.IDs)
	if err != nil {
		return t.fail(ctx, reasonFilter, err)
	}

	chunks, err := knowledge.Collect(t.backend.Search(ctx, knowledge.FilterQuery(filter)))
	if err != nil {
		return t.fail(ctx, reasonBackend, err)
	}
	for _, c := range chunks {
		res.Sources = append(res.Sources, Source{ID: c.ID, Title: c.Title, Content: c.Content})
	}
	return res
}

func (t *Tool) fail(ctx context.Context, reason string, err error) *Response {
	metricskey.StatsGroundingFailures.IncrCounter(1, reason)
	logger.ContextKV(ctx, xlog.ERROR,
		"reason", reason,
		"err", err.Error(),
	)
	return &Response{Sources: []Source{}, Error: err.Error()}
}
