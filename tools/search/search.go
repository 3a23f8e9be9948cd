// Package search provides the knowledge base search tool.
//
// The query is embedded, a hybrid query runs against the knowledge backend,
// and the chunks are returned to the model as citable blocks:
//
//	[12]: Employees accrue...
//	-----
package search

import (
	"context"
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/ragtools/pkg/citation"
	"github.com/effective-security/ragtools/pkg/embeddings"
	"github.com/effective-security/ragtools/pkg/knowledge"
	"github.com/effective-security/ragtools/pkg/schema"
	"github.com/effective-security/ragtools/tools"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/ragtools", "tools/search")

// ToolName is the name advertised to the model.
const ToolName = "search"

// Description is the tool description advertised to the model.
const Description = "Search the knowledge base. The knowledge base is in English, translate to and from English if " +
	"needed. Results are formatted as a source name first in square brackets, followed by the text " +
	"content, and a line with '-----' at the end of each result."

// Request represents the tool input.
type Request struct {
	Query string `json:"query" yaml:"query" jsonschema:"description=Search query" validate:"required"`
}

// Tool searches the knowledge base.
type Tool struct {
	embedder embeddings.Embedder
	backend  knowledge.Backend
	params   any
}

var _ tools.Tool[Request] = (*Tool)(nil)

// New returns the search tool bound to the embedder and the backend.
func New(embedder embeddings.Embedder, backend knowledge.Backend) (*Tool, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if backend == nil {
		return nil, errors.New("knowledge backend is required")
	}
	sc, err := schema.New(reflect.TypeOf(Request{}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create schema")
	}
	return &Tool{
		embedder: embedder,
		backend:  backend,
		params:   sc.Parameters,
	}, nil
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

// Run embeds the query and returns at most knowledge.MaxResults blocks
// in backend relevance order. Failures are returned to the caller.
func (t *Tool) Run(ctx context.Context, req *Request) (*tools.Result, error) {
	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "searching",
		"query", req.Query,
	)

	vec, err := t.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to embed query")
	}

	var (
		b     strings.Builder
		count int
	)
	for chunk, err := range t.backend.Search(ctx, knowledge.HybridQuery(vec)) {
		if err != nil {
			return nil, errors.WithMessage(err, "failed to search knowledge base")
		}
		citation.WriteBlock(&b, chunk.ID, chunk.Content)
		count++
		if count == knowledge.MaxResults {
			break
		}
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "search_results",
		"count", count,
	)
	return tools.NewResult(b.String(), tools.ToServer), nil
}
