// Package rag wires the knowledge base tools into a tool registry.
//
// Attach is called once at startup: it selects and warms up the
// credentials, builds the knowledge backend client and the embedder,
// and registers the `search` and `report_grounding` tools.
package rag

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/ragtools/pkg/config"
	"github.com/effective-security/ragtools/pkg/credentials"
	"github.com/effective-security/ragtools/pkg/embeddings"
	"github.com/effective-security/ragtools/pkg/knowledge"
	"github.com/effective-security/ragtools/tools"
	"github.com/effective-security/ragtools/tools/grounding"
	"github.com/effective-security/ragtools/tools/search"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/ragtools", "rag")

// NewBackend is a wrapper for knowledge.Open to allow for overriding the default implementation.
var NewBackend = func(ctx context.Context, cfg *config.Search, cred *credentials.Credential) (knowledge.Backend, error) {
	return knowledge.Open(ctx, cfg.Endpoint, cfg.Index, cred, &knowledge.ClientOptions{
		APIVersion:            cfg.APIVersion,
		Fields:                cfg.Fields,
		SemanticConfiguration: cfg.SemanticConfiguration,
	})
}

// Tools are the knowledge base tools sharing one backend client.
type Tools struct {
	Backend   knowledge.Backend
	Embedder  embeddings.Embedder
	Search    *search.Tool
	Grounding *grounding.Tool
}

// New builds the tools from the configuration.
// Token credentials are warmed up when the clients are opened.
func New(ctx context.Context, cfg *config.Config) (*Tools, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	searchCred, err := credentials.Load(cfg.Search.APIKey)
	if err != nil {
		return nil, err
	}

	backend, err := NewBackend(ctx, &cfg.Search, searchCred)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create knowledge backend")
	}

	embedCred, err := embeddingsCredential(ctx, &cfg.Embeddings, searchCred)
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewEmbedder(ctx, &cfg.Embeddings, embedCred)
	if err != nil {
		return nil, err
	}

	t, err := Build(embedder, backend, grounding.WithIdentifierField(cfg.Search.Fields.ID))
	if err != nil {
		return nil, err
	}

	logger.ContextKV(ctx, xlog.INFO,
		"status", "tools_created",
		"index", cfg.Search.Index,
		"static_key", searchCred.IsStatic(),
		"embeddings", cfg.Embeddings.Provider(),
	)
	return t, nil
}

// Build returns the tools bound to the embedder and the backend.
func Build(embedder embeddings.Embedder, backend knowledge.Backend, opts ...grounding.Option) (*Tools, error) {
	st, err := search.New(embedder, backend)
	if err != nil {
		return nil, err
	}
	gt, err := grounding.New(backend, opts...)
	if err != nil {
		return nil, err
	}
	return &Tools{
		Backend:   backend,
		Embedder:  embedder,
		Search:    st,
		Grounding: gt,
	}, nil
}

// Register adds the tools to the registry.
func (t *Tools) Register(reg *tools.Registry) error {
	return reg.Register(t.Search, t.Grounding)
}

// Attach builds the tools and registers them.
func Attach(ctx context.Context, reg *tools.Registry, cfg *config.Config) (*Tools, error) {
	t, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err = t.Register(reg); err != nil {
		return nil, err
	}
	return t, nil
}

// embeddingsCredential returns the credential for the Azure OpenAI
// providers without a configured key, nil otherwise.
func embeddingsCredential(ctx context.Context, cfg *embeddings.Config, searchCred *credentials.Credential) (*credentials.Credential, error) {
	provider := cfg.Provider()
	if provider != embeddings.ProviderAzure && provider != embeddings.ProviderAzureAD {
		return nil, nil
	}
	if cfg.Token != "" && provider == embeddings.ProviderAzure {
		return credentials.NewKey(cfg.Token), nil
	}

	cred := searchCred
	if cred.IsStatic() {
		var err error
		if cred, err = credentials.Load(""); err != nil {
			return nil, err
		}
	}
	if err := cred.Warmup(ctx, credentials.CognitiveScope); err != nil {
		return nil, err
	}
	return cred, nil
}
