// Package embeddings converts query text to vectors for the knowledge backend.
//
// The provider is selected by Config.APIType:
// OPENAI|AZURE|AZURE_AD|GOOGLEAI|BEDROCK
package embeddings

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/ragtools/pkg/credentials"
	"github.com/effective-security/ragtools/pkg/metricskey"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/ragtools", "embeddings")

//go:generate mockgen -source=embeddings.go -destination=../../mocks/mockembeddings/embeddings_mock.gen.go -package mockembeddings

// Provider types.
const (
	ProviderOpenAI   = "OPENAI"
	ProviderAzure    = "AZURE"
	ProviderAzureAD  = "AZURE_AD"
	ProviderGoogleAI = "GOOGLEAI"
	ProviderBedrock  = "BEDROCK"
)

// Default models per provider.
const (
	DefaultAzureModel    = "text-embedding-ada-002"
	DefaultOpenAIModel   = "text-embedding-3-small"
	DefaultGoogleAIModel = "text-embedding-004"
	DefaultBedrockModel  = "amazon.titan-embed-text-v2:0"

	DefaultAzureAPIVersion = "2024-02-15-preview"
)

// ErrEmptyResponse is returned when the service returns no embedding.
var ErrEmptyResponse = errors.New("empty embedding response")

// Embedder produces the embedding vector of a text.
type Embedder interface {
	// Embed returns the vector of the text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config of the embedding service.
type Config struct {
	// APIType specifies the provider:
	// OPENAI|AZURE|AZURE_AD|GOOGLEAI|BEDROCK
	APIType string `json:"api_type,omitempty" yaml:"api_type,omitempty"`
	// BaseURL is the service endpoint, required for AZURE.
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIVersion string `json:"api_version,omitempty" yaml:"api_version,omitempty"`
	// Token is the API key. For BEDROCK it is ACCESS_KEY:SECRET_KEY.
	// When empty, AZURE falls back to the token credential.
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
	// Model is the model name, or the deployment name for AZURE.
	Model      string `json:"model,omitempty" yaml:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty" yaml:"dimensions,omitempty" validate:"gte=0"`
	// Region for BEDROCK.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`
}

// Provider returns the normalized provider type.
func (c *Config) Provider() string {
	p := strings.ToUpper(values.StringsCoalesce(c.APIType, ProviderAzure))
	if p == "OPEN_AI" {
		p = ProviderOpenAI
	}
	return p
}

// Option configures the provider clients.
type Option func(*options)

type options struct {
	httpClient *http.Client
}

// WithHTTPClient sets the HTTP client used by the provider SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// NewEmbedder is a wrapper for Create to allow for overriding the default implementation.
var NewEmbedder = Create

// Create returns an instrumented embedder for the configured provider.
// cred is used by AZURE and AZURE_AD when no API key is configured.
func Create(ctx context.Context, cfg *Config, cred *credentials.Credential, opts ...Option) (Embedder, error) {
	if cfg == nil {
		return nil, errors.New("embeddings config is required")
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	var (
		e   Embedder
		err error
	)
	provider := cfg.Provider()
	switch provider {
	case ProviderOpenAI:
		e, err = newOpenAI(cfg, o)
	case ProviderAzure, ProviderAzureAD:
		e, err = newAzure(cfg, cred, o)
	case ProviderGoogleAI:
		e, err = newGoogleAI(ctx, cfg, o)
	case ProviderBedrock:
		e, err = newBedrock(ctx, cfg, o)
	default:
		return nil, errors.Errorf("unsupported provider type: %s", provider)
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create %s embedder", provider)
	}

	logger.KV(xlog.DEBUG,
		"status", "created_embedder",
		"type", provider,
		"version", cfg.APIVersion,
		"model", cfg.Model,
	)
	return Instrument(provider, e), nil
}

// Instrument wraps the embedder with metrics.
func Instrument(provider string, e Embedder) Embedder {
	if _, ok := e.(*instrumented); ok {
		return e
	}
	return &instrumented{Embedder: e, provider: provider}
}

type instrumented struct {
	Embedder
	provider string
}

func (i *instrumented) Embed(ctx context.Context, text string) ([]float32, error) {
	started := time.Now()
	vec, err := i.Embedder.Embed(ctx, text)
	if err == nil && len(vec) == 0 {
		err = ErrEmptyResponse
	}
	if err != nil {
		metricskey.StatsEmbeddingsFailed.IncrCounter(1, i.provider)
		logger.ContextKV(ctx, xlog.WARNING,
			"provider", i.provider,
			"err", err.Error(),
		)
		return nil, err
	}
	metricskey.PerfEmbedding.MeasureSince(started, i.provider)
	return vec, nil
}
