package embeddings

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/ragtools/pkg/credentials"
	"github.com/effective-security/x/values"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"
)

type openAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
}

func newOpenAI(cfg *Config, o *options) (Embedder, error) {
	if cfg.Token == "" {
		return nil, errors.New("token is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.Token),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if o.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(o.httpClient))
	}
	return &openAIEmbedder{
		client:     openai.NewClient(opts...),
		model:      values.StringsCoalesce(cfg.Model, DefaultOpenAIModel),
		dimensions: cfg.Dimensions,
	}, nil
}

func newAzure(cfg *Config, cred *credentials.Credential, o *options) (Embedder, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base_url is required")
	}
	opts := []option.RequestOption{
		azure.WithEndpoint(strings.TrimSuffix(cfg.BaseURL, "/"), values.StringsCoalesce(cfg.APIVersion, DefaultAzureAPIVersion)),
	}

	switch {
	case cfg.Token != "" && !strings.EqualFold(cfg.APIType, ProviderAzureAD):
		opts = append(opts, azure.WithAPIKey(cfg.Token))
	case cred != nil && cred.Token() != nil:
		opts = append(opts, azure.WithTokenCredential(cred.Token()))
	case cred != nil && cred.IsStatic():
		opts = append(opts, azure.WithAPIKey(cred.APIKey()))
	default:
		return nil, errors.New("either token or credential is required")
	}

	if o.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(o.httpClient))
	}
	return &openAIEmbedder{
		client:     openai.NewClient(opts...),
		model:      values.StringsCoalesce(cfg.Model, DefaultAzureModel),
		dimensions: cfg.Dimensions,
	}, nil
}

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.model),
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	res, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create embedding")
	}
	if len(res.Data) == 0 {
		return nil, ErrEmptyResponse
	}

	src := res.Data[0].Embedding
	vec := make([]float32, len(src))
	for i, v := range src {
		vec[i] = float32(v)
	}
	return vec, nil
}
