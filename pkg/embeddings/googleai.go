package embeddings

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
	"google.golang.org/genai"
)

type googleAIEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
}

func newGoogleAI(ctx context.Context, cfg *Config, o *options) (Embedder, error) {
	gcfg := &genai.ClientConfig{
		APIKey:     cfg.Token,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: o.httpClient,
	}
	if cfg.BaseURL != "" {
		gcfg.HTTPOptions.BaseURL = cfg.BaseURL
	}
	if cfg.APIVersion != "" {
		gcfg.HTTPOptions.APIVersion = cfg.APIVersion
	}

	client, err := genai.NewClient(ctx, gcfg)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &googleAIEmbedder{
		client:     client,
		model:      values.StringsCoalesce(cfg.Model, DefaultGoogleAIModel),
		dimensions: cfg.Dimensions,
	}, nil
}

func (e *googleAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var ecfg *genai.EmbedContentConfig
	if e.dimensions > 0 {
		dims := int32(e.dimensions)
		ecfg = &genai.EmbedContentConfig{OutputDimensionality: &dims}
	}

	res, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), ecfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create embedding")
	}
	if res == nil || len(res.Embeddings) == 0 || res.Embeddings[0] == nil {
		return nil, ErrEmptyResponse
	}
	return res.Embeddings[0].Values, nil
}
