package embeddings

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
)

const defaultBedrockRegion = "us-east-1"

type bedrockEmbedder struct {
	client     *bedrockruntime.Client
	model      string
	dimensions int
}

// titanInput is the request body of the Titan text embedding models.
type titanInput struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type titanOutput struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

func newBedrock(ctx context.Context, cfg *Config, o *options) (Embedder, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(values.StringsCoalesce(cfg.Region, defaultBedrockRegion)),
	}
	if cfg.Token != "" {
		key, secret, ok := strings.Cut(cfg.Token, ":")
		if !ok || key == "" || secret == "" {
			return nil, errors.New("token must be in ACCESS_KEY:SECRET_KEY format")
		}
		opts = append(opts, config.WithCredentialsProvider(
			awscreds.NewStaticCredentialsProvider(key, secret, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	client := bedrockruntime.NewFromConfig(awsCfg, func(bo *bedrockruntime.Options) {
		if cfg.BaseURL != "" {
			bo.BaseEndpoint = aws.String(cfg.BaseURL)
		}
		if o.httpClient != nil {
			bo.HTTPClient = o.httpClient
		}
	})

	return &bedrockEmbedder{
		client:     client,
		model:      values.StringsCoalesce(cfg.Model, DefaultBedrockModel),
		dimensions: cfg.Dimensions,
	}, nil
}

func (e *bedrockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(&titanInput{InputText: text, Dimensions: e.dimensions})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	resp, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.model),
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create embedding")
	}

	var out titanOutput
	if err = json.Unmarshal(resp.Body, &out); err != nil {
		return nil, errors.Wrap(err, "decode embedding response")
	}
	if len(out.Embedding) == 0 {
		return nil, ErrEmptyResponse
	}
	return out.Embedding, nil
}
