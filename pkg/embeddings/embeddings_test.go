package embeddings_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/ragtools/pkg/credentials"
	"github.com/effective-security/ragtools/pkg/embeddings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openAIResponse = `{
	"object": "list",
	"data": [{"object": "embedding", "index": 0, "embedding": [0.25, -0.5, 1]}],
	"model": "text-embedding-ada-002",
	"usage": {"prompt_tokens": 3, "total_tokens": 3}
}`

func Test_Azure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/openai/deployments/embedding/embeddings", r.URL.Path)
		assert.Equal(t, "2024-02-15-preview", r.URL.Query().Get("api-version"))
		assert.Equal(t, "testkey", r.Header.Get("Api-Key"))

		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is covered", req["input"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(openAIResponse))
	}))
	defer server.Close()

	e, err := embeddings.Create(context.Background(), &embeddings.Config{
		BaseURL: server.URL,
		Model:   "embedding",
	}, credentials.NewKey("testkey"), embeddings.WithHTTPClient(server.Client()))
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "what is covered")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, -0.5, 1}, vec)
}

func Test_OpenAI(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"), r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, embeddings.DefaultOpenAIModel, req["model"])
		assert.Equal(t, float64(3), req["dimensions"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(openAIResponse))
	}))
	defer server.Close()

	e, err := embeddings.Create(context.Background(), &embeddings.Config{
		APIType:    "open_ai",
		BaseURL:    server.URL,
		Token:      "sk-test",
		Dimensions: 3,
	}, nil, embeddings.WithHTTPClient(server.Client()))
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
}

func Test_GoogleAI(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, embeddings.DefaultGoogleAIModel)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[{"values":[0.5,0.25]}]}`))
	}))
	defer server.Close()

	e, err := embeddings.Create(context.Background(), &embeddings.Config{
		APIType: "googleai",
		BaseURL: server.URL,
		Token:   "g-key",
	}, nil, embeddings.WithHTTPClient(server.Client()))
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)
}

func Test_Bedrock(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/model/amazon.titan-embed-text-v2:0/invoke", r.URL.Path)
		assert.Contains(t, r.Header.Get("Authorization"), "AKID")

		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "q", req["inputText"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding":[1,2,3],"inputTextTokenCount":1}`))
	}))
	defer server.Close()

	e, err := embeddings.Create(context.Background(), &embeddings.Config{
		APIType: "BEDROCK",
		BaseURL: server.URL,
		Token:   "AKID:SECRET",
		Region:  "us-west-2",
	}, nil, embeddings.WithHTTPClient(server.Client()))
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)
}

func Test_CreateErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, err := embeddings.Create(ctx, nil, nil)
	assert.EqualError(t, err, "embeddings config is required")

	_, err = embeddings.Create(ctx, &embeddings.Config{APIType: "CLOUDFLARE"}, nil)
	assert.EqualError(t, err, "unsupported provider type: CLOUDFLARE")

	_, err = embeddings.Create(ctx, &embeddings.Config{}, nil)
	assert.EqualError(t, err, "failed to create AZURE embedder: base_url is required")

	_, err = embeddings.Create(ctx, &embeddings.Config{BaseURL: "https://x.openai.azure.com"}, nil)
	assert.EqualError(t, err, "failed to create AZURE embedder: either token or credential is required")

	_, err = embeddings.Create(ctx, &embeddings.Config{APIType: "OPENAI"}, nil)
	assert.EqualError(t, err, "failed to create OPENAI embedder: token is required")

	_, err = embeddings.Create(ctx, &embeddings.Config{APIType: "BEDROCK", Token: "nosecret"}, nil)
	assert.EqualError(t, err, "failed to create BEDROCK embedder: token must be in ACCESS_KEY:SECRET_KEY format")
}

type embedFunc func(ctx context.Context, text string) ([]float32, error)

func (f embedFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

func Test_Instrument(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	e := embeddings.Instrument("TEST", embedFunc(func(context.Context, string) ([]float32, error) {
		return nil, nil
	}))
	assert.Same(t, e, embeddings.Instrument("TEST", e))

	_, err := e.Embed(ctx, "q")
	assert.True(t, errors.Is(err, embeddings.ErrEmptyResponse))

	e = embeddings.Instrument("TEST", embedFunc(func(context.Context, string) ([]float32, error) {
		return nil, errors.New("throttled")
	}))
	_, err = e.Embed(ctx, "q")
	assert.EqualError(t, err, "throttled")

	e = embeddings.Instrument("TEST", embedFunc(func(_ context.Context, text string) ([]float32, error) {
		return []float32{float32(len(text))}, nil
	}))
	vec, err := e.Embed(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []float32{0}, vec)
}

func TestConfig_Provider(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "AZURE", (&embeddings.Config{}).Provider())
	assert.Equal(t, "OPENAI", (&embeddings.Config{APIType: "open_ai"}).Provider())
	assert.Equal(t, "AZURE_AD", (&embeddings.Config{APIType: "azure_ad"}).Provider())
}
