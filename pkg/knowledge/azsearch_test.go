package knowledge_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/effective-security/ragtools/pkg/credentials"
	"github.com/effective-security/ragtools/pkg/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchBody struct {
	VectorQueries []struct {
		Kind   string    `json:"kind"`
		Vector []float32 `json:"vector"`
		K      int       `json:"k"`
		Fields string    `json:"fields"`
	} `json:"vectorQueries"`
	QueryType             string `json:"queryType"`
	SemanticConfiguration string `json:"semanticConfiguration"`
	Filter                string `json:"filter"`
	Select                string `json:"select"`
	Top                   *int   `json:"top"`
	Skip                  *int   `json:"skip"`
}

func newClient(t *testing.T, server *httptest.Server, opts *knowledge.ClientOptions) *knowledge.Client {
	t.Helper()
	if opts == nil {
		opts = &knowledge.ClientOptions{}
	}
	opts.Transport = server.Client()
	opts.Retry = policy.RetryOptions{MaxRetries: -1}

	c, err := knowledge.NewClient(server.URL, "gptkbindex", credentials.NewKey("testkey"), opts)
	require.NoError(t, err)
	return c
}

func TestClient_Hybrid(t *testing.T) {
	t.Parallel()

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/indexes/gptkbindex/docs/search", r.URL.Path)
		assert.Equal(t, "2024-07-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "testkey", r.Header.Get("api-key"))
		assert.Contains(t, r.Header.Get("User-Agent"), "RTMiddleTier")

		var body searchBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		require.Len(t, body.VectorQueries, 1)
		vq := body.VectorQueries[0]
		assert.Equal(t, "vector", vq.Kind)
		assert.Equal(t, 50, vq.K)
		assert.Equal(t, "content_vector", vq.Fields)
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, vq.Vector)
		assert.Equal(t, "semantic", body.QueryType)
		assert.Equal(t, "default", body.SemanticConfiguration)
		assert.Equal(t, "id,title,content", body.Select)
		require.NotNil(t, body.Top)
		assert.Equal(t, 5, *body.Top)
		assert.Empty(t, body.Filter)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[
			{"@search.score":0.9,"@search.rerankerScore":2.1,"id":12,"title":"Benefits","content":"Dental is covered."},
			{"id":"47","title":"Handbook","content":"PTO accrues monthly."}
		]}`))
	}))
	defer server.Close()

	c := newClient(t, server, &knowledge.ClientOptions{SemanticConfiguration: "default"})
	assert.Equal(t, knowledge.DefaultFields, c.Fields())

	list, err := knowledge.Collect(c.Search(context.Background(), knowledge.HybridQuery([]float32{0.1, 0.2, 0.3})))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, &knowledge.Chunk{ID: "12", Title: "Benefits", Content: "Dental is covered."}, list[0])
	assert.Equal(t, &knowledge.Chunk{ID: "47", Title: "Handbook", Content: "PTO accrues monthly."}, list[1])
}

func TestClient_FilterPaging(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body searchBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		assert.Empty(t, body.VectorQueries)
		assert.Empty(t, body.QueryType)
		assert.Nil(t, body.Top)
		assert.Equal(t, "chunk_id eq 12 or chunk_id eq 47", body.Filter)
		assert.Equal(t, "chunk_id,doc_title,chunk", body.Select)

		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			assert.Nil(t, body.Skip)
			_, _ = w.Write([]byte(`{
				"value":[{"chunk_id":12,"doc_title":"A","chunk":"first"}],
				"@search.nextPageParameters":{"filter":"chunk_id eq 12 or chunk_id eq 47","select":"chunk_id,doc_title,chunk","skip":1}
			}`))
			return
		}
		require.NotNil(t, body.Skip)
		assert.Equal(t, 1, *body.Skip)
		_, _ = w.Write([]byte(`{"value":[{"chunk_id":47,"doc_title":null,"chunk":"second"}]}`))
	}))
	defer server.Close()

	c := newClient(t, server, &knowledge.ClientOptions{
		Fields: knowledge.Fields{ID: "chunk_id", Title: "doc_title", Content: "chunk"},
	})
	assert.Equal(t, "content_vector", c.Fields().Vector)

	list, err := knowledge.Collect(c.Search(context.Background(), knowledge.FilterQuery("chunk_id eq 12 or chunk_id eq 47")))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "12", list[0].ID)
	assert.Equal(t, "47", list[1].ID)
	assert.Empty(t, list[1].Title)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_EarlyStop(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"value":[{"id":"1"},{"id":"2"}],
			"@search.nextPageParameters":{"filter":"id eq 1","skip":2}
		}`))
	}))
	defer server.Close()

	c := newClient(t, server, nil)
	count := 0
	for chunk, err := range c.Search(context.Background(), knowledge.FilterQuery("id eq 1")) {
		require.NoError(t, err)
		assert.Equal(t, "1", chunk.ID)
		count++
		break
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Errors(t *testing.T) {
	t.Parallel()

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"InvalidRequestParameter","message":"Invalid expression"}}`))
	}))
	defer server.Close()

	c := newClient(t, server, nil)
	_, err := knowledge.Collect(c.Search(context.Background(), knowledge.FilterQuery("id eq 1")))
	require.Error(t, err)
	var respErr *azcore.ResponseError
	require.ErrorAs(t, err, &respErr)
	assert.Equal(t, http.StatusBadRequest, respErr.StatusCode)
	assert.Equal(t, "InvalidRequestParameter", respErr.ErrorCode)

	_, err = knowledge.Collect(c.Search(context.Background(), knowledge.HybridQuery(nil)))
	assert.ErrorIs(t, err, knowledge.ErrEmptyVector)
}

func TestClient_BadDocument(t *testing.T) {
	t.Parallel()

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[{"title":"no id"}]}`))
	}))
	defer server.Close()

	c := newClient(t, server, nil)
	_, err := knowledge.Collect(c.Search(context.Background(), knowledge.FilterQuery("id eq 1")))
	assert.EqualError(t, err, "field id: missing identifier")
}

func TestNewClient(t *testing.T) {
	t.Parallel()

	cred := credentials.NewKey("k")
	_, err := knowledge.NewClient("", "idx", cred, nil)
	assert.EqualError(t, err, "search endpoint is required")
	_, err = knowledge.NewClient("https://x.search.windows.net", "", cred, nil)
	assert.EqualError(t, err, "search index is required")
	_, err = knowledge.NewClient("https://x.search.windows.net", "idx", nil, nil)
	assert.EqualError(t, err, "search credential is required")

	c, err := knowledge.Open(context.Background(), "https://x.search.windows.net/", "idx", cred, nil)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestQuery(t *testing.T) {
	t.Parallel()

	q := knowledge.HybridQuery([]float32{1})
	assert.Equal(t, "hybrid", q.Kind())
	assert.Equal(t, 50, q.Vector.K)
	assert.Equal(t, 5, q.Top)
	assert.True(t, q.Semantic)
	assert.NoError(t, q.Validate())

	q = knowledge.FilterQuery("id eq 1")
	assert.Equal(t, "filter", q.Kind())
	assert.NoError(t, q.Validate())

	assert.EqualError(t, (&knowledge.Query{}).Validate(), "query has neither a vector nor a filter")
	assert.EqualError(t, (&knowledge.Query{Filter: "x", Top: -1}).Validate(), "invalid top: -1")
}

func TestFromSlice(t *testing.T) {
	t.Parallel()

	chunks := []*knowledge.Chunk{{ID: "1"}, {ID: "2"}}
	list, err := knowledge.Collect(knowledge.FromSlice(chunks, nil))
	require.NoError(t, err)
	assert.Equal(t, chunks, list)

	_, err = knowledge.Collect(knowledge.FromSlice(chunks, assert.AnError))
	assert.Equal(t, assert.AnError, err)
}
