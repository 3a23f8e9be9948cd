package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/ragtools/pkg/credentials"
	"github.com/effective-security/ragtools/pkg/metricskey"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/ragtools", "knowledge")

const (
	moduleName    = "ragtools/knowledge"
	moduleVersion = "v1.0.0"

	// DefaultAPIVersion of the search REST API.
	DefaultAPIVersion = "2024-07-01"
	// DefaultUserAgent is reported as the telemetry application ID.
	DefaultUserAgent = "RTMiddleTier"
	// apiKeyHeader carries static keys.
	apiKeyHeader = "api-key"
)

// Fields maps the chunk attributes to index fields.
type Fields struct {
	ID      string `json:"id,omitempty" yaml:"id,omitempty"`
	Title   string `json:"title,omitempty" yaml:"title,omitempty"`
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
	Vector  string `json:"vector,omitempty" yaml:"vector,omitempty"`
}

// DefaultFields are used for empty field names.
var DefaultFields = Fields{
	ID:      "id",
	Title:   "title",
	Content: "content",
	Vector:  "content_vector",
}

// WithDefaults returns a copy with empty names replaced by defaults.
func (f Fields) WithDefaults() Fields {
	return Fields{
		ID:      values.StringsCoalesce(f.ID, DefaultFields.ID),
		Title:   values.StringsCoalesce(f.Title, DefaultFields.Title),
		Content: values.StringsCoalesce(f.Content, DefaultFields.Content),
		Vector:  values.StringsCoalesce(f.Vector, DefaultFields.Vector),
	}
}

func (f Fields) selectList() string {
	return f.ID + "," + f.Title + "," + f.Content
}

// ClientOptions contains optional settings for Client.
type ClientOptions struct {
	azcore.ClientOptions

	// APIVersion of the REST API, DefaultAPIVersion if empty.
	APIVersion string
	// Fields of the index.
	Fields Fields
	// SemanticConfiguration names the semantic ranker configuration,
	// the index default is used when empty.
	SemanticConfiguration string
	// InsecureAllowCredentialWithHTTP allows credentials over plain HTTP,
	// for local emulators only.
	InsecureAllowCredentialWithHTTP bool
}

// Client queries a search index over the REST API.
// The client is immutable and safe for concurrent use.
type Client struct {
	endpoint       string
	index          string
	apiVersion     string
	fields         Fields
	semanticConfig string
	pl             runtime.Pipeline
}

var _ Backend = (*Client)(nil)

// NewClient returns a client bound to the index.
func NewClient(endpoint, index string, cred *credentials.Credential, options *ClientOptions) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("search endpoint is required")
	}
	if index == "" {
		return nil, errors.New("search index is required")
	}
	if cred == nil {
		return nil, errors.New("search credential is required")
	}
	if options == nil {
		options = &ClientOptions{}
	}

	var auth policy.Policy
	if cred.IsStatic() {
		auth = runtime.NewKeyCredentialPolicy(cred.Key(), apiKeyHeader, &runtime.KeyCredentialPolicyOptions{
			InsecureAllowCredentialWithHTTP: options.InsecureAllowCredentialWithHTTP,
		})
	} else {
		auth = runtime.NewBearerTokenPolicy(cred.Token(), []string{credentials.SearchScope}, &policy.BearerTokenOptions{
			InsecureAllowCredentialWithHTTP: options.InsecureAllowCredentialWithHTTP,
		})
	}

	copts := options.ClientOptions
	copts.Telemetry.ApplicationID = values.StringsCoalesce(copts.Telemetry.ApplicationID, DefaultUserAgent)

	c := &Client{
		endpoint:       strings.TrimSuffix(endpoint, "/"),
		index:          index,
		apiVersion:     values.StringsCoalesce(options.APIVersion, DefaultAPIVersion),
		fields:         options.Fields.WithDefaults(),
		semanticConfig: options.SemanticConfiguration,
		pl: runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{
			PerRetry: []policy.Policy{auth},
		}, &copts),
	}
	return c, nil
}

// Open warms up the credential and returns the ready to use client.
// It is meant to be called once during startup.
func Open(ctx context.Context, endpoint, index string, cred *credentials.Credential, options *ClientOptions) (*Client, error) {
	if cred == nil {
		return nil, errors.New("search credential is required")
	}
	if err := cred.Warmup(ctx, credentials.SearchScope); err != nil {
		return nil, err
	}
	return NewClient(endpoint, index, cred, options)
}

// Fields returns the index field mapping.
func (c *Client) Fields() Fields {
	return c.fields
}

// Search implements Backend.
func (c *Client) Search(ctx context.Context, q *Query) iter.Seq2[*Chunk, error] {
	return func(yield func(*Chunk, error) bool) {
		if err := q.Validate(); err != nil {
			yield(nil, err)
			return
		}

		kind := q.Kind()
		pager := c.newPager(c.buildRequest(q), kind)
		count := 0
		defer func() {
			metricskey.StatsKnowledgeChunks.IncrCounter(float64(count), kind)
		}()

		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				metricskey.StatsKnowledgeQueriesFailed.IncrCounter(1, kind)
				yield(nil, err)
				return
			}
			for _, doc := range page.Value {
				chunk, err := c.fields.decode(doc)
				if err != nil {
					yield(nil, err)
					return
				}
				count++
				if !yield(chunk, nil) {
					return
				}
			}
		}
	}
}

type vectorQuery struct {
	Kind   string    `json:"kind"`
	Vector []float32 `json:"vector"`
	K      int       `json:"k"`
	Fields string    `json:"fields"`
}

type searchRequest struct {
	Search                *string       `json:"search,omitempty"`
	VectorQueries         []vectorQuery `json:"vectorQueries,omitempty"`
	QueryType             string        `json:"queryType,omitempty"`
	SemanticConfiguration string        `json:"semanticConfiguration,omitempty"`
	Filter                string        `json:"filter,omitempty"`
	Select                string        `json:"select,omitempty"`
	Top                   *int          `json:"top,omitempty"`
	Skip                  *int          `json:"skip,omitempty"`
}

type searchResponse struct {
	Value              []map[string]json.RawMessage `json:"value"`
	NextPageParameters *searchRequest                `json:"@search.nextPageParameters,omitempty"`
}

func (c *Client) buildRequest(q *Query) *searchRequest {
	req := &searchRequest{
		Filter: q.Filter,
		Select: c.fields.selectList(),
	}
	if q.Vector != nil {
		req.VectorQueries = []vectorQuery{{
			Kind:   "vector",
			Vector: q.Vector.Vector,
			K:      q.Vector.K,
			Fields: values.StringsCoalesce(q.Vector.Field, c.fields.Vector),
		}}
	}
	if q.Semantic {
		req.QueryType = "semantic"
		req.SemanticConfiguration = c.semanticConfig
	}
	if q.Top > 0 {
		top := q.Top
		req.Top = &top
	}
	return req
}

func (c *Client) newPager(first *searchRequest, kind string) *runtime.Pager[searchResponse] {
	return runtime.NewPager(runtime.PagingHandler[searchResponse]{
		More: func(page searchResponse) bool {
			return page.NextPageParameters != nil
		},
		Fetcher: func(ctx context.Context, page *searchResponse) (searchResponse, error) {
			body := first
			if page != nil {
				body = page.NextPageParameters
			}
			return c.post(ctx, body, kind)
		},
	})
}

func (c *Client) post(ctx context.Context, body *searchRequest, kind string) (searchResponse, error) {
	var res searchResponse

	started := time.Now()
	defer metricskey.PerfKnowledgeQuery.MeasureSince(started, kind)

	u := runtime.JoinPaths(c.endpoint, "indexes", url.PathEscape(c.index), "docs", "search")
	req, err := runtime.NewRequest(ctx, http.MethodPost, u)
	if err != nil {
		return res, errors.Wrap(err, "create request")
	}
	qs := req.Raw().URL.Query()
	qs.Set("api-version", c.apiVersion)
	req.Raw().URL.RawQuery = qs.Encode()
	req.Raw().Header.Set("Accept", "application/json")

	if err = runtime.MarshalAsJSON(req, body); err != nil {
		return res, errors.Wrap(err, "marshal search request")
	}

	resp, err := c.pl.Do(req)
	if err != nil {
		return res, errors.Wrap(err, "send search request")
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return res, runtime.NewResponseError(resp)
	}
	if err = runtime.UnmarshalAsJSON(resp, &res); err != nil {
		return res, errors.Wrap(err, "decode search response")
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "search_page",
		"kind", kind,
		"index", c.index,
		"count", len(res.Value),
		"more", res.NextPageParameters != nil,
	)
	return res, nil
}

func (f Fields) decode(doc map[string]json.RawMessage) (*Chunk, error) {
	id, err := rawID(doc[f.ID])
	if err != nil {
		return nil, errors.Wrapf(err, "field %s", f.ID)
	}
	title, err := rawString(doc[f.Title])
	if err != nil {
		return nil, errors.Wrapf(err, "field %s", f.Title)
	}
	content, err := rawString(doc[f.Content])
	if err != nil {
		return nil, errors.Wrapf(err, "field %s", f.Content)
	}
	return &Chunk{ID: id, Title: title, Content: content}, nil
}

// rawID renders numeric and string identifiers as a string.
func rawID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("missing identifier")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", errors.Wrap(err, "invalid identifier")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", errors.Wrap(err, "invalid identifier")
	}
	return n.String(), nil
}

func rawString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}
