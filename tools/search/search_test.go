package search_test

import (
	"context"
	"encoding/json"
	"iter"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/ragtools/mocks/mockembeddings"
	"github.com/effective-security/ragtools/mocks/mockknowledge"
	"github.com/effective-security/ragtools/pkg/citation"
	"github.com/effective-security/ragtools/pkg/knowledge"
	"github.com/effective-security/ragtools/tools"
	"github.com/effective-security/ragtools/tools/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func Test_Tool(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	embedder := mockembeddings.NewMockEmbedder(ctrl)
	backend := mockknowledge.NewMockBackend(ctrl)

	tool, err := search.New(embedder, backend)
	require.NoError(t, err)

	assert.Equal(t, "search", tool.Name())
	assert.Contains(t, tool.Description(), "translate to and from English")
	assert.Contains(t, tool.Description(), "'-----'")

	params, err := json.Marshal(tool.Parameters())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search query"}
		},
		"required": ["query"],
		"additionalProperties": false
	}`, string(params))

	vec := []float32{0.1, 0.2}
	embedder.EXPECT().Embed(gomock.Any(), "vacation policy").Return(vec, nil)
	backend.EXPECT().Search(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, q *knowledge.Query) iter.Seq2[*knowledge.Chunk, error] {
		assert.Equal(t, knowledge.HybridQuery(vec), q)
		return knowledge.FromSlice([]*knowledge.Chunk{
			{ID: "12", Title: "Handbook", Content: "Employees accrue..."},
			{ID: "47", Title: "Handbook", Content: "Unused days..."},
		}, nil)
	})

	res, err := tool.Call(context.Background(), `{"query":"vacation policy"}`)
	require.NoError(t, err)
	assert.Equal(t, tools.ToServer, res.Direction())
	assert.Equal(t, "[12]: Employees accrue...\n-----\n[47]: Unused days...\n-----\n", res.String())
}

func Test_Empty(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	embedder := mockembeddings.NewMockEmbedder(ctrl)
	backend := mockknowledge.NewMockBackend(ctrl)
	tool, err := search.New(embedder, backend)
	require.NoError(t, err)

	embedder.EXPECT().Embed(gomock.Any(), "nothing").Return([]float32{1}, nil)
	backend.EXPECT().Search(gomock.Any(), gomock.Any()).Return(knowledge.FromSlice(nil, nil))

	res, err := tool.Run(context.Background(), &search.Request{Query: "nothing"})
	require.NoError(t, err)
	assert.Equal(t, "", res.Payload())
	assert.Equal(t, tools.ToServer, res.Direction())
}

func Test_Errors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	embedder := mockembeddings.NewMockEmbedder(ctrl)
	backend := mockknowledge.NewMockBackend(ctrl)
	tool, err := search.New(embedder, backend)
	require.NoError(t, err)

	ctx := context.Background()

	_, err = tool.Call(ctx, "plain string")
	assert.True(t, errors.Is(err, tools.ErrFailedUnmarshalInput))

	_, err = tool.Call(ctx, `{"query":"q","top":3}`)
	assert.True(t, errors.Is(err, tools.ErrFailedUnmarshalInput))

	_, err = tool.Call(ctx, `{}`)
	assert.True(t, errors.Is(err, tools.ErrInvalidArguments))

	embedder.EXPECT().Embed(gomock.Any(), "q").Return(nil, errors.New("throttled"))
	_, err = tool.Call(ctx, `{"query":"q"}`)
	assert.EqualError(t, err, "failed to embed query: throttled")

	embedder.EXPECT().Embed(gomock.Any(), "q").Return([]float32{1}, nil)
	backend.EXPECT().Search(gomock.Any(), gomock.Any()).Return(knowledge.FromSlice(
		[]*knowledge.Chunk{{ID: "1", Content: "partial"}}, errors.New("connection reset")))
	_, err = tool.Call(ctx, `{"query":"q"}`)
	assert.EqualError(t, err, "failed to search knowledge base: connection reset")

	_, err = search.New(nil, backend)
	assert.EqualError(t, err, "embedder is required")
	_, err = search.New(embedder, nil)
	assert.EqualError(t, err, "knowledge backend is required")
}

func Test_AtMostFiveBlocks(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	embedder := mockembeddings.NewMockEmbedder(ctrl)
	backend := mockknowledge.NewMockBackend(ctrl)
	tool, err := search.New(embedder, backend)
	require.NoError(t, err)

	faker := gofakeit.New(7)
	for range 25 {
		query := faker.Question()
		n := faker.IntRange(0, 12)
		chunks := make([]*knowledge.Chunk, 0, n)
		for range n {
			chunks = append(chunks, &knowledge.Chunk{
				ID:      citation.FormatID(int64(faker.IntRange(1, 1_000_000))),
				Title:   faker.BookTitle(),
				Content: faker.Sentence(10),
			})
		}

		embedder.EXPECT().Embed(gomock.Any(), query).Return([]float32{1, 2, 3}, nil)
		backend.EXPECT().Search(gomock.Any(), gomock.Any()).Return(knowledge.FromSlice(chunks, nil))

		res, err := tool.Run(context.Background(), &search.Request{Query: query})
		require.NoError(t, err)

		out := res.String()
		ids := citation.Extract(out)
		assert.LessOrEqual(t, len(ids), knowledge.MaxResults)
		assert.Equal(t, min(n, knowledge.MaxResults), strings.Count(out, "\n"+citation.Delimiter+"\n"))
		for i, id := range ids {
			assert.True(t, citation.IsWellFormed(id), id)
			assert.Equal(t, chunks[i].ID, id)
		}
	}
}
