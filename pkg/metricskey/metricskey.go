package metricskey

import "github.com/effective-security/metrics"

// Stats
var (
	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_succeeded",
		Help:         "stats_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_failed",
		Help:         "stats_tool_calls_failed provides total tool calls failed",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsNotFound = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_not_found",
		Help:         "stats_tool_calls_not_found provides total tool calls not found",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsInvalidArgs = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_invalid_args",
		Help:         "stats_tool_calls_invalid_args provides total tool calls rejected by the schema check",
		RequiredTags: []string{"tool"},
	}

	StatsEmbeddingsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_embeddings_failed",
		Help:         "stats_embeddings_failed provides total failed embedding requests",
		RequiredTags: []string{"provider"},
	}

	StatsKnowledgeQueriesFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_knowledge_queries_failed",
		Help:         "stats_knowledge_queries_failed provides total failed knowledge backend queries",
		RequiredTags: []string{"kind"},
	}

	StatsKnowledgeChunks = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_knowledge_chunks",
		Help:         "stats_knowledge_chunks provides total chunks returned by the knowledge backend",
		RequiredTags: []string{"kind"},
	}

	StatsGroundingTokensDropped = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_grounding_tokens_dropped",
		Help:         "stats_grounding_tokens_dropped provides total citation tokens excluded before the backend query",
		RequiredTags: []string{"reason"},
	}

	StatsGroundingFailures = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_grounding_failures",
		Help:         "stats_grounding_failures provides total grounding calls recovered with an error payload",
		RequiredTags: []string{"reason"},
	}
)

// Perf
var (
	PerfToolCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_tool_call",
		Help:         "perf_tool_call provides duration of tool call",
		RequiredTags: []string{"tool"},
	}

	PerfEmbedding = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_embedding",
		Help:         "perf_embedding provides duration of embedding request",
		RequiredTags: []string{"provider"},
	}

	PerfKnowledgeQuery = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_knowledge_query",
		Help:         "perf_knowledge_query provides duration of knowledge backend query",
		RequiredTags: []string{"kind"},
	}
)

// Metrics returns slice of metrics from this repo
// keep sorted by name
var Metrics = []*metrics.Describe{
	&PerfEmbedding,
	&PerfKnowledgeQuery,
	&PerfToolCall,
	&StatsEmbeddingsFailed,
	&StatsGroundingFailures,
	&StatsGroundingTokensDropped,
	&StatsKnowledgeChunks,
	&StatsKnowledgeQueriesFailed,
	&StatsToolCallsFailed,
	&StatsToolCallsInvalidArgs,
	&StatsToolCallsNotFound,
	&StatsToolCallsSucceeded,
}
