package wire

// HealthCheckRequest has no fields; the variant tag alone is the request.
type HealthCheckRequest struct{}

// HealthCheckResponse reports process health for the wire protocol's
// HealthCheck variant. internal/adminhttp builds its own /healthz body.
type HealthCheckResponse struct {
	Healthy       bool    `json:"healthy"`
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// LearnConceptV2Options carries the per-request options. The server applies
// GenerateEmbedding, ExtractAssociations (which runs semantic
// classification only; no associations are created from the content),
// Strength and Confidence. EmbeddingModel, MinAssociationConfidence and
// MaxAssociationsPerConcept are accepted but not applied; the reconciler
// enforces its own process-wide association caps.
type LearnConceptV2Options struct {
	GenerateEmbedding         bool    `json:"generate_embedding"`
	EmbeddingModel            string  `json:"embedding_model,omitempty"`
	ExtractAssociations       bool    `json:"extract_associations"`
	MinAssociationConfidence  float32 `json:"min_association_confidence"`
	MaxAssociationsPerConcept int     `json:"max_associations_per_concept"`
	Strength                  float32 `json:"strength"`
	Confidence                float32 `json:"confidence"`
}

// LearnConceptV2Request is the content-first ingestion path: the caller
// only supplies text, and the engine derives the concept id from it and,
// when the options ask, its embedding and semantic classification.
type LearnConceptV2Request struct {
	Namespace string                `json:"namespace,omitempty"`
	Content   []byte                `json:"content"`
	Options   LearnConceptV2Options `json:"options"`
}

// ConceptIDResponse is returned by both Learn variants.
type ConceptIDResponse struct {
	ConceptID string `json:"concept_id"`
}

// LearnWithEmbeddingRequest is the pre-vectorized ingestion path.
type LearnWithEmbeddingRequest struct {
	ID          string            `json:"id,omitempty"`
	Namespace   string            `json:"namespace"`
	Content     []byte            `json:"content"`
	Embedding   []float32         `json:"embedding"`
	Metadata    map[string]string `json:"metadata"`
	TimestampUs *int64            `json:"timestamp,omitempty"`
}

// QueryConceptRequest looks a concept up by id.
type QueryConceptRequest struct {
	Namespace string `json:"namespace,omitempty"`
	ConceptID string `json:"concept_id"`
}

// QueryConceptResponse reports whether the concept was found and, if so,
// its current state.
type QueryConceptResponse struct {
	Found      bool              `json:"found"`
	Content    []byte            `json:"content,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Strength   float32           `json:"strength"`
	Confidence float32           `json:"confidence"`
	Vector     []float32         `json:"vector,omitempty"`
}

// VectorSearchRequest runs an ANN query against the namespace's HNSW index.
type VectorSearchRequest struct {
	Namespace   string    `json:"namespace,omitempty"`
	QueryVector []float32 `json:"query_vector"`
	K           int       `json:"k"`
	EfSearch    int       `json:"ef_search"`
}

// VectorSearchHit is one ranked ANN result.
type VectorSearchHit struct {
	ConceptID  string  `json:"concept_id"`
	Similarity float32 `json:"similarity"`
}

// VectorSearchResponse is the ranked hit list.
type VectorSearchResponse struct {
	Hits []VectorSearchHit `json:"hits"`
}

// FindPathRequest runs the bidirectional-BFS single-path search.
type FindPathRequest struct {
	Namespace string `json:"namespace,omitempty"`
	StartID   string `json:"start_id"`
	EndID     string `json:"end_id"`
	MaxDepth  int    `json:"max_depth"`
}

// FindPathResponse carries the path, if one was found within MaxDepth.
type FindPathResponse struct {
	Found bool     `json:"found"`
	Path  []string `json:"path,omitempty"`
}

// FindPathsParallelRequest runs the fan-out multi-path search.
type FindPathsParallelRequest struct {
	Namespace string `json:"namespace,omitempty"`
	StartID   string `json:"start_id"`
	EndID     string `json:"end_id"`
	MaxDepth  int    `json:"max_depth"`
	K         int    `json:"k"`
}

// FindPathsParallelResponse carries up to K distinct paths.
type FindPathsParallelResponse struct {
	Paths [][]string `json:"paths"`
}

// ListRecentRequest asks for the most recently accessed concepts.
type ListRecentRequest struct {
	Namespace string `json:"namespace"`
	Limit     int    `json:"limit"`
}

// ListRecentItem is one entry of a ListRecent response: the id and a
// short preview of its content, not the full content blob.
type ListRecentItem struct {
	ID      string `json:"id"`
	Preview string `json:"preview"`
}

// ListRecentResponse is the recency-ordered preview list.
type ListRecentResponse struct {
	Items []ListRecentItem `json:"items"`
}

// FeedbackRequest carries accept/reject/ranking signals for a prior
// result set, processed synchronously by internal/feedback from the
// request handler that receives it.
type FeedbackRequest struct {
	Namespace string   `json:"namespace,omitempty"`
	ConceptIDs []string `json:"concept_ids"`
	Accepted   []bool   `json:"accepted"`
	Ranking    []int    `json:"ranking,omitempty"`
}

// FeedbackResponse acknowledges a processed Feedback request.
type FeedbackResponse struct {
	OK bool `json:"ok"`
}

// FlushRequest forces an immediate reconcile/snapshot/WAL-truncate cycle.
type FlushRequest struct {
	Namespace string `json:"namespace,omitempty"`
}

// FlushResponse acknowledges a completed flush.
type FlushResponse struct {
	OK bool `json:"ok"`
}

// StatsRequest asks for one namespace's health summary.
type StatsRequest struct {
	Namespace string `json:"namespace,omitempty"`
}

// StatsResponse mirrors autonomy.StatsSnapshot plus the read-only flag
// the health/admin surfaces both need.
type StatsResponse struct {
	Concepts         int    `json:"concepts"`
	Edges            int    `json:"edges"`
	WriteLogPending  int    `json:"write_log_pending"`
	WriteLogCapacity int    `json:"write_log_capacity"`
	HNSWSize         int    `json:"hnsw_size"`
	ReadOnly         bool   `json:"read_only"`
	HealthReason     string `json:"health_reason,omitempty"`
}

// ListNamespacesResponse lists every namespace constructed so far.
type ListNamespacesResponse struct {
	Namespaces []string `json:"namespaces"`
}

// ClearNamespaceRequest deletes a namespace's in-memory and on-disk state.
type ClearNamespaceRequest struct {
	Namespace string `json:"namespace"`
}

// ClearNamespaceResponse acknowledges a completed clear.
type ClearNamespaceResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is the body of a KindError frame.
type ErrorResponse struct {
	Kind         string `json:"kind"`
	Message      string `json:"message"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}
