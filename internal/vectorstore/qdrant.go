package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

const (
	// Named vector slots present on every collection.
	denseVectorName  = "vector"
	sparseVectorName = "sparse"

	qdrantDefaultPort = 6334
	qdrantBatchSize   = 100
)

// QdrantStore mirrors indexed chunks into Qdrant for hybrid retrieval.
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore creates a new Qdrant client. rawURL accepts either
// "host:port" or a full URL such as "http://localhost:6334"; an https
// scheme enables TLS.
func NewQdrantStore(rawURL, apiKey string) (*QdrantStore, error) {
	host, port, useTLS, err := parseQdrantURL(rawURL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{client: client}, nil
}

func parseQdrantURL(raw string) (host string, port int, useTLS bool, err error) {
	if raw == "" {
		return "", 0, false, fmt.Errorf("qdrant url is empty")
	}
	port = qdrantDefaultPort

	if strings.Contains(raw, "://") {
		u, perr := url.Parse(raw)
		if perr != nil {
			return "", 0, false, fmt.Errorf("invalid qdrant url: %w", perr)
		}
		host = u.Hostname()
		useTLS = u.Scheme == "https"
		if p := u.Port(); p != "" {
			port, err = strconv.Atoi(p)
			if err != nil {
				return "", 0, false, fmt.Errorf("invalid port in qdrant url: %w", err)
			}
		}
		return host, port, useTLS, nil
	}

	host, portStr, serr := net.SplitHostPort(raw)
	if serr != nil {
		// If no port specified, assume the gRPC default
		return raw, port, false, nil
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid port in qdrant url: %w", err)
	}
	return host, port, false, nil
}

// Close closes the Qdrant client connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// EnsureCollection creates a hybrid collection with a named dense vector and
// an IDF-weighted sparse vector unless it already exists.
func (s *QdrantStore) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	if dimension <= 0 {
		dimension = DefaultDimension
	}

	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
		SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {
				Modifier: qdrant.Modifier_Idf.Enum(),
			},
		}),
	})
	if err != nil {
		// Concurrent jobs can race on the first write to a collection.
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("failed to create collection %s: %w", collection, err)
	}
	return nil
}

// UpsertChunks writes chunks in batches of 100, attaching sparse vectors
// when present. The point id reuses the chunk id so re-crawls overwrite.
func (s *QdrantStore) UpsertChunks(ctx context.Context, collection string, chunks []ChunkRecord) (int, error) {
	stored := 0
	for start := 0; start < len(chunks); start += qdrantBatchSize {
		end := start + qdrantBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		points := make([]*qdrant.PointStruct, 0, end-start)
		for _, rec := range chunks[start:end] {
			points = append(points, chunkPoint(rec))
		}

		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points,
		})
		if err != nil {
			return stored, fmt.Errorf("failed to upsert points: %w", err)
		}
		stored = end
	}
	return stored, nil
}

// chunkPoint converts a chunk record into a named-vector point.
func chunkPoint(rec ChunkRecord) *qdrant.PointStruct {
	payload := map[string]*qdrant.Value{
		"chunk_text":    qdrant.NewValueString(rec.Text),
		"summary":       qdrant.NewValueString(rec.Summary),
		"is_code":       qdrant.NewValueBool(rec.IsCode),
		"language":      qdrant.NewValueString(rec.Language),
		"relative_path": qdrant.NewValueString(rec.RelativePath),
		"chunk_index":   qdrant.NewValueInt(int64(rec.ChunkIndex)),
		"start_char":    qdrant.NewValueInt(int64(rec.StartChar)),
		"end_char":      qdrant.NewValueInt(int64(rec.EndChar)),
		"model_used":    qdrant.NewValueString(rec.ModelUsed),
		"project_id":    qdrant.NewValueString(rec.ProjectID),
		"dataset_id":    qdrant.NewValueString(rec.DatasetID),
		"scope":         qdrant.NewValueString(rec.Scope),
	}
	if len(rec.Metadata) > 0 {
		if raw, err := json.Marshal(rec.Metadata); err == nil {
			payload["metadata"] = qdrant.NewValueString(string(raw))
		}
	}

	vectors := map[string]*qdrant.Vector{
		denseVectorName: {Data: rec.Vector},
	}
	if rec.SparseVector != nil && len(rec.SparseVector.Indices) > 0 {
		vectors[sparseVectorName] = &qdrant.Vector{
			Indices: &qdrant.SparseIndices{Data: rec.SparseVector.Indices},
			Data:    rec.SparseVector.Values,
		}
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(rec.ID),
		Payload: payload,
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vectors{
				Vectors: &qdrant.NamedVectors{Vectors: vectors},
			},
		},
	}
}

// Search performs similarity search over the named dense vector.
func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, topK int, minScore float32) ([]SearchResult, error) {
	query := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vector),
		Using:          qdrant.PtrOf(denseVectorName),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if minScore > 0 {
		query.ScoreThreshold = qdrant.PtrOf(minScore)
	}

	response, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0, len(response))
	for _, point := range response {
		results = append(results, pointResult(point))
	}
	return results, nil
}

// HybridSearch combines dense and sparse retrieval with RRF fusion.
func (s *QdrantStore) HybridSearch(ctx context.Context, collection string, denseVector []float32, sparseVector *SparseVector, topK int, minScore float32) ([]SearchResult, error) {
	// Fetch more candidates than requested so fusion has room to rerank.
	prefetchLimit := uint64(topK * 2)

	prefetch := []*qdrant.PrefetchQuery{
		{
			Query: qdrant.NewQueryDense(denseVector),
			Using: qdrant.PtrOf(denseVectorName),
			Limit: qdrant.PtrOf(prefetchLimit),
		},
	}
	if sparseVector != nil && len(sparseVector.Indices) > 0 {
		prefetch = append(prefetch, &qdrant.PrefetchQuery{
			Query: qdrant.NewQuerySparse(sparseVector.Indices, sparseVector.Values),
			Using: qdrant.PtrOf(sparseVectorName),
			Limit: qdrant.PtrOf(prefetchLimit),
		})
	}

	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Prefetch:       prefetch,
		Query:          qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to hybrid search: %w", err)
	}

	results := make([]SearchResult, 0, len(response))
	for _, point := range response {
		result := pointResult(point)
		// RRF scores are rank based, so the threshold only drops strays.
		if float32(result.Similarity) >= minScore {
			results = append(results, result)
		}
	}
	return results, nil
}

// pointResult maps a scored point back onto the flat search result shape.
func pointResult(point *qdrant.ScoredPoint) SearchResult {
	r := SearchResult{
		ID:         point.Id.GetUuid(),
		Similarity: float64(point.Score),
	}

	payload := point.Payload
	if payload == nil {
		return r
	}
	if v, ok := payload["chunk_text"]; ok {
		r.Text = v.GetStringValue()
	}
	if v, ok := payload["summary"]; ok {
		r.Summary = v.GetStringValue()
	}
	if v, ok := payload["is_code"]; ok {
		r.IsCode = v.GetBoolValue()
	}
	if v, ok := payload["language"]; ok {
		r.Language = v.GetStringValue()
	}
	if v, ok := payload["relative_path"]; ok {
		r.RelativePath = v.GetStringValue()
	}
	if v, ok := payload["chunk_index"]; ok {
		r.ChunkIndex = int(v.GetIntegerValue())
	}
	if v, ok := payload["model_used"]; ok {
		r.ModelUsed = v.GetStringValue()
	}
	if v, ok := payload["project_id"]; ok {
		r.ProjectID = v.GetStringValue()
	}
	if v, ok := payload["dataset_id"]; ok {
		r.DatasetID = v.GetStringValue()
	}
	if v, ok := payload["scope"]; ok {
		r.Scope = v.GetStringValue()
	}
	return r
}

// DeletePage removes every chunk indexed under one page path.
func (s *QdrantStore) DeletePage(ctx context.Context, collection, relativePath string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch("relative_path", relativePath),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete by page path: %w", err)
	}
	return nil
}

// DeleteChunks removes specific chunks by their ids.
func (s *QdrantStore) DeleteChunks(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: pointIDs,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete by IDs: %w", err)
	}
	return nil
}

// Ensure QdrantStore implements ChunkWriter
var _ ChunkWriter = (*QdrantStore)(nil)
