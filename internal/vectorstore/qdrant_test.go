package vectorstore

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
)

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantHost string
		wantPort int
		wantTLS  bool
		wantErr  bool
	}{
		{"host and port", "localhost:6334", "localhost", 6334, false, false},
		{"bare host", "qdrant.internal", "qdrant.internal", 6334, false, false},
		{"http url", "http://localhost:6334", "localhost", 6334, false, false},
		{"http url without port", "http://qdrant", "qdrant", 6334, false, false},
		{"https enables tls", "https://qdrant.example.com:443", "qdrant.example.com", 443, true, false},
		{"empty", "", "", 0, false, true},
		{"bad port", "localhost:abc", "", 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, useTLS, err := parseQdrantURL(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if host != tt.wantHost || port != tt.wantPort || useTLS != tt.wantTLS {
				t.Errorf("expected (%s, %d, %v), got (%s, %d, %v)",
					tt.wantHost, tt.wantPort, tt.wantTLS, host, port, useTLS)
			}
		})
	}
}

func TestChunkPoint(t *testing.T) {
	rec := ChunkRecord{
		ID:           "1b671a64-40d5-491e-99b0-da01ff1f3341",
		Text:         "func main() {}",
		Summary:      "entry point",
		Vector:       []float32{0.1, 0.2},
		IsCode:       true,
		Language:     "go",
		RelativePath: "docs/main",
		ChunkIndex:   2,
		StartChar:    10,
		EndChar:      24,
		ModelUsed:    "coderank",
		Scope:        "local",
		Metadata:     map[string]any{"confidence": 0.8},
	}

	point := chunkPoint(rec)

	if got := point.Id.GetUuid(); got != rec.ID {
		t.Errorf("expected point id %s, got %s", rec.ID, got)
	}
	if got := point.Payload["chunk_text"].GetStringValue(); got != rec.Text {
		t.Errorf("expected chunk_text %q, got %q", rec.Text, got)
	}
	if !point.Payload["is_code"].GetBoolValue() {
		t.Error("expected is_code true in the payload")
	}
	if got := point.Payload["chunk_index"].GetIntegerValue(); got != 2 {
		t.Errorf("expected chunk_index 2, got %d", got)
	}
	if point.Payload["metadata"].GetStringValue() == "" {
		t.Error("expected serialized metadata in the payload")
	}

	named := point.Vectors.GetVectors().GetVectors()
	if _, ok := named[denseVectorName]; !ok {
		t.Errorf("expected a %q vector", denseVectorName)
	}
	if _, ok := named[sparseVectorName]; ok {
		t.Error("expected no sparse vector without sparse data")
	}
}

func TestChunkPointSparse(t *testing.T) {
	rec := ChunkRecord{
		ID:     "1b671a64-40d5-491e-99b0-da01ff1f3341",
		Vector: []float32{0.1},
		SparseVector: &SparseVector{
			Indices: []uint32{4, 9},
			Values:  []float32{0.5, 0.25},
		},
	}

	named := chunkPoint(rec).Vectors.GetVectors().GetVectors()
	sparse, ok := named[sparseVectorName]
	if !ok {
		t.Fatal("expected a sparse vector")
	}
	if len(sparse.GetIndices().GetData()) != 2 {
		t.Errorf("expected 2 sparse indices, got %d", len(sparse.GetIndices().GetData()))
	}
	if len(sparse.GetData()) != 2 {
		t.Errorf("expected 2 sparse values, got %d", len(sparse.GetData()))
	}
}

func TestPointResult(t *testing.T) {
	point := &qdrant.ScoredPoint{
		Id:    qdrant.NewIDUUID("1b671a64-40d5-491e-99b0-da01ff1f3341"),
		Score: 0.87,
		Payload: map[string]*qdrant.Value{
			"chunk_text":  qdrant.NewValueString("hello"),
			"summary":     qdrant.NewValueString("greeting"),
			"is_code":     qdrant.NewValueBool(false),
			"chunk_index": qdrant.NewValueInt(5),
			"scope":       qdrant.NewValueString("global"),
		},
	}

	r := pointResult(point)
	if r.ID != "1b671a64-40d5-491e-99b0-da01ff1f3341" {
		t.Errorf("unexpected id %s", r.ID)
	}
	if r.Text != "hello" || r.Summary != "greeting" || r.Scope != "global" {
		t.Errorf("unexpected payload mapping: %+v", r)
	}
	if r.IsCode {
		t.Error("expected is_code false")
	}
	if r.ChunkIndex != 5 {
		t.Errorf("expected chunk index 5, got %d", r.ChunkIndex)
	}
	if r.Similarity < 0.86 || r.Similarity > 0.88 {
		t.Errorf("expected similarity near 0.87, got %f", r.Similarity)
	}
}
