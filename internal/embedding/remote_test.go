package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		embeddings := make([][]float32, len(req.Input))
		for i := range req.Input {
			embeddings[i] = []float32{3, 4}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": embeddings})
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(srv.URL, "nomic-embed-text", 2, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || math.Abs(float64(vecs[1][0])-0.6) > 1e-6 || math.Abs(float64(vecs[1][1])-0.8) > 1e-6 {
		t.Errorf("vecs = %v", vecs)
	}
}

func TestOllamaEmbedder_serverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	e, _ := NewOllamaEmbedder(srv.URL, "missing", 2, srv.Client())
	if _, err := e.Embed(context.Background(), "a"); err == nil {
		t.Error("expected error")
	}
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		// indexes deliberately out of order
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "text-embedding-3-small",
			"data": []map[string]any{
				{"object": "embedding", "index": 1, "embedding": []float32{0, 2}},
				{"object": "embedding", "index": 0, "embedding": []float32{2, 0}},
			},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder("sk-test", srv.URL+"/v1", "text-embedding-3-small", 2)
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatal(err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vecs = %v", vecs)
	}
}

func TestNewOpenAIEmbedder_requiresKey(t *testing.T) {
	if _, err := NewOpenAIEmbedder("", "", "text-embedding-3-small", 0); err == nil {
		t.Error("expected error without key or base url")
	}
	e, err := NewOpenAIEmbedder("sk", "", "text-embedding-3-large", 0)
	if err != nil {
		t.Fatal(err)
	}
	if e.Dimensions() != 3072 {
		t.Errorf("Dimensions = %d", e.Dimensions())
	}
}

// nativeOpenAI answers with vectors of the requested size, or native when none is requested.
func nativeOpenAI(t *testing.T, native int, requested *[]int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input      []string `json:"input"`
			Dimensions int      `json:"dimensions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		*requested = append(*requested, req.Dimensions)
		size := native
		if req.Dimensions > 0 {
			size = req.Dimensions
		}
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			v := make([]float32, size)
			v[i%size] = 1
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": v}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIEmbedder_requestedDimensions(t *testing.T) {
	tests := []struct {
		name       string
		dimensions int
		wantSent   int
		wantDim    int
	}{
		{"native size", 0, 0, 1536},
		{"explicit size", 256, 256, 256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requested []int
			srv := nativeOpenAI(t, 1536, &requested)
			e, err := NewOpenAIEmbedder("sk-test", srv.URL+"/v1", "text-embedding-3-small", tt.dimensions)
			if err != nil {
				t.Fatal(err)
			}
			vecs, err := NewBatcher(e, 0, nil).EmbedAll(context.Background(), []string{"a", "b", "c"})
			if err != nil {
				t.Fatal(err)
			}
			if len(requested) != 1 || requested[0] != tt.wantSent {
				t.Errorf("requested dimensions = %v, want %d", requested, tt.wantSent)
			}
			if e.Dimensions() != tt.wantDim || len(vecs[0]) != tt.wantDim {
				t.Errorf("Dimensions = %d, vector = %d, want %d", e.Dimensions(), len(vecs[0]), tt.wantDim)
			}
		})
	}
}

func TestOllamaEmbedder_learnsDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		embeddings := make([][]float32, len(req.Input))
		for i := range embeddings {
			embeddings[i] = []float32{1, 0, 0, 0, 0}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(srv.URL, "custom-embedder", 0, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	if e.Dimensions() != 0 {
		t.Fatalf("Dimensions before first call = %d", e.Dimensions())
	}
	b := NewBatcher(e, 2, nil)
	if _, err := b.EmbedAll(context.Background(), []string{"a", "b", "c"}); err != nil {
		t.Fatal(err)
	}
	if b.Dimensions() != 5 {
		t.Errorf("Dimensions after first call = %d, want 5", b.Dimensions())
	}
}
