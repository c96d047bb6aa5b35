package main

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/saiten/internal/config"
	"github.com/hyperjump/saiten/internal/corpus"
	"github.com/hyperjump/saiten/internal/grading"
	"github.com/hyperjump/saiten/internal/retrieval"
	"github.com/hyperjump/saiten/internal/sheet"
)

func offlineConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			Backend:      backend,
			DatabasePath: filepath.Join(dir, "objects.db"),
			BadgerPath:   filepath.Join(dir, "badger"),
		},
		Embedding: config.EmbeddingConfig{Provider: "mock", Dimensions: 64},
		Oracle:    config.OracleConfig{Provider: "mock"},
		Chunking:  config.ChunkingConfig{Size: 400, Overlap: 80},
	}
	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func lectureText() string {
	paragraphs := []string{
		"Photosynthesis converts light energy into chemical energy stored in glucose.",
		"Chlorophyll in the chloroplast absorbs red and blue light and reflects green light.",
		"The light dependent reactions split water and release oxygen as a by-product.",
		"The Calvin cycle fixes carbon dioxide into three carbon sugars using ATP and NADPH.",
		"Cellular respiration releases the energy stored in glucose inside the mitochondria.",
		"Mitosis produces two identical daughter cells while meiosis produces gametes.",
	}
	var b strings.Builder
	for i := 0; i < 4; i++ {
		for _, p := range paragraphs {
			b.WriteString(p)
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

func TestComponents_IngestRetrieveGrade(t *testing.T) {
	for _, backend := range []string{"sqlite", "badger"} {
		t.Run(backend, func(t *testing.T) {
			cfg := offlineConfig(t, backend)
			c, err := initializeComponents(cfg, zap.NewNop())
			if err != nil {
				t.Fatal(err)
			}
			defer c.Close()

			docPath := filepath.Join(t.TempDir(), "lecture.txt")
			if err := os.WriteFile(docPath, []byte(lectureText()), 0600); err != nil {
				t.Fatal(err)
			}
			key := corpus.Key{Owner: "prof", Course: "bio101", Assignment: "essay1"}
			ctx := context.Background()

			ingested, err := c.Indexer.IngestFile(ctx, key, docPath, cfg.Watch.Extensions)
			if err != nil {
				t.Fatal(err)
			}
			if ingested.Name != "lecture" || ingested.Passages < 2 {
				t.Fatalf("ingest = %+v", ingested)
			}

			threshold := 4.0
			res, err := c.Retrieval.Retrieve(ctx, retrieval.Request{
				Query: "chlorophyll absorbs light", Key: key, K: 3, DistanceThreshold: &threshold,
			})
			if err != nil {
				t.Fatal(err)
			}
			if len(res.Passages) == 0 || len(res.Passages) > 3 {
				t.Fatalf("retrieved %d passages", len(res.Passages))
			}
			if !strings.Contains(res.Context(), "light") {
				t.Errorf("context does not mention the query terms: %q", res.Context())
			}

			desc, err := c.Corpora.Describe(ctx, key)
			if err != nil {
				t.Fatal(err)
			}
			if desc.Passages != ingested.Passages || desc.Dim != 64 {
				t.Errorf("describe = %+v", desc)
			}

			essays := []sheet.Essay{
				{ID: "s1", Response: "Plants use chlorophyll to capture light."},
				{ID: "s2", Response: "The Calvin cycle fixes carbon dioxide."},
			}
			job := &grading.Job{
				Key:             key,
				Essays:          sheet.Responses(essays),
				Question:        "Explain photosynthesis.",
				CriteriaPrompts: map[string]string{"accuracy": "Q: {{question}}\nContext: {{rag_context}}\nEssay: {{essay}}"},
			}
			batch, err := c.Grader.GradeBatch(ctx, job)
			if err != nil {
				t.Fatal(err)
			}
			if batch.TotalEssays != 2 || batch.Failed != 0 || batch.Completed != 2 {
				t.Fatalf("batch = %+v", batch)
			}

			out := filepath.Join(t.TempDir(), "graded.xlsx")
			if err := sheet.WriteGradedFile(out, essays, job.Criteria(), batch); err != nil {
				t.Fatal(err)
			}
			back, err := sheet.ReadEssaysFile(out)
			if err != nil {
				t.Fatal(err)
			}
			if len(back) != 2 || back[1].ID != "s2" {
				t.Errorf("graded workbook essays = %+v", back)
			}
		})
	}
}

// fakeOpenAIEmbeddings serves /v1/embeddings with text-embedding-3-small's native 1536
// dimensions unless the request asks for fewer.
func fakeOpenAIEmbeddings(t *testing.T) (*httptest.Server, func() []int) {
	t.Helper()
	var mu sync.Mutex
	var requested []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input      []string `json:"input"`
			Dimensions int      `json:"dimensions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		requested = append(requested, req.Dimensions)
		mu.Unlock()
		size := 1536
		if req.Dimensions > 0 {
			size = req.Dimensions
		}
		data := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			h := fnv.New32a()
			_, _ = h.Write([]byte(text))
			v := make([]float32, size)
			v[int(h.Sum32()%uint32(size))] = 1
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": v}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	}))
	t.Cleanup(srv.Close)
	return srv, func() []int {
		mu.Lock()
		defer mu.Unlock()
		return append([]int(nil), requested...)
	}
}

func TestComponents_OpenAIEmbeddingDefaults(t *testing.T) {
	tests := []struct {
		name       string
		dimensions int
		wantDim    int
		wantSent   int
	}{
		{"native size by default", 0, 1536, 0},
		{"explicit size is requested", 256, 256, 256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, requested := fakeOpenAIEmbeddings(t)
			dir := t.TempDir()
			emb := config.EmbeddingConfig{Provider: "openai", BaseURL: srv.URL + "/v1", APIKey: "sk-test", Dimensions: tt.dimensions}
			cfg := &config.Config{
				Storage:   config.StorageConfig{DatabasePath: filepath.Join(dir, "objects.db")},
				Embedding: emb,
				Oracle:    config.OracleConfig{Provider: "mock"},
			}
			config.ApplyDefaults(cfg)
			if err := cfg.Validate(); err != nil {
				t.Fatal(err)
			}
			c, err := initializeComponents(cfg, zap.NewNop())
			if err != nil {
				t.Fatal(err)
			}
			defer c.Close()

			docPath := filepath.Join(t.TempDir(), "lecture.txt")
			if err := os.WriteFile(docPath, []byte(lectureText()), 0600); err != nil {
				t.Fatal(err)
			}
			key := corpus.Key{Owner: "prof", Course: "bio101", Assignment: "essay1"}
			if _, err := c.Indexer.IngestFile(context.Background(), key, docPath, nil); err != nil {
				t.Fatalf("ingest with default dimensions: %v", err)
			}
			desc, err := c.Corpora.Describe(context.Background(), key)
			if err != nil {
				t.Fatal(err)
			}
			if desc.Dim != tt.wantDim {
				t.Errorf("corpus dim = %d, want %d", desc.Dim, tt.wantDim)
			}
			if _, err := c.Retrieval.Retrieve(context.Background(), retrieval.Request{Query: "chlorophyll", Key: key}); err != nil {
				t.Errorf("retrieve: %v", err)
			}
			sent := requested()
			if len(sent) == 0 {
				t.Fatal("embedding server was not called")
			}
			for _, d := range sent {
				if d != tt.wantSent {
					t.Errorf("request dimensions = %d, want %d", d, tt.wantSent)
				}
			}
		})
	}
}

func TestComponents_UnknownCorpus(t *testing.T) {
	c, err := initializeComponents(offlineConfig(t, "sqlite"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	_, err = c.Retrieval.Retrieve(context.Background(), retrieval.Request{
		Query: "anything", Key: corpus.Key{Owner: "prof", Course: "none", Assignment: "none"},
	})
	if err == nil {
		t.Fatal("expected error for missing corpus")
	}
}

func TestNewEmbedder_ONNXFallsBackToMock(t *testing.T) {
	e, err := newEmbedder(config.EmbeddingConfig{
		Provider: "onnx", ModelPath: filepath.Join(t.TempDir(), "missing"), Dimensions: 32,
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()
	if e.Dimensions() != 32 {
		t.Errorf("dimensions = %d", e.Dimensions())
	}
	if _, err := newEmbedder(config.EmbeddingConfig{Provider: "word2vec"}, zap.NewNop()); err == nil {
		t.Error("expected error for unknown provider")
	}
}
