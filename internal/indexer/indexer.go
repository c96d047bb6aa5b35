// Package indexer turns uploaded course documents into persisted corpora.
package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/saiten/internal/corpus"
	"github.com/hyperjump/saiten/internal/embedding"
	"github.com/hyperjump/saiten/internal/errs"
	"github.com/hyperjump/saiten/internal/extract"
	"github.com/hyperjump/saiten/internal/metrics"
	"github.com/hyperjump/saiten/internal/models"
	"github.com/hyperjump/saiten/internal/vector"
)

// Indexer runs the ingestion pipeline: extract, chunk, embed, build, persist.
type Indexer struct {
	chunker   *Chunker
	batcher   *embedding.Batcher
	builder   *vector.Builder
	corpora   *corpus.Store
	extractor *extract.Extractor
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for pipeline events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithMetrics records index builds.
func WithMetrics(m *metrics.Metrics) IndexerOption {
	return func(idx *Indexer) { idx.metrics = m }
}

// NewIndexer creates an indexer with the given dependencies.
func NewIndexer(chunker *Chunker, batcher *embedding.Batcher, builder *vector.Builder, corpora *corpus.Store, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		chunker:   chunker,
		batcher:   batcher,
		builder:   builder,
		corpora:   corpora,
		extractor: extract.NewExtractor(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = zap.NewNop()
	}
	return idx
}

// IngestRequest is one uploaded document. Ext selects the extractor and includes the
// leading dot.
type IngestRequest struct {
	Key     corpus.Key
	Name    string
	Content []byte
	Ext     string
}

// IngestResult describes the corpus generation written by Ingest.
type IngestResult struct {
	Key       corpus.Key `json:"key"`
	Name      string     `json:"name"`
	IndexKey  string     `json:"index_key"`
	ChunksKey string     `json:"chunks_key"`
	Passages  int        `json:"passages"`
	Kind      string     `json:"kind"`
	NList     int        `json:"nlist,omitempty"`
	Bits      int        `json:"bits,omitempty"`
}

// Ingest builds and stores a new corpus generation from one document. Documents that
// yield no text or no passages are rejected with errs.ErrInvalidInput.
func (idx *Indexer) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if err := req.Key.Validate(); err != nil {
		return nil, err
	}
	name := SanitizeName(req.Name)
	if name == "" {
		return nil, errs.InvalidInput("document name is required")
	}
	if len(req.Content) == 0 {
		return nil, errs.InvalidInput("document %q is empty", req.Name)
	}
	log := idx.logger.With(
		zap.String("owner", req.Key.Owner),
		zap.String("course", req.Key.Course),
		zap.String("assignment", req.Key.Assignment),
		zap.String("name", name),
	)

	pages, err := idx.extractor.ExtractBytes(req.Content, req.Ext)
	if err != nil {
		return nil, errs.InvalidInput("extract %q: %v", req.Name, err)
	}
	passages := idx.chunker.Split(pages)
	if len(passages) == 0 {
		return nil, errs.InvalidInput("document %q contains no text", req.Name)
	}
	log.Debug("document chunked", zap.Int("pages", len(pages)), zap.Int("passages", len(passages)))

	vectors, err := idx.batcher.EmbedAll(ctx, models.Texts(passages))
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	// vectors is non-empty and EmbedAll has checked that all share one dimension
	index, err := idx.builder.Build(ctx, len(vectors[0]), vectors)
	if err != nil {
		return nil, fmt.Errorf("failed to build index: %w", err)
	}
	indexKey, chunksKey, err := idx.corpora.Save(ctx, req.Key, name, passages, index)
	if err != nil {
		return nil, fmt.Errorf("failed to store corpus: %w", err)
	}
	idx.metrics.IndexBuilt(string(index.Kind()), len(passages))

	res := &IngestResult{
		Key:       req.Key,
		Name:      name,
		IndexKey:  indexKey,
		ChunksKey: chunksKey,
		Passages:  len(passages),
		Kind:      string(index.Kind()),
	}
	if q, ok := index.(*vector.QuantizedIndex); ok {
		res.NList, res.Bits = q.NList(), q.Bits()
	}
	log.Info("document ingested", zap.Int("passages", res.Passages), zap.String("kind", res.Kind))
	return res, nil
}

// IngestFile reads the regular file at path and ingests it under its base name. If
// allowedExts is non-empty, the file's extension must be in the list (case-insensitive).
func (idx *Indexer) IngestFile(ctx context.Context, key corpus.Key, path string, allowedExts []string) (*IngestResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return nil, errs.InvalidInput("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if os.IsNotExist(err) {
		return nil, errs.NotFound("no such file: %s", absPath)
	}
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, errs.InvalidInput("not a regular file: %s", absPath)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	idx.logger.Debug("indexer ingesting file", zap.String("path", absPath))
	return idx.Ingest(ctx, IngestRequest{
		Key:     key,
		Name:    strings.TrimSuffix(filepath.Base(absPath), filepath.Ext(absPath)),
		Content: content,
		Ext:     ext,
	})
}

// SanitizeName makes a document name usable as an object-key segment: the extension and
// any directory are dropped and path separators become underscores.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, name)
	if name == "." || name == ".." {
		return ""
	}
	return name
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
