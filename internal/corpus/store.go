package corpus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/saiten/internal/errs"
	"github.com/hyperjump/saiten/internal/models"
	"github.com/hyperjump/saiten/internal/storage"
	"github.com/hyperjump/saiten/internal/vector"
)

type chunksFile struct {
	Chunks []string `json:"chunks"`
}

// Store reads and writes corpora as two objects per generation: the encoded index and
// the chunk list.
type Store struct {
	objects storage.ObjectStore
	logger  *zap.Logger
}

// NewStore wraps an object store.
func NewStore(objects storage.ObjectStore, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{objects: objects, logger: logger}
}

// Save writes a new generation of the corpus under name. Existing generations are left in
// place; Load always resolves the most recent one.
func (s *Store) Save(ctx context.Context, key Key, name string, passages []models.Passage, idx vector.Index) (indexKey, chunksKey string, err error) {
	if err := key.Validate(); err != nil {
		return "", "", err
	}
	if name == "" || strings.Contains(name, "/") {
		return "", "", errs.InvalidInput("invalid corpus name %q", name)
	}
	if idx.Len() != len(passages) {
		return "", "", errs.InvalidInput("index has %d vectors for %d passages", idx.Len(), len(passages))
	}
	var buf bytes.Buffer
	if err := vector.Encode(&buf, idx); err != nil {
		return "", "", fmt.Errorf("encode index: %w", err)
	}
	chunks, err := json.Marshal(chunksFile{Chunks: models.Texts(passages)})
	if err != nil {
		return "", "", fmt.Errorf("encode chunks: %w", err)
	}
	indexKey, chunksKey = key.IndexKey(name), key.ChunksKey(name)
	if err := s.objects.Put(ctx, indexKey, buf.Bytes()); err != nil {
		return "", "", fmt.Errorf("put index: %w", err)
	}
	if err := s.objects.Put(ctx, chunksKey, chunks); err != nil {
		return "", "", fmt.Errorf("put chunks: %w", err)
	}
	s.logger.Info("corpus saved",
		zap.String("owner", key.Owner), zap.String("course", key.Course), zap.String("assignment", key.Assignment),
		zap.String("name", name), zap.Int("passages", len(passages)), zap.String("kind", string(idx.Kind())))
	return indexKey, chunksKey, nil
}

// selection is the pair of objects Load resolves for a key.
type selection struct {
	index  storage.ObjectInfo
	chunks storage.ObjectInfo
	listed []storage.ObjectInfo
}

func (s *Store) selectObjects(ctx context.Context, key Key) (*selection, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	objects, err := s.objects.List(ctx, key.Prefix())
	if err != nil {
		return nil, fmt.Errorf("list corpus objects: %w", err)
	}
	index, okIndex := latest(objects, key.Prefix(), indexSuffix)
	chunks, okChunks := latest(objects, key.Prefix(), chunksSuffix)
	if !okIndex || !okChunks {
		return nil, errs.NotFound("no corpus for %s", key)
	}
	return &selection{index: index, chunks: chunks, listed: objects}, nil
}

// latest picks the most recently updated object directly under prefix with the given
// suffix. Ties go to the lexically greater key.
func latest(objects []storage.ObjectInfo, prefix, suffix string) (storage.ObjectInfo, bool) {
	candidates := matching(objects, prefix, suffix)
	if len(candidates) == 0 {
		return storage.ObjectInfo{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].UpdatedAt.Equal(candidates[j].UpdatedAt) {
			return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
		}
		return candidates[i].Key > candidates[j].Key
	})
	return candidates[0], true
}

func matching(objects []storage.ObjectInfo, prefix, suffix string) []storage.ObjectInfo {
	var out []storage.ObjectInfo
	for _, o := range objects {
		rest := strings.TrimPrefix(o.Key, prefix)
		if rest == o.Key || strings.Contains(rest, "/") || len(rest) <= len(suffix) || !strings.HasSuffix(rest, suffix) {
			continue
		}
		out = append(out, o)
	}
	return out
}

func objectName(key Key, objectKey, suffix string) string {
	return strings.TrimSuffix(strings.TrimPrefix(objectKey, key.Prefix()), suffix)
}

// Load resolves the latest index and chunk list for key. A name mismatch between the two
// is logged and tolerated.
func (s *Store) Load(ctx context.Context, key Key) (*Corpus, error) {
	sel, err := s.selectObjects(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, key, sel)
}

func (s *Store) load(ctx context.Context, key Key, sel *selection) (*Corpus, error) {
	indexName := objectName(key, sel.index.Key, indexSuffix)
	chunksName := objectName(key, sel.chunks.Key, chunksSuffix)
	if indexName != chunksName {
		s.logger.Warn("corpus index and chunks come from different generations",
			zap.String("index_key", sel.index.Key), zap.String("chunks_key", sel.chunks.Key))
	}

	raw, err := s.objects.Get(ctx, sel.index.Key)
	if err != nil {
		return nil, fmt.Errorf("get index: %w", err)
	}
	idx, err := vector.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode index %s: %w", sel.index.Key, err)
	}
	raw, err = s.objects.Get(ctx, sel.chunks.Key)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	var cf chunksFile
	if err := json.Unmarshal(raw, &cf); err != nil {
		return nil, errs.Parse("decode chunks %s: %v", sel.chunks.Key, err)
	}
	if idx.Len() != len(cf.Chunks) {
		s.logger.Warn("corpus index and chunk counts differ",
			zap.String("owner", key.Owner), zap.String("course", key.Course), zap.String("assignment", key.Assignment),
			zap.Int("vectors", idx.Len()), zap.Int("chunks", len(cf.Chunks)))
	}
	return &Corpus{
		Key:      key,
		Name:     indexName,
		Passages: models.FromTexts(cf.Chunks),
		Index:    idx,
	}, nil
}

// Description summarizes the generation Load would resolve.
type Description struct {
	Key          Key       `json:"key"`
	Name         string    `json:"name"`
	IndexKey     string    `json:"index_key"`
	ChunksKey    string    `json:"chunks_key"`
	NameMismatch bool      `json:"name_mismatch"`
	Passages     int       `json:"passages"`
	Vectors      int       `json:"vectors"`
	Kind         string    `json:"kind"`
	Dim          int       `json:"dim"`
	UpdatedAt    time.Time `json:"updated_at"`
	Generations  int       `json:"generations"`
}

// Describe loads the current generation for key and reports what was selected.
func (s *Store) Describe(ctx context.Context, key Key) (*Description, error) {
	sel, err := s.selectObjects(ctx, key)
	if err != nil {
		return nil, err
	}
	c, err := s.load(ctx, key, sel)
	if err != nil {
		return nil, err
	}
	generations := len(matching(sel.listed, key.Prefix(), indexSuffix))
	updated := sel.index.UpdatedAt
	if sel.chunks.UpdatedAt.After(updated) {
		updated = sel.chunks.UpdatedAt
	}
	return &Description{
		Key:          key,
		Name:         c.Name,
		IndexKey:     sel.index.Key,
		ChunksKey:    sel.chunks.Key,
		NameMismatch: objectName(key, sel.index.Key, indexSuffix) != objectName(key, sel.chunks.Key, chunksSuffix),
		Passages:     c.Len(),
		Vectors:      c.Index.Len(),
		Kind:         string(c.Index.Kind()),
		Dim:          c.Dim(),
		UpdatedAt:    updated,
		Generations:  generations,
	}, nil
}
