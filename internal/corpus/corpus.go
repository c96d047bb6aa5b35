// Package corpus persists and resolves the passage/index pair that backs retrieval for one
// course assignment.
package corpus

import (
	"strings"

	"github.com/hyperjump/saiten/internal/errs"
	"github.com/hyperjump/saiten/internal/models"
	"github.com/hyperjump/saiten/internal/vector"
)

const (
	indexSuffix  = "_index.bin"
	chunksSuffix = "_chunks.json"
)

// Key addresses a corpus in the object store.
type Key struct {
	Owner      string `json:"owner"`
	Course     string `json:"course"`
	Assignment string `json:"assignment"`
}

// Validate rejects empty components and components containing a path separator.
func (k Key) Validate() error {
	for _, part := range []struct{ name, value string }{
		{"owner", k.Owner}, {"course", k.Course}, {"assignment", k.Assignment},
	} {
		if strings.TrimSpace(part.value) == "" {
			return errs.InvalidInput("%s is required", part.name)
		}
		if strings.Contains(part.value, "/") {
			return errs.InvalidInput("%s must not contain '/'", part.name)
		}
	}
	return nil
}

// Prefix is the object-store prefix holding every object of this corpus.
func (k Key) Prefix() string {
	return k.Owner + "/" + k.Course + "/" + k.Assignment + "/"
}

func (k Key) String() string {
	return k.Owner + "/" + k.Course + "/" + k.Assignment
}

// IndexKey is the object key of the serialized index for name.
func (k Key) IndexKey(name string) string { return k.Prefix() + name + indexSuffix }

// ChunksKey is the object key of the chunk list for name.
func (k Key) ChunksKey(name string) string { return k.Prefix() + name + chunksSuffix }

// Corpus is an immutable passage set with the index built over it; vector i belongs to
// passage i.
type Corpus struct {
	Key      Key
	Name     string
	Passages []models.Passage
	Index    vector.Index
}

// Dim returns the index dimension, or 0 when there is no index.
func (c *Corpus) Dim() int {
	if c.Index == nil {
		return 0
	}
	return c.Index.Dim()
}

// Len returns the number of passages.
func (c *Corpus) Len() int { return len(c.Passages) }
