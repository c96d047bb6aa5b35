package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/saiten/internal/config"
	"github.com/hyperjump/saiten/internal/corpus"
	"github.com/hyperjump/saiten/internal/errs"
	"github.com/hyperjump/saiten/internal/grading"
	"github.com/hyperjump/saiten/internal/indexer"
	"github.com/hyperjump/saiten/internal/retrieval"
)

// keyFields is the corpus key as it appears flattened in request bodies.
type keyFields struct {
	Owner      string `json:"owner"`
	Course     string `json:"course"`
	Assignment string `json:"assignment"`
}

func (k keyFields) key() corpus.Key {
	return corpus.Key{Owner: k.Owner, Course: k.Course, Assignment: k.Assignment}
}

type indexRequest struct {
	keyFields
	Name     string `json:"name"`
	Filename string `json:"filename"`
	Content  string `json:"content"` // base64
	Path     string `json:"path"`
}

type retrieveRequest struct {
	keyFields
	Query             string   `json:"query"`
	K                 int      `json:"k"`
	DistanceThreshold *float64 `json:"distance_threshold,omitempty"`
	MaxTotalLength    *int     `json:"max_total_length,omitempty"`
}

type retrieveResponse struct {
	Context    []string                  `json:"context"`
	Passages   []retrieval.ScoredPassage `json:"passages"`
	TotalBytes int                       `json:"total_bytes"`
	Escalated  bool                      `json:"escalated"`
}

type gradeRequest struct {
	keyFields
	Essays           []string          `json:"essays"`
	Question         string            `json:"question"`
	CriteriaPrompts  map[string]string `json:"criteria_prompts"`
	ConcurrencyLimit int               `json:"concurrency_limit,omitempty"`
	Async            bool              `json:"async,omitempty"`
}

type gradeResponse struct {
	JobID       string                 `json:"job_id"`
	Results     []grading.EssayOutcome `json:"results"`
	TotalEssays int                    `json:"total_essays"`
	Completed   int                    `json:"completed"`
	Failed      int                    `json:"failed"`
	TotalScore  float64                `json:"total_score"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if !s.decode(w, r, &req) {
		return
	}
	key := req.key()
	s.logger.Debug("index request", zap.String("owner", key.Owner), zap.String("course", key.Course),
		zap.String("assignment", key.Assignment), zap.String("name", req.Name), zap.String("path", req.Path))

	if req.Path != "" {
		path, err := inboxPath(s.deps.Inbox, req.Path)
		if err != nil {
			s.respondErr(w, "indexing failed", err)
			return
		}
		res, err := s.deps.Ingester.IngestFile(r.Context(), key, path, s.deps.AllowedExts)
		if err != nil {
			s.respondErr(w, "indexing failed", err)
			return
		}
		s.respondJSON(w, http.StatusCreated, res)
		return
	}

	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "content must be base64")
		return
	}
	name := req.Name
	if name == "" {
		name = req.Filename
	}
	res, err := s.deps.Ingester.Ingest(r.Context(), indexIngestRequest(key, name, req.Filename, content))
	if err != nil {
		s.respondErr(w, "indexing failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, res)
}

// inboxPath resolves path against inbox and rejects anything that ends up outside it,
// symlinks included. Relative paths are taken from the inbox root.
func inboxPath(inbox, path string) (string, error) {
	if inbox == "" {
		return "", errs.InvalidInput("path ingestion requires watch.inbox to be configured")
	}
	root, err := filepath.Abs(inbox)
	if err != nil {
		return "", fmt.Errorf("inbox path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	abs := filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errs.InvalidInput("path %q is outside the inbox", path)
	}
	return abs, nil
}

// indexIngestRequest takes the extension from filename, falling back to name.
func indexIngestRequest(key corpus.Key, name, filename string, content []byte) indexer.IngestRequest {
	ext := filepath.Ext(filename)
	if ext == "" {
		ext = filepath.Ext(name)
	}
	return indexer.IngestRequest{Key: key, Name: name, Content: content, Ext: ext}
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.logger.Debug("retrieve request", zap.String("query", req.Query), zap.Int("k", req.K))
	res, err := s.deps.Retriever.Retrieve(r.Context(), retrieval.Request{
		Query:             req.Query,
		Key:               req.key(),
		K:                 req.K,
		DistanceThreshold: req.DistanceThreshold,
		MaxTotalLength:    req.MaxTotalLength,
	})
	if err != nil {
		s.respondErr(w, "retrieval failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, retrieveResponse{
		Context:    res.Texts(),
		Passages:   res.Passages,
		TotalBytes: res.TotalBytes,
		Escalated:  res.Escalated,
	})
}

func (s *Server) handleGrade(w http.ResponseWriter, r *http.Request) {
	var req gradeRequest
	if !s.decode(w, r, &req) {
		return
	}
	job := &grading.Job{
		Key:              req.key(),
		Essays:           req.Essays,
		Question:         req.Question,
		CriteriaPrompts:  req.CriteriaPrompts,
		ConcurrencyLimit: req.ConcurrencyLimit,
	}
	s.logger.Debug("grade request", zap.Int("essays", len(req.Essays)), zap.Int("criteria", len(req.CriteriaPrompts)), zap.Bool("async", req.Async))

	if req.Async {
		if s.deps.Grader.Tracker() == nil {
			s.respondError(w, http.StatusNotImplemented, "async grading not enabled")
			return
		}
		id, err := s.deps.Grader.Submit(r.Context(), job)
		if err != nil {
			s.respondErr(w, "grading failed", err)
			return
		}
		s.respondJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": grading.StateRunning})
		return
	}

	res, err := s.deps.Grader.GradeBatch(r.Context(), job)
	if err != nil {
		s.respondErr(w, "grading failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, gradeResponse{
		JobID:       res.JobID,
		Results:     res.Outcomes,
		TotalEssays: res.TotalEssays,
		Completed:   res.Completed,
		Failed:      res.Failed,
		TotalScore:  res.TotalScore,
	})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	tracker := s.deps.Grader.Tracker()
	if tracker == nil {
		s.respondError(w, http.StatusNotImplemented, "job tracking not enabled")
		return
	}
	st, err := tracker.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, "job lookup failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleCorpus(w http.ResponseWriter, r *http.Request) {
	key := corpus.Key{
		Owner:      chi.URLParam(r, "owner"),
		Course:     chi.URLParam(r, "course"),
		Assignment: chi.URLParam(r, "assignment"),
	}
	desc, err := s.deps.Corpora.Describe(r.Context(), key)
	if err != nil {
		s.respondErr(w, "describe corpus failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, desc)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := r.Body
	if limit := s.maxUpload(); limit > 0 {
		body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) maxUpload() int64 {
	if s.config.MaxUploadBytes > 0 {
		return s.config.MaxUploadBytes
	}
	var d config.Config
	config.ApplyDefaults(&d)
	return d.Server.MaxUploadBytes
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps err to its status via errs.HTTPStatus. Server-side failures are logged at
// error level, client errors at debug.
func (s *Server) respondErr(w http.ResponseWriter, msg string, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}
