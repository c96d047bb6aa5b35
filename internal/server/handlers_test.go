package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/saiten/internal/config"
	"github.com/hyperjump/saiten/internal/corpus"
	"github.com/hyperjump/saiten/internal/errs"
	"github.com/hyperjump/saiten/internal/grading"
	"github.com/hyperjump/saiten/internal/indexer"
	"github.com/hyperjump/saiten/internal/metrics"
	"github.com/hyperjump/saiten/internal/models"
	"github.com/hyperjump/saiten/internal/oracle"
	"github.com/hyperjump/saiten/internal/retrieval"
)

type fakeIngester struct {
	got     indexer.IngestRequest
	gotPath string
	err     error
}

func (f *fakeIngester) Ingest(_ context.Context, req indexer.IngestRequest) (*indexer.IngestResult, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &indexer.IngestResult{Key: req.Key, Name: req.Name, Passages: 3, Kind: "exact"}, nil
}

func (f *fakeIngester) IngestFile(_ context.Context, key corpus.Key, path string, _ []string) (*indexer.IngestResult, error) {
	f.gotPath = path
	if f.err != nil {
		return nil, f.err
	}
	return &indexer.IngestResult{Key: key, Name: "notes", Passages: 1, Kind: "exact"}, nil
}

type fakeRetriever struct {
	got retrieval.Request
	err error
}

func (f *fakeRetriever) Retrieve(_ context.Context, req retrieval.Request) (*retrieval.Result, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &retrieval.Result{
		Passages:   []retrieval.ScoredPassage{{Passage: models.Passage{Text: "Cells are the basic unit of life.", SourceOrder: 0}, Distance: 0.2}},
		TotalBytes: 33,
	}, nil
}

type fakeDescriber struct{}

func (fakeDescriber) Describe(_ context.Context, key corpus.Key) (*corpus.Description, error) {
	if key.Assignment == "missing" {
		return nil, errs.NotFound("no corpus for %s", key)
	}
	return &corpus.Description{Key: key, Name: "notes", Passages: 4, Vectors: 4, Kind: "exact", Dim: 16}, nil
}

func testServer(t *testing.T) (*Server, *fakeIngester, *fakeRetriever) {
	t.Helper()
	ing := &fakeIngester{}
	ret := &fakeRetriever{}
	grader := grading.NewOrchestrator(ret, oracle.NewMock(), grading.DefaultOptions(),
		grading.WithTracker(grading.NewTracker(0)))
	srv := NewServer(Deps{
		Ingester:  ing,
		Retriever: ret,
		Grader:    grader,
		Corpora:   fakeDescriber{},
		Metrics:   metrics.New(),
	}, &config.ServerConfig{MaxUploadBytes: 1 << 20}, nil)
	return srv, ing, ret
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var out map[string]string
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out["error"]
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := testServer(t)
	w := do(t, srv.Handler(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("health: %d %s", w.Code, w.Body.String())
	}
}

func TestHandleMetrics(t *testing.T) {
	srv, _, _ := testServer(t)
	w := do(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "saiten_") {
		t.Errorf("metrics: %d", w.Code)
	}
}

func TestHandleIndex_Content(t *testing.T) {
	srv, ing, _ := testServer(t)
	w := do(t, srv.Handler(), http.MethodPost, "/api/v1/index", map[string]string{
		"owner": "prof", "course": "bio101", "assignment": "essay1",
		"filename": "lecture.md",
		"content":  base64.StdEncoding.EncodeToString([]byte("# Cells\nThey divide.")),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if ing.got.Key != (corpus.Key{Owner: "prof", Course: "bio101", Assignment: "essay1"}) {
		t.Errorf("key = %+v", ing.got.Key)
	}
	if ing.got.Name != "lecture.md" || ing.got.Ext != ".md" || string(ing.got.Content) != "# Cells\nThey divide." {
		t.Errorf("ingest request = %+v", ing.got)
	}
	var res indexer.IngestResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Passages != 3 || res.Kind != "exact" {
		t.Errorf("result = %+v", res)
	}
}

func TestHandleIndex_Path(t *testing.T) {
	inbox := t.TempDir()
	doc := filepath.Join(inbox, "prof", "bio101", "essay1", "notes.pdf")
	if err := os.MkdirAll(filepath.Dir(doc), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(doc, []byte("%PDF"), 0600); err != nil {
		t.Fatal(err)
	}
	want, err := filepath.EvalSymlinks(doc)
	if err != nil {
		t.Fatal(err)
	}
	outside := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(inbox, "prof", "bio101", "essay1", "link.txt")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		inbox    string
		path     string
		want     int
		wantPath string
	}{
		{"file in inbox", inbox, doc, http.StatusCreated, want},
		{"relative to inbox", inbox, "prof/bio101/essay1/notes.pdf", http.StatusCreated, want},
		{"absolute outside inbox", inbox, "/etc/passwd", http.StatusBadRequest, ""},
		{"dot-dot escape", inbox, filepath.Join(inbox, "..", "secret.txt"), http.StatusBadRequest, ""},
		{"relative escape", inbox, "../../etc/passwd", http.StatusBadRequest, ""},
		{"symlink out of inbox", inbox, link, http.StatusBadRequest, ""},
		{"inbox root itself", inbox, inbox, http.StatusBadRequest, ""},
		{"no inbox configured", "", doc, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, ing, _ := testServer(t)
			srv.deps.Inbox = tt.inbox
			w := do(t, srv.Handler(), http.MethodPost, "/api/v1/index", map[string]string{
				"owner": "prof", "course": "bio101", "assignment": "essay1", "path": tt.path,
			})
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			if ing.gotPath != tt.wantPath {
				t.Errorf("ingested path = %q, want %q", ing.gotPath, tt.wantPath)
			}
		})
	}
}

func TestHandleIndex_Errors(t *testing.T) {
	srv, ing, _ := testServer(t)
	h := srv.Handler()
	if w := do(t, h, http.MethodPost, "/api/v1/index", `{not json`); w.Code != http.StatusBadRequest {
		t.Errorf("bad json: %d", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/index", map[string]string{"content": "%%%"}); w.Code != http.StatusBadRequest {
		t.Errorf("bad base64: %d", w.Code)
	}
	ing.err = errs.InvalidInput("document contains no text")
	w := do(t, h, http.MethodPost, "/api/v1/index", map[string]string{"name": "x", "content": ""})
	if w.Code != http.StatusBadRequest || !strings.Contains(errorBody(t, w), "no text") {
		t.Errorf("invalid input: %d", w.Code)
	}
	ing.err = errs.Upstream(nil, "embedding service down")
	if w := do(t, h, http.MethodPost, "/api/v1/index", map[string]string{"name": "x", "content": "eA=="}); w.Code != http.StatusBadGateway {
		t.Errorf("upstream: %d", w.Code)
	}
}

func TestHandleIndex_TooLarge(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.config.MaxUploadBytes = 16
	w := do(t, srv.Handler(), http.MethodPost, "/api/v1/index", map[string]string{"content": strings.Repeat("A", 64)})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status %d", w.Code)
	}
}

func TestHandleRetrieve(t *testing.T) {
	srv, _, ret := testServer(t)
	w := do(t, srv.Handler(), http.MethodPost, "/api/v1/retrieve",
		`{"query":"what is a cell","owner":"prof","course":"bio101","assignment":"essay1","k":3,"distance_threshold":0.5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if ret.got.K != 3 || ret.got.DistanceThreshold == nil || *ret.got.DistanceThreshold != 0.5 || ret.got.MaxTotalLength != nil {
		t.Errorf("request = %+v", ret.got)
	}
	if ret.got.Key.Course != "bio101" || ret.got.Query != "what is a cell" {
		t.Errorf("request = %+v", ret.got)
	}
	var out retrieveResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Context) != 1 || out.Context[0] != "Cells are the basic unit of life." || out.TotalBytes != 33 {
		t.Errorf("response = %+v", out)
	}
}

func TestHandleRetrieve_ErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errs.NotFound("no corpus"), http.StatusNotFound},
		{errs.InvalidInput("query is required"), http.StatusBadRequest},
		{errs.Upstream(nil, "storage"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		srv, _, ret := testServer(t)
		ret.err = tt.err
		w := do(t, srv.Handler(), http.MethodPost, "/api/v1/retrieve", `{"query":"q"}`)
		if w.Code != tt.want {
			t.Errorf("%v: status %d, want %d", tt.err, w.Code, tt.want)
		}
		if got := errorBody(t, w); got != tt.err.Error() {
			t.Errorf("error body = %q", got)
		}
	}
}

func gradeBody(async bool) map[string]any {
	return map[string]any{
		"owner": "prof", "course": "bio101", "assignment": "essay1",
		"essays":           []string{"Cells divide.", "Plants photosynthesize."},
		"question":         "Explain cells.",
		"criteria_prompts": map[string]string{"clarity": "Q {{question}} E {{essay}} C {{rag_context}}"},
		"async":            async,
	}
}

func TestHandleGrade_Sync(t *testing.T) {
	srv, _, _ := testServer(t)
	w := do(t, srv.Handler(), http.MethodPost, "/api/v1/grade", gradeBody(false))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var out gradeResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.TotalEssays != 2 || out.Completed != 2 || len(out.Results) != 2 || out.JobID == "" {
		t.Errorf("response = %+v", out)
	}
	for _, r := range out.Results {
		if r.Results["clarity"].Feedback != "Automatically generated feedback." {
			t.Errorf("essay %d = %+v", r.Index, r.Results)
		}
	}
}

func TestHandleGrade_Invalid(t *testing.T) {
	srv, _, _ := testServer(t)
	body := gradeBody(false)
	delete(body, "essays")
	if w := do(t, srv.Handler(), http.MethodPost, "/api/v1/grade", body); w.Code != http.StatusBadRequest {
		t.Errorf("status %d", w.Code)
	}
}

func TestHandleGrade_AsyncAndJobStatus(t *testing.T) {
	srv, _, _ := testServer(t)
	h := srv.Handler()
	w := do(t, h, http.MethodPost, "/api/v1/grade", gradeBody(true))
	if w.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var accepted map[string]string
	if err := json.NewDecoder(w.Body).Decode(&accepted); err != nil {
		t.Fatal(err)
	}
	id := accepted["job_id"]
	if id == "" {
		t.Fatal("missing job_id")
	}

	deadline := time.Now().Add(5 * time.Second)
	var st grading.JobStatus
	for {
		w := do(t, h, http.MethodGet, "/api/v1/jobs/"+id, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("job status %d", w.Code)
		}
		if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
			t.Fatal(err)
		}
		if st.State == grading.StateDone || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st.State != grading.StateDone || st.Progress.Completed != 2 || st.Result == nil {
		t.Errorf("final status = %+v", st)
	}

	if w := do(t, h, http.MethodGet, "/api/v1/jobs/unknown", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown job: %d", w.Code)
	}
}

func TestHandleCorpus(t *testing.T) {
	srv, _, _ := testServer(t)
	h := srv.Handler()
	w := do(t, h, http.MethodGet, "/api/v1/corpora/prof/bio101/essay1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var desc corpus.Description
	if err := json.NewDecoder(w.Body).Decode(&desc); err != nil {
		t.Fatal(err)
	}
	if desc.Key.Owner != "prof" || desc.Passages != 4 || desc.Dim != 16 {
		t.Errorf("description = %+v", desc)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/corpora/prof/bio101/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing corpus: %d", w.Code)
	}
}
