package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/harvest/internal/jobs"
	"github.com/FranksOps/harvest/internal/pipeline"
)

type fakeManager struct {
	startErr  error
	started   []jobs.Request
	progress  jobs.Progress
	artifacts map[string][]byte
	running   bool
	result    *pipeline.Result
}

func (f *fakeManager) Start(req jobs.Request) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, req)
	return "job-1", nil
}

func (f *fakeManager) Progress() jobs.Progress { return f.progress }

func (f *fakeManager) Artifact(name string) ([]byte, error) {
	b, ok := f.artifacts[name]
	if !ok {
		return nil, jobs.ErrArtifactNotFound
	}
	return b, nil
}

func (f *fakeManager) Cancel() bool             { return f.running }
func (f *fakeManager) Result() *pipeline.Result { return f.result }

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body
}

func postForm(h http.Handler, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/scrape", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestScrape_TextKeywords(t *testing.T) {
	m := &fakeManager{}
	h := NewServer(m, nil).Handler()

	rec := postForm(h, url.Values{"keywords": {"alpha\n\n  beta  \n"}, "max_pages": {"3"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	body := decode(t, rec)
	if body["status"] != "started" || body["job_id"] != "job-1" {
		t.Errorf("unexpected body %v", body)
	}
	if len(m.started) != 1 {
		t.Fatalf("expected one start, got %d", len(m.started))
	}
	got := m.started[0]
	if len(got.Keywords) != 2 || got.Keywords[0] != "alpha" || got.Keywords[1] != "beta" {
		t.Errorf("unexpected keywords %q", got.Keywords)
	}
	if got.MaxPages != 3 {
		t.Errorf("expected max pages 3, got %d", got.MaxPages)
	}
}

func TestScrape_FileUploads(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("keywords", "ignored")
	fw, _ := mw.CreateFormFile("keywords_file", "kw.csv")
	_, _ = fw.Write([]byte("Id,keywords\n1,plumber delhi\n2,\n3,electrician\n"))
	fw, _ = mw.CreateFormFile("old_urls_file", "old.csv")
	_, _ = fw.Write([]byte("Domain\nexample.com\nhttps://www.other.org/page\n"))
	_ = mw.Close()

	m := &fakeManager{}
	h := NewServer(m, nil).Handler()
	req := httptest.NewRequest(http.MethodPost, "/api/scrape", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	got := m.started[0]
	if strings.Join(got.Keywords, "|") != "plumber delhi|electrician" {
		t.Errorf("file keywords should win over the text field, got %q", got.Keywords)
	}
	if len(got.OldURLs) != 2 {
		t.Errorf("expected 2 old urls, got %q", got.OldURLs)
	}
	if got.MaxPages != 0 {
		t.Errorf("omitted max_pages should defer to config, got %d", got.MaxPages)
	}
}

func TestScrape_BadUpload(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("keywords_file", "kw.pdf")
	_, _ = fw.Write([]byte("%PDF"))
	_ = mw.Close()

	m := &fakeManager{}
	req := httptest.NewRequest(http.MethodPost, "/api/scrape", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	NewServer(m, nil).Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(m.started) != 0 {
		t.Error("bad upload must not start a job")
	}
}

func TestScrape_Errors(t *testing.T) {
	tests := []struct {
		name   string
		form   url.Values
		err    error
		status int
		msg    string
	}{
		{"no keywords", url.Values{"keywords": {"  "}}, jobs.ErrNoKeywords, http.StatusBadRequest, "No keywords provided"},
		{"running", url.Values{"keywords": {"a"}}, jobs.ErrJobRunning, http.StatusConflict, "A scrape is already running"},
		{"credentials", url.Values{"keywords": {"a"}}, jobs.ErrMissingCredentials, http.StatusBadRequest, ""},
		{"bad max pages", url.Values{"keywords": {"a"}, "max_pages": {"zero"}}, nil, http.StatusBadRequest, "max_pages must be between 1 and 20"},
		{"max pages too high", url.Values{"keywords": {"a"}, "max_pages": {"500"}}, nil, http.StatusBadRequest, "max_pages must be between 1 and 20"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer(&fakeManager{startErr: tt.err}, nil).Handler()
			rec := postForm(h, tt.form)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			body := decode(t, rec)
			if body["error"] == nil || body["error"] == "" {
				t.Fatalf("expected error body, got %v", body)
			}
			if tt.msg != "" && body["error"] != tt.msg {
				t.Errorf("expected %q, got %q", tt.msg, body["error"])
			}
		})
	}
}

func TestProgress(t *testing.T) {
	now := time.Now()
	m := &fakeManager{progress: jobs.Progress{
		JobID:          "job-1",
		Status:         jobs.StatusRunning,
		CurrentKeyword: "alpha",
		KeywordIndex:   1,
		TotalKeywords:  2,
		ResultsFound:   7,
		Message:        "Scraping alpha",
		StartedAt:      &now,
	}}
	rec := httptest.NewRecorder()
	NewServer(m, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/progress", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decode(t, rec)
	for _, key := range []string{"status", "current_keyword", "keyword_index", "total_keywords", "results_found", "message"} {
		if _, ok := body[key]; !ok {
			t.Errorf("missing key %q in %v", key, body)
		}
	}
	if body["results_found"] != float64(7) || body["status"] != "running" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestDownload(t *testing.T) {
	m := &fakeManager{artifacts: map[string][]byte{"harvest_results_1.csv": []byte("Domain,URL,Title\n")}}
	h := NewServer(m, nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/download/harvest_results_1.csv", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") || !strings.Contains(cd, "harvest_results_1.csv") {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	if rec.Body.String() != "Domain,URL,Title\n" {
		t.Errorf("unexpected body %q", rec.Body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/download/missing.csv", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := decode(t, rec); body["error"] != "File not found" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestCancel(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer(&fakeManager{}, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cancel", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 without a job, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewServer(&fakeManager{running: true}, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/cancel", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestSummary(t *testing.T) {
	h := NewServer(&fakeManager{}, nil).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/summary", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any job, got %d", rec.Code)
	}

	start := time.Now().Add(-time.Second)
	m := &fakeManager{result: &pipeline.Result{
		JobID:    "job-1",
		Artifact: "harvest_results_1.csv",
		Keywords: []pipeline.KeywordStat{{Keyword: "alpha", Pages: 1, Found: 3, Stop: pipeline.StopLast}},
		RawFound: 3,
		Unique:   2,
		Started:  start,
		Finished: time.Now(),
	}}
	h = NewServer(m, nil).Handler()

	for format, want := range map[string]string{
		"":     "application/json",
		"json": "application/json",
		"text": "text/plain",
		"html": "text/html",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/summary?format="+format, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("format %q: expected 200, got %d", format, rec.Code)
			continue
		}
		if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, want) {
			t.Errorf("format %q: expected %s, got %s", format, want, ct)
		}
		if !strings.Contains(rec.Body.String(), "job-1") {
			t.Errorf("format %q: summary should mention the job id", format)
		}
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/summary?format=xml", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown format, got %d", rec.Code)
	}
}

func TestMethodRouting(t *testing.T) {
	h := NewServer(&fakeManager{}, nil).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scrape", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
