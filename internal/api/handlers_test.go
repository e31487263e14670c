package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"advision/internal/report"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(nil).RegisterRoutes(router)
	return router
}

func doUpload(t *testing.T, router *gin.Engine) (videoID, reportPath string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "clip.mp4")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("fake video bytes"))
	writer.WriteField("filename", "clip.mp4")
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("upload status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		VideoID    string `json:"video_id"`
		ReportPath string `json:"report_path"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	if resp.VideoID == "" || resp.ReportPath == "" {
		t.Fatalf("incomplete upload response: %+v", resp)
	}
	return resp.VideoID, resp.ReportPath
}

func TestHealth(t *testing.T) {
	router := newTestRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("health status %d", w.Code)
	}
}

func TestUploadWithoutFile(t *testing.T) {
	router := newTestRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/upload", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "detail") {
		t.Fatalf("error body lacks detail field: %s", w.Body.String())
	}
}

func TestUploadReportRoundTrip(t *testing.T) {
	router := newTestRouter()
	videoID, _ := doUpload(t, router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/report/"+videoID, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("report status %d", w.Code)
	}

	// The fabricated report must round-trip through the production grammar.
	segments := report.Parse(w.Body.String(), "clip.mp4")
	if len(segments) == 0 {
		t.Fatal("fabricated report produced no segments")
	}
	for _, seg := range segments[1:] { // first block is the heading
		if seg.DurationSeconds <= 0 {
			t.Fatalf("segment without parsed duration: %q", seg.Text)
		}
		if !strings.Contains(seg.Text, "clip.mp4") {
			t.Fatalf("identifier not normalized: %q", seg.Text)
		}
	}
}

func TestReportNotFound(t *testing.T) {
	router := newTestRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/report/unknown", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestLogsAccumulate(t *testing.T) {
	router := newTestRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/logs", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("logs status %d", w.Code)
	}
	var before struct {
		Logs []string `json:"logs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &before); err != nil {
		t.Fatalf("decode logs: %v", err)
	}

	videoID, _ := doUpload(t, router)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/logs?video_id="+videoID, nil))
	var after struct {
		Logs []string `json:"logs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &after); err != nil {
		t.Fatalf("decode logs: %v", err)
	}
	if len(after.Logs) <= len(before.Logs) {
		t.Fatalf("upload produced no log lines: %d -> %d", len(before.Logs), len(after.Logs))
	}
}
