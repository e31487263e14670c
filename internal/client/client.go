package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"advision/internal/config"
)

// Client talks to the remote detection service. All calls are synchronous;
// idempotent reads retry on transport failures, the upload never does.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	healthTimeout time.Duration
	uploadTimeout time.Duration
	maxRetries    int
	retryBackoff  time.Duration
}

// UploadResult is the remote handle returned once the service accepted and
// analysed an upload.
type UploadResult struct {
	VideoID    string `json:"video_id"`
	ReportPath string `json:"report_path"`
}

func New(cfg config.ServiceConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		http:          &http.Client{},
		logger:        logger,
		healthTimeout: time.Duration(cfg.HealthTimeoutSec) * time.Second,
		uploadTimeout: time.Duration(cfg.UploadTimeoutSec) * time.Second,
		maxRetries:    cfg.MaxRetries,
		retryBackoff:  time.Second,
	}
}

// Probe checks service liveness within the health timeout. It returns the
// diagnostic reason alongside the verdict and never mutates any job state.
func (c *Client) Probe(ctx context.Context) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false, fmt.Sprintf("build health request: %v", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("health probe failed", zap.Error(err))
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		reason := fmt.Sprintf("health endpoint returned status %d", resp.StatusCode)
		c.logger.Warn("health probe rejected", zap.Int("status", resp.StatusCode))
		return false, reason
	}
	return true, ""
}

// Upload streams the file as a multipart POST and reports transfer progress
// through onProgress with monotonically non-decreasing percentages. The
// upload is not idempotent and is therefore never retried here; a failed
// upload requires explicit re-submission.
func (c *Client) Upload(ctx context.Context, path string, onProgress func(int)) (UploadResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return UploadResult{}, fmt.Errorf("open upload source: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return UploadResult{}, fmt.Errorf("stat upload source: %w", err)
	}
	filename := filepath.Base(path)

	counted := &countingReader{r: file, total: info.Size(), onProgress: onProgress}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, counted); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := mw.WriteField("filename", filename); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", pr)
	if err != nil {
		return UploadResult{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return UploadResult{}, &NetworkError{Op: "upload", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		return UploadResult{}, &ServerError{Status: resp.StatusCode, Detail: detailFrom(body)}
	}

	var res UploadResult
	if err := json.Unmarshal(body, &res); err != nil {
		return UploadResult{}, fmt.Errorf("decode upload response: %w", err)
	}
	if res.VideoID == "" {
		// Older service builds only return report_path.
		res.VideoID = reportStem(res.ReportPath)
	}

	c.logger.Info("upload accepted",
		zap.String("file", filename),
		zap.Int64("size", info.Size()),
		zap.String("video_id", res.VideoID),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// FetchLogs returns the latest log lines for the remote job. Callers replace
// their buffer wholesale with the result.
func (c *Client) FetchLogs(ctx context.Context, videoID string) ([]string, error) {
	u := c.baseURL + "/logs?video_id=" + url.QueryEscape(videoID)
	body, err := c.getWithRetry(ctx, "log fetch", u)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Logs []string `json:"logs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode logs response: %w", err)
	}
	return payload.Logs, nil
}

// FetchReport returns the raw text report for the resolved job.
func (c *Client) FetchReport(ctx context.Context, reportID string) (string, error) {
	u := c.baseURL + "/report/" + url.PathEscape(reportID)
	body, err := c.getWithRetry(ctx, "report fetch", u)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// getWithRetry performs an idempotent GET with up to maxRetries attempts.
// Backoff is attempt-number times the base delay. Only transport-class
// failures retry; an explicit server rejection returns immediately.
func (c *Client) getWithRetry(ctx context.Context, op, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		body, err := c.get(ctx, op, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !Retryable(err) {
			return nil, err
		}
		c.logger.Warn("transport failure, will retry",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == c.maxRetries {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * c.retryBackoff):
		case <-ctx.Done():
			return nil, &NetworkError{Op: op, Err: ctx.Err()}
		}
	}
	return nil, lastErr
}

func (c *Client) get(ctx context.Context, op, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return nil, &ServerError{Status: resp.StatusCode, Detail: detailFrom(body)}
	}
	return body, nil
}

// countingReader reports cumulative transfer percentage while the multipart
// writer drains the source file.
type countingReader struct {
	r          io.Reader
	total      int64
	read       int64
	lastPct    int
	onProgress func(int)
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.read += int64(n)
	if cr.onProgress != nil && cr.total > 0 {
		pct := int(cr.read * 100 / cr.total)
		if pct > 100 {
			pct = 100
		}
		if pct > cr.lastPct {
			cr.lastPct = pct
			cr.onProgress(pct)
		}
	}
	return n, err
}

func detailFrom(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return strings.TrimSpace(string(body))
}

func reportStem(reportPath string) string {
	base := filepath.Base(reportPath)
	return strings.TrimSuffix(base, "_report.txt")
}
