package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"advision/internal/client"
	"advision/internal/config"
	"advision/internal/history"
	"advision/internal/models"
	"advision/internal/report"
)

// MaxUploadBytes is the validation ceiling for a submission.
const MaxUploadBytes = 500 << 20

// Service is the remote-service surface the orchestrator drives.
type Service interface {
	Probe(ctx context.Context) (bool, string)
	Upload(ctx context.Context, path string, onProgress func(int)) (client.UploadResult, error)
	FetchLogs(ctx context.Context, videoID string) ([]string, error)
	FetchReport(ctx context.Context, reportID string) (string, error)
}

// History is the persistence capability injected into the orchestrator: the
// session log sink plus the job-history list rewritten on every mutation.
type History interface {
	Append(ctx context.Context, level models.LogLevel, message string) error
	SaveJob(ctx context.Context, rec history.JobRecord) error
}

// Renderer turns a parsed document into the report artifact.
type Renderer interface {
	Build(doc models.ReportDocument, fileSize int64) ([]byte, error)
}

// Callbacks receive job updates. All fields are optional; they are invoked
// without the orchestrator lock held.
type Callbacks struct {
	OnStatus             func(models.JobStatus)
	OnUploadProgress     func(int)
	OnProcessingProgress func(int)
	OnLogs               func([]string)
	OnAdvisory           func(string)
}

// Result is the outcome of a successful submission. Document is always
// present; Artifact may be nil when rendering degraded past recovery, which
// never fails the job itself.
type Result struct {
	Job      models.UploadJob
	Document models.ReportDocument
	Artifact []byte
}

// Orchestrator owns one UploadJob at a time: submission, the processing
// monitor, report retrieval and rendering. A new submission supersedes the
// previous job; late timer ticks and responses from a superseded job are
// ignored by version check rather than aborted.
type Orchestrator struct {
	svc      Service
	hist     History
	renderer Renderer
	cb       Callbacks
	logger   *zap.Logger

	tick     time.Duration
	budget   time.Duration
	watchdog time.Duration

	mu           sync.Mutex
	job          *models.UploadJob
	version      int64
	procProgress float64
	logBuffer    []string
	mon          *monitor
}

func New(svc Service, hist History, renderer Renderer, cfg config.MonitorConfig, cb Callbacks, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		svc:      svc,
		hist:     hist,
		renderer: renderer,
		cb:       cb,
		logger:   logger,
		tick:     time.Duration(cfg.TickMillis) * time.Millisecond,
		budget:   time.Duration(cfg.ProcessingBudgetSec) * time.Second,
		watchdog: time.Duration(cfg.WatchdogSec) * time.Second,
	}
}

// Submit runs the full pipeline for one file: validation, health gate,
// upload, processing monitor, report fetch, parse and render. It blocks
// until the job resolves and returns the terminal error classified per the
// taxonomy in package client.
func (o *Orchestrator) Submit(ctx context.Context, filePath string) (*Result, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, &client.ValidationError{Reason: fmt.Sprintf("file not accessible: %v", err)}
	}
	if info.IsDir() {
		return nil, &client.ValidationError{Reason: "path is a directory"}
	}
	if info.Size() > MaxUploadBytes {
		return nil, &client.ValidationError{Reason: fmt.Sprintf("file exceeds %d MiB limit", MaxUploadBytes>>20)}
	}

	filename := filepath.Base(filePath)
	job := &models.UploadJob{
		ID:        uuid.New().String(),
		FileName:  filename,
		FileSize:  info.Size(),
		MimeType:  mimeFromExt(filename),
		Status:    models.StatusCheckingHealth,
		CreatedAt: time.Now(),
	}

	o.mu.Lock()
	o.stopMonitorLocked()
	o.version++
	v := o.version
	o.job = job
	o.procProgress = 0
	o.logBuffer = nil
	o.mu.Unlock()

	o.notifyStatus(models.StatusCheckingHealth)
	o.recordJob(ctx, v)
	o.sessionLog(ctx, models.LevelInfo, fmt.Sprintf("submitting %s (%d bytes)", filename, info.Size()))

	ok, reason := o.svc.Probe(ctx)
	if !ok {
		err := fmt.Errorf("%w: %s", client.ErrServiceUnavailable, reason)
		o.fail(ctx, v, err)
		return nil, err
	}

	o.setStatus(ctx, v, models.StatusUploading)

	res, err := o.svc.Upload(ctx, filePath, func(pct int) {
		o.onUploadProgress(ctx, v, pct)
	})
	if err != nil {
		o.fail(ctx, v, err)
		return nil, err
	}

	if !o.resolveProcessing(ctx, v, res) {
		return nil, errors.New("job superseded")
	}

	raw, err := o.svc.FetchReport(ctx, res.VideoID)
	if err != nil {
		// The upload itself succeeded; distinguish a missing response from
		// an explicit rejection in the surfaced detail.
		o.fail(ctx, v, err)
		return nil, err
	}

	segments := report.Parse(raw, o.snapshotFileName(v))
	doc := report.Summarize(segments, filename, time.Now())

	var artifact []byte
	if o.renderer != nil {
		artifact, err = o.renderer.Build(doc, info.Size())
		if err != nil {
			// Rendering failures degrade; the parsed document survives.
			o.logger.Warn("report rendering failed, returning document only", zap.Error(err))
			o.sessionLog(ctx, models.LevelWarn, "report rendering failed: "+err.Error())
			artifact = nil
		}
	}

	jobCopy, okJob := o.succeed(ctx, v)
	if !okJob {
		return nil, errors.New("job superseded")
	}
	return &Result{Job: jobCopy, Document: doc, Artifact: artifact}, nil
}

// Clear cancels any in-flight monitor and resets the active job. Pending
// responses from the cleared job are ignored by version check.
func (o *Orchestrator) Clear(ctx context.Context) {
	o.mu.Lock()
	o.stopMonitorLocked()
	o.version++
	o.job = nil
	o.procProgress = 0
	o.logBuffer = nil
	o.mu.Unlock()
	o.sessionLog(ctx, models.LevelInfo, "job cleared")
}

// Job returns a snapshot of the active job, or false when none exists.
func (o *Orchestrator) Job() (models.UploadJob, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.job == nil {
		return models.UploadJob{}, false
	}
	return *o.job, true
}

// Logs returns a copy of the live log buffer.
func (o *Orchestrator) Logs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.logBuffer))
	copy(out, o.logBuffer)
	return out
}

func (o *Orchestrator) onUploadProgress(ctx context.Context, v int64, pct int) {
	o.mu.Lock()
	if o.version != v || o.job == nil || o.job.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	if pct < o.job.UploadProgress {
		// Transfer progress never moves backwards.
		o.mu.Unlock()
		return
	}
	o.job.UploadProgress = pct
	startMonitor := pct >= 100 && o.job.Status == models.StatusUploading
	if startMonitor {
		o.job.Status = models.StatusProcessing
		o.startMonitorLocked(v)
	}
	o.mu.Unlock()

	if o.cb.OnUploadProgress != nil {
		o.cb.OnUploadProgress(pct)
	}
	if startMonitor {
		o.notifyStatus(models.StatusProcessing)
		o.recordJob(ctx, v)
		o.sessionLog(ctx, models.LevelInfo, "upload transfer complete, awaiting analysis")
	}
}

// resolveProcessing moves the job out of Processing after the upload
// response arrived: the monitor is torn down, the heuristic progress is
// pinned to exactly 100 once, and the remote handle is recorded.
func (o *Orchestrator) resolveProcessing(ctx context.Context, v int64, res client.UploadResult) bool {
	o.mu.Lock()
	if o.version != v || o.job == nil || o.job.Status.Terminal() {
		o.mu.Unlock()
		return false
	}
	o.stopMonitorLocked()
	wasProcessing := o.job.Status == models.StatusProcessing
	if wasProcessing {
		o.job.ProcessingProgress = 100
	}
	o.job.Status = models.StatusFetchingReport
	o.job.RemoteJobID = res.VideoID
	o.job.ReportRef = res.ReportPath
	o.mu.Unlock()

	if wasProcessing && o.cb.OnProcessingProgress != nil {
		o.cb.OnProcessingProgress(100)
	}
	o.notifyStatus(models.StatusFetchingReport)
	o.recordJob(ctx, v)
	o.sessionLog(ctx, models.LevelInfo, "analysis finished, fetching report "+res.ReportPath)
	return true
}

func (o *Orchestrator) succeed(ctx context.Context, v int64) (models.UploadJob, bool) {
	o.mu.Lock()
	if o.version != v || o.job == nil {
		o.mu.Unlock()
		return models.UploadJob{}, false
	}
	now := time.Now()
	o.job.Status = models.StatusSucceeded
	o.job.ResolvedAt = &now
	jobCopy := *o.job
	o.mu.Unlock()

	o.notifyStatus(models.StatusSucceeded)
	o.recordJob(ctx, v)
	o.sessionLog(ctx, models.LevelInfo, "job succeeded")
	return jobCopy, true
}

// fail resolves the job into the Failed state with a user-facing detail that
// distinguishes "no response yet, processing may still be ongoing" from an
// explicit rejection. Monitor teardown happens before anything else.
func (o *Orchestrator) fail(ctx context.Context, v int64, cause error) {
	detail := FailureDetail(cause)

	o.mu.Lock()
	if o.version != v || o.job == nil || o.job.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	o.stopMonitorLocked()
	if o.job.Status == models.StatusProcessing {
		o.job.ProcessingProgress = 100
	}
	now := time.Now()
	o.job.Status = models.StatusFailed
	o.job.ResolvedAt = &now
	o.job.ErrorDetail = detail
	o.mu.Unlock()

	o.notifyStatus(models.StatusFailed)
	o.recordJob(ctx, v)
	o.sessionLog(ctx, models.LevelError, detail)
}

// FailureDetail renders the taxonomy into the message shown to the user.
func FailureDetail(err error) string {
	var ve *client.ValidationError
	var se *client.ServerError
	var ne *client.NetworkError
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.Is(err, client.ErrServiceUnavailable):
		return err.Error()
	case errors.As(err, &se):
		return fmt.Sprintf("the service rejected the request: %s", se.Detail)
	case errors.As(err, &ne):
		return "no response from the service yet; processing may still be ongoing. " +
			"Check the service and resubmit if needed."
	default:
		return err.Error()
	}
}

func (o *Orchestrator) setStatus(ctx context.Context, v int64, status models.JobStatus) {
	o.mu.Lock()
	if o.version != v || o.job == nil || o.job.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	o.job.Status = status
	o.mu.Unlock()
	o.notifyStatus(status)
	o.recordJob(ctx, v)
}

func (o *Orchestrator) notifyStatus(status models.JobStatus) {
	if o.cb.OnStatus != nil {
		o.cb.OnStatus(status)
	}
}

// recordJob rewrites the persisted job-history record for the current job.
func (o *Orchestrator) recordJob(ctx context.Context, v int64) {
	if o.hist == nil {
		return
	}
	o.mu.Lock()
	if o.version != v || o.job == nil {
		o.mu.Unlock()
		return
	}
	rec := history.JobRecord{
		ID:       o.job.ID,
		FileName: o.job.FileName,
		Date:     o.job.CreatedAt,
		Status:   o.job.Status,
		VideoRef: o.job.RemoteJobID,
	}
	o.mu.Unlock()
	if err := o.hist.SaveJob(ctx, rec); err != nil {
		o.logger.Warn("persist job record failed", zap.Error(err))
	}
}

func (o *Orchestrator) sessionLog(ctx context.Context, level models.LogLevel, message string) {
	o.logger.Info(message, zap.String("level", string(level)))
	if o.hist == nil {
		return
	}
	if err := o.hist.Append(ctx, level, message); err != nil {
		o.logger.Warn("persist session log failed", zap.Error(err))
	}
}

func (o *Orchestrator) snapshotFileName(v int64) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.version != v || o.job == nil {
		return ""
	}
	return o.job.FileName
}

func mimeFromExt(filename string) string {
	switch filepath.Ext(filename) {
	case ".mp4":
		return "video/mp4"
	case ".avi":
		return "video/x-msvideo"
	case ".mov":
		return "video/quicktime"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}
