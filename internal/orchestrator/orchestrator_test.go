package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"advision/internal/client"
	"advision/internal/config"
	"advision/internal/history"
	"advision/internal/models"
)

const sampleReport = "Ad in video abc123-def.mp4\nDuration: 3.5 sec\n\nAd in video abc123-def.mp4\nDuration: 2.0 sec\n"

type fakeService struct {
	mu          sync.Mutex
	probeOK     bool
	probeReason string
	probeCalls  int
	uploadCalls int
	reportCalls int
	logCalls    int

	uploadErr  error
	result     client.UploadResult
	reportText string
	reportErr  error
	logs       []string

	// holdUpload, when set, blocks Upload between transfer completion and
	// the response, simulating server-side processing time.
	holdUpload chan struct{}
}

func (f *fakeService) Probe(ctx context.Context) (bool, string) {
	f.mu.Lock()
	f.probeCalls++
	f.mu.Unlock()
	return f.probeOK, f.probeReason
}

func (f *fakeService) Upload(ctx context.Context, path string, onProgress func(int)) (client.UploadResult, error) {
	f.mu.Lock()
	f.uploadCalls++
	hold := f.holdUpload
	f.mu.Unlock()

	if onProgress != nil {
		onProgress(40)
		onProgress(100)
	}
	if hold != nil {
		<-hold
	}
	return f.result, f.uploadErr
}

func (f *fakeService) FetchLogs(ctx context.Context, videoID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logCalls++
	return f.logs, nil
}

func (f *fakeService) FetchReport(ctx context.Context, reportID string) (string, error) {
	f.mu.Lock()
	f.reportCalls++
	f.mu.Unlock()
	return f.reportText, f.reportErr
}

func (f *fakeService) calls() (probe, upload, report, logs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeCalls, f.uploadCalls, f.reportCalls, f.logCalls
}

type fakeHistory struct {
	mu      sync.Mutex
	saves   []history.JobRecord
	entries []string
}

func (f *fakeHistory) Append(ctx context.Context, level models.LogLevel, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, message)
	return nil
}

func (f *fakeHistory) SaveJob(ctx context.Context, rec history.JobRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, rec)
	return nil
}

func (f *fakeHistory) lastStatus() (models.JobStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saves) == 0 {
		return "", false
	}
	return f.saves[len(f.saves)-1].Status, true
}

type fakeRenderer struct {
	err error
}

func (f *fakeRenderer) Build(doc models.ReportDocument, fileSize int64) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-fake"), nil
}

func fastMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{TickMillis: 5, ProcessingBudgetSec: 1, WatchdogSec: 300}
}

func tempVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("not really a video"), 0o644); err != nil {
		t.Fatalf("write temp video: %v", err)
	}
	return path
}

func TestSubmitHappyPath(t *testing.T) {
	svc := &fakeService{
		probeOK:    true,
		result:     client.UploadResult{VideoID: "vid-1", ReportPath: "/app/reports/vid-1_report.txt"},
		reportText: sampleReport,
		logs:       []string{"detection started"},
		holdUpload: make(chan struct{}),
	}
	hist := &fakeHistory{}

	var cbMu sync.Mutex
	var procSeen []int
	orc := New(svc, hist, &fakeRenderer{}, fastMonitorConfig(), Callbacks{
		OnProcessingProgress: func(pct int) {
			cbMu.Lock()
			procSeen = append(procSeen, pct)
			cbMu.Unlock()
		},
	}, zap.NewNop())

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := orc.Submit(context.Background(), tempVideo(t))
		done <- outcome{res, err}
	}()

	// Let the monitor tick a few times while the upload response is held.
	time.Sleep(60 * time.Millisecond)
	job, ok := orc.Job()
	if !ok {
		t.Fatal("no active job during processing")
	}
	if job.Status != models.StatusProcessing {
		t.Fatalf("expected Processing, got %s", job.Status)
	}
	if job.UploadProgress != 100 {
		t.Fatalf("upload progress should be complete: %d", job.UploadProgress)
	}
	if job.ProcessingProgress <= 0 || job.ProcessingProgress >= 100 {
		t.Fatalf("heuristic progress out of range mid-flight: %d", job.ProcessingProgress)
	}

	close(svc.holdUpload)
	out := <-done
	if out.err != nil {
		t.Fatalf("Submit error: %v", out.err)
	}

	if out.res.Job.Status != models.StatusSucceeded {
		t.Fatalf("job not succeeded: %s", out.res.Job.Status)
	}
	if out.res.Job.ProcessingProgress != 100 {
		t.Fatalf("processing progress not pinned to 100: %d", out.res.Job.ProcessingProgress)
	}
	if out.res.Job.RemoteJobID != "vid-1" {
		t.Fatalf("remote id not recorded: %q", out.res.Job.RemoteJobID)
	}
	if out.res.Document.SegmentCount != 2 {
		t.Fatalf("parsed segment count: %d", out.res.Document.SegmentCount)
	}
	if len(out.res.Artifact) == 0 {
		t.Fatal("artifact missing")
	}

	cbMu.Lock()
	defer cbMu.Unlock()
	hundreds := 0
	for i, pct := range procSeen {
		if pct == 100 {
			hundreds++
			if i != len(procSeen)-1 {
				t.Fatalf("progress mutated after resolution: %v", procSeen)
			}
		}
	}
	if hundreds != 1 {
		t.Fatalf("expected exactly one 100%% callback, got %d (%v)", hundreds, procSeen)
	}

	if status, ok := hist.lastStatus(); !ok || status != models.StatusSucceeded {
		t.Fatalf("history not rewritten to terminal status: %v %v", status, ok)
	}
}

func TestSubmitRejectsOversizedFileWithoutNetworkCalls(t *testing.T) {
	svc := &fakeService{probeOK: true}
	orc := New(svc, &fakeHistory{}, nil, fastMonitorConfig(), Callbacks{}, zap.NewNop())

	path := filepath.Join(t.TempDir(), "big.mp4")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.Truncate(MaxUploadBytes + 1); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	f.Close()

	_, err = orc.Submit(context.Background(), path)
	var ve *client.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	probe, upload, report, logs := svc.calls()
	if probe+upload+report+logs != 0 {
		t.Fatalf("validation failure produced network calls: %d/%d/%d/%d", probe, upload, report, logs)
	}
}

func TestSubmitRejectsMissingFile(t *testing.T) {
	svc := &fakeService{probeOK: true}
	orc := New(svc, &fakeHistory{}, nil, fastMonitorConfig(), Callbacks{}, zap.NewNop())

	_, err := orc.Submit(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"))
	var ve *client.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestProbeFailureAbortsBeforeUpload(t *testing.T) {
	svc := &fakeService{probeOK: false, probeReason: "connection refused"}
	hist := &fakeHistory{}
	orc := New(svc, hist, nil, fastMonitorConfig(), Callbacks{}, zap.NewNop())

	_, err := orc.Submit(context.Background(), tempVideo(t))
	if !errors.Is(err, client.ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}

	_, upload, report, _ := svc.calls()
	if upload != 0 || report != 0 {
		t.Fatalf("upload side effects after failed probe: upload=%d report=%d", upload, report)
	}
	if status, ok := hist.lastStatus(); !ok || status != models.StatusFailed {
		t.Fatalf("job not recorded as failed: %v %v", status, ok)
	}
}

func TestUploadNetworkFailureSurfacesOngoingHint(t *testing.T) {
	svc := &fakeService{
		probeOK:   true,
		uploadErr: &client.NetworkError{Op: "upload", Err: errors.New("timeout")},
	}
	orc := New(svc, &fakeHistory{}, nil, fastMonitorConfig(), Callbacks{}, zap.NewNop())

	_, err := orc.Submit(context.Background(), tempVideo(t))
	var ne *client.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NetworkError, got %v", err)
	}

	job, ok := orc.Job()
	if !ok || job.Status != models.StatusFailed {
		t.Fatalf("job not failed: %+v", job)
	}
	if want := "may still be ongoing"; !contains(job.ErrorDetail, want) {
		t.Fatalf("error detail %q should contain %q", job.ErrorDetail, want)
	}
}

func TestUploadRejectionSurfacesDetail(t *testing.T) {
	svc := &fakeService{
		probeOK:   true,
		uploadErr: &client.ServerError{Status: 500, Detail: "detection failed"},
	}
	orc := New(svc, &fakeHistory{}, nil, fastMonitorConfig(), Callbacks{}, zap.NewNop())

	_, err := orc.Submit(context.Background(), tempVideo(t))
	var se *client.ServerError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	job, _ := orc.Job()
	if !contains(job.ErrorDetail, "detection failed") {
		t.Fatalf("rejection detail lost: %q", job.ErrorDetail)
	}
}

func TestWatchdogAdvisoryDoesNotFailJob(t *testing.T) {
	svc := &fakeService{
		probeOK:    true,
		result:     client.UploadResult{VideoID: "vid-1"},
		reportText: sampleReport,
		holdUpload: make(chan struct{}),
	}

	advisories := make(chan string, 4)
	orc := New(svc, &fakeHistory{}, nil, fastMonitorConfig(), Callbacks{
		OnAdvisory: func(msg string) { advisories <- msg },
	}, zap.NewNop())
	orc.watchdog = 20 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		_, err := orc.Submit(context.Background(), tempVideo(t))
		done <- err
	}()

	select {
	case <-advisories:
	case <-time.After(time.Second):
		t.Fatal("watchdog advisory never fired")
	}

	// Advisory must not have resolved the job.
	job, ok := orc.Job()
	if !ok || job.Status != models.StatusProcessing {
		t.Fatalf("advisory changed job state: %+v", job)
	}

	close(svc.holdUpload)
	if err := <-done; err != nil {
		t.Fatalf("Submit error: %v", err)
	}
}

func TestStopMonitorIsIdempotent(t *testing.T) {
	orc := New(&fakeService{}, nil, nil, fastMonitorConfig(), Callbacks{}, zap.NewNop())

	orc.mu.Lock()
	orc.job = &models.UploadJob{Status: models.StatusProcessing}
	orc.version = 1
	orc.startMonitorLocked(1)
	if orc.mon == nil {
		t.Fatal("monitor not started")
	}
	orc.stopMonitorLocked()
	if orc.mon != nil {
		t.Fatal("monitor handle not cleared")
	}
	orc.stopMonitorLocked()
	orc.mu.Unlock()

	m := newMonitor()
	m.stop()
	m.stop()
}

func TestStaleTicksAreIgnored(t *testing.T) {
	svc := &fakeService{logs: []string{"stale"}}
	orc := New(svc, nil, nil, fastMonitorConfig(), Callbacks{}, zap.NewNop())

	orc.mu.Lock()
	orc.job = &models.UploadJob{Status: models.StatusProcessing, ProcessingProgress: 10}
	orc.procProgress = 10
	orc.version = 2
	orc.mu.Unlock()

	orc.bumpProgress(1, 5)
	orc.pollLogs(1)

	job, _ := orc.Job()
	if job.ProcessingProgress != 10 {
		t.Fatalf("stale tick mutated progress: %d", job.ProcessingProgress)
	}
	if _, _, _, logs := svc.calls(); logs != 0 {
		t.Fatalf("stale poll reached the service: %d calls", logs)
	}
	if len(orc.Logs()) != 0 {
		t.Fatalf("stale poll replaced buffer: %v", orc.Logs())
	}
}

func TestNoMutationAfterResolution(t *testing.T) {
	svc := &fakeService{logs: []string{"late"}}
	orc := New(svc, nil, nil, fastMonitorConfig(), Callbacks{}, zap.NewNop())

	orc.mu.Lock()
	orc.job = &models.UploadJob{Status: models.StatusSucceeded, ProcessingProgress: 100}
	orc.procProgress = 100
	orc.version = 1
	orc.mu.Unlock()

	orc.bumpProgress(1, 5)
	orc.pollLogs(1)

	job, _ := orc.Job()
	if job.ProcessingProgress != 100 {
		t.Fatalf("resolved job progress mutated: %d", job.ProcessingProgress)
	}
	if len(orc.Logs()) != 0 {
		t.Fatalf("resolved job log buffer mutated: %v", orc.Logs())
	}
}

func TestHeuristicProgressClampsAt99(t *testing.T) {
	orc := New(&fakeService{}, nil, nil, fastMonitorConfig(), Callbacks{}, zap.NewNop())

	orc.mu.Lock()
	orc.job = &models.UploadJob{Status: models.StatusProcessing}
	orc.version = 1
	orc.mu.Unlock()

	for i := 0; i < 500; i++ {
		orc.bumpProgress(1, 5)
	}
	job, _ := orc.Job()
	if job.ProcessingProgress != 99 {
		t.Fatalf("heuristic exceeded ceiling: %d", job.ProcessingProgress)
	}
}

func TestClearSupersedesInFlightJob(t *testing.T) {
	svc := &fakeService{
		probeOK:    true,
		result:     client.UploadResult{VideoID: "vid-1"},
		reportText: sampleReport,
		holdUpload: make(chan struct{}),
	}
	orc := New(svc, &fakeHistory{}, nil, fastMonitorConfig(), Callbacks{}, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		_, err := orc.Submit(context.Background(), tempVideo(t))
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	orc.Clear(context.Background())

	close(svc.holdUpload)
	if err := <-done; err == nil {
		t.Fatal("superseded submission should not succeed")
	}

	if _, ok := orc.Job(); ok {
		t.Fatal("cleared orchestrator still holds a job")
	}
	if _, _, report, _ := svc.calls(); report != 0 {
		t.Fatalf("superseded job still fetched a report: %d", report)
	}
}

func TestRenderFailureDegradesToDocument(t *testing.T) {
	svc := &fakeService{
		probeOK:    true,
		result:     client.UploadResult{VideoID: "vid-1"},
		reportText: sampleReport,
	}
	orc := New(svc, &fakeHistory{}, &fakeRenderer{err: errors.New("font exploded")}, fastMonitorConfig(), Callbacks{}, zap.NewNop())

	res, err := orc.Submit(context.Background(), tempVideo(t))
	if err != nil {
		t.Fatalf("render failure must not fail the job: %v", err)
	}
	if res.Artifact != nil {
		t.Fatal("artifact should be absent after render failure")
	}
	if res.Document.SegmentCount != 2 {
		t.Fatalf("parsed data lost: %d", res.Document.SegmentCount)
	}
	if res.Job.Status != models.StatusSucceeded {
		t.Fatalf("job should still succeed: %s", res.Job.Status)
	}
}

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}
