package api

import (
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler implements the remote detection-service contract as a local
// stand-in: the same endpoints and payload shapes as the production engine,
// with fabricated analysis results. It backs cmd/stubserver and the client
// integration tests.
type Handler struct {
	logger *zap.Logger

	mu      sync.Mutex
	reports map[string]string
	logs    []string
}

func NewHandler(logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:  logger,
		reports: make(map[string]string),
	}
}

// RegisterRoutes attaches the service contract to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)
	router.POST("/upload", h.upload)
	router.GET("/report/:id", h.report)
	router.GET("/logs", h.jobLogs)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "no file provided"})
		return
	}
	filename := c.PostForm("filename")
	if filename == "" {
		filename = fileHeader.Filename
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": fmt.Sprintf("read upload: %v", err)})
		return
	}
	size, err := io.Copy(io.Discard, file)
	file.Close()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": fmt.Sprintf("read upload: %v", err)})
		return
	}

	videoID := uuid.New().String()
	reportText := fabricateReport(videoID)

	h.mu.Lock()
	h.reports[videoID] = reportText
	h.appendLogLocked(fmt.Sprintf("received upload %s (%d bytes)", filename, size))
	h.appendLogLocked(fmt.Sprintf("detection started for %s", videoID))
	h.appendLogLocked(fmt.Sprintf("analysis finished for %s", videoID))
	h.mu.Unlock()

	h.logger.Info("stub upload processed",
		zap.String("file", filename),
		zap.Int64("size", size),
		zap.String("video_id", videoID),
	)
	c.JSON(http.StatusOK, gin.H{
		"video_id":    videoID,
		"report_path": fmt.Sprintf("/app/reports/%s_report.txt", videoID),
	})
}

func (h *Handler) report(c *gin.Context) {
	id := c.Param("id")
	h.mu.Lock()
	text, ok := h.reports[id]
	h.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "report not found"})
		return
	}
	c.String(http.StatusOK, text)
}

func (h *Handler) jobLogs(c *gin.Context) {
	// The contract allows an empty video_id while the client does not yet
	// hold a remote identifier; recent lines are returned either way.
	_ = c.Query("video_id")

	h.mu.Lock()
	lines := make([]string, len(h.logs))
	copy(lines, h.logs)
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"logs": lines})
}

const maxLogLines = 50

func (h *Handler) appendLogLocked(line string) {
	stamped := time.Now().Format("15:04:05") + " " + line
	h.logs = append(h.logs, stamped)
	if len(h.logs) > maxLogLines {
		h.logs = h.logs[len(h.logs)-maxLogLines:]
	}
}

// fabricateReport emits report text in the production grammar so the
// client-side parser round-trips against the stub.
func fabricateReport(videoID string) string {
	n := 1 + rand.Intn(3)
	out := "Ad quality report\n\n"
	for i := 0; i < n; i++ {
		duration := 1.5 + rand.Float64()*4
		score := 0.2 + rand.Float64()*0.75
		label := "high"
		if score < 0.5 {
			label = "low"
		} else if score < 0.75 {
			label = "medium"
		}
		out += fmt.Sprintf(
			"Ad in video %s.mp4\n  - Position: center\n  - Size: %.2f%% of frame\n  - Duration: %.1f sec\n  - Quality: %s (score: %.2f)\n\n",
			videoID, 1+rand.Float64()*3, duration, label, score,
		)
	}
	return out
}
