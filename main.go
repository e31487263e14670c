package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"advision/internal/client"
	"advision/internal/config"
	"advision/internal/history"
	"advision/internal/models"
	"advision/internal/orchestrator"
	"advision/internal/report"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("ADVISION_CONFIG"), "path to config.json")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: advision [-config config.json] <video file>")
		os.Exit(2)
	}
	filePath := flag.Arg(0)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	dbType := os.Getenv("ADVISION_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	db, err := history.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open history database: %v", err)
	}
	defer db.Close()
	if err := history.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate history database: %v", err)
	}
	store := history.NewStore(db)

	svc := client.New(cfg.Service, logger)
	builder := report.NewBuilder(cfg.Report, logger)

	callbacks := orchestrator.Callbacks{
		OnStatus: func(status models.JobStatus) {
			fmt.Printf("status: %s\n", status)
		},
		OnUploadProgress: func(pct int) {
			fmt.Printf("\ruploading: %3d%%", pct)
			if pct >= 100 {
				fmt.Println()
			}
		},
		OnProcessingProgress: func(pct int) {
			fmt.Printf("\rprocessing: %3d%%", pct)
			if pct >= 100 {
				fmt.Println()
			}
		},
		OnAdvisory: func(msg string) {
			fmt.Printf("\nnotice: %s\n", msg)
		},
	}

	orc := orchestrator.New(svc, store, builder, cfg.Monitor, callbacks, logger)

	res, err := orc.Submit(context.Background(), filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\n%s\n", orchestrator.FailureDetail(err))
		os.Exit(1)
	}

	outDir := cfg.Report.OutputDir
	if outDir == "" {
		outDir = "."
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	if res.Artifact != nil {
		pdfPath := filepath.Join(outDir, report.ArtifactName(res.Job.FileName))
		if err := os.WriteFile(pdfPath, res.Artifact, 0o644); err != nil {
			log.Fatalf("write report pdf: %v", err)
		}
		fmt.Printf("report written: %s\n", pdfPath)
	}

	if xlsx, err := report.ExportXLSX(res.Document); err != nil {
		logger.Warn("xlsx export failed", zap.Error(err))
	} else {
		xlsxPath := filepath.Join(outDir, report.XLSXArtifactName(res.Job.FileName))
		if err := os.WriteFile(xlsxPath, xlsx, 0o644); err != nil {
			log.Fatalf("write segments xlsx: %v", err)
		}
		fmt.Printf("segments written: %s\n", xlsxPath)
	}

	fmt.Printf("%d segment(s), mean duration %.1fs, mean score %.2f\n",
		res.Document.SegmentCount, res.Document.MeanDuration, res.Document.MeanScore)
}
