package history

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"advision/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(db)
}

func TestSaveJobRewritesRecord(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := JobRecord{
		ID:       "job-1",
		FileName: "clip.mp4",
		Date:     time.Now().Truncate(time.Second),
		Status:   models.StatusUploading,
	}
	if err := store.SaveJob(ctx, rec); err != nil {
		t.Fatalf("initial save: %v", err)
	}

	rec.Status = models.StatusSucceeded
	rec.VideoRef = "vid-1"
	if err := store.SaveJob(ctx, rec); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	jobs, err := store.ListJobs(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("rewrite duplicated the record: %d rows", len(jobs))
	}
	if jobs[0].Status != models.StatusSucceeded || jobs[0].VideoRef != "vid-1" {
		t.Fatalf("record not rewritten: %+v", jobs[0])
	}
}

func TestListJobsMostRecentFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		rec := JobRecord{ID: id, FileName: id + ".mp4", Date: base.Add(time.Duration(i) * time.Minute), Status: models.StatusSucceeded}
		if err := store.SaveJob(ctx, rec); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	jobs, err := store.ListJobs(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "new" || jobs[1].ID != "mid" {
		t.Fatalf("ordering wrong: %+v", jobs)
	}
}

func TestLogAppendOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, msg := range []string{"first", "second", "third"} {
		if err := store.Append(ctx, models.LevelInfo, msg); err != nil {
			t.Fatalf("append %s: %v", msg, err)
		}
	}

	entries, err := store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"first", "second", "third"} {
		if entries[i].Message != want {
			t.Fatalf("append order broken: %+v", entries)
		}
	}
	if entries[0].Level != models.LevelInfo {
		t.Fatalf("level not persisted: %+v", entries[0])
	}
}
