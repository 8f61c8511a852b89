package job

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"
)

// redisRepo connects to REDIS_URL with a per-test key prefix.
func redisRepo(t *testing.T) *RedisRepository {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping redis test")
	}
	prefix := fmt.Sprintf("vbeats-test-%d", time.Now().UnixNano())
	repo, err := NewRedisRepository(context.Background(), url, prefix, time.Minute)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRedisRepository_BadURL(t *testing.T) {
	_, err := NewRedisRepository(context.Background(), "not a url", "x", time.Minute)
	if err == nil {
		t.Error("expected error for malformed URL")
	}
}

func TestRedisRepository_RoundTrip(t *testing.T) {
	repo := redisRepo(t)
	ctx := context.Background()

	job := New("s1", 1.5, 4)
	job.Publish = true
	if err := repo.Save(ctx, job); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	_ = job.Begin()
	_ = job.Complete("vbeats-trim-1.mp4", "/tmp/out.mp4", "")
	if err := repo.Save(ctx, job); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := repo.FindByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got.Status != StatusCompleted || got.Start != 1.5 || got.End != 4 || !got.Publish {
		t.Errorf("unexpected job: %+v", got)
	}
	if got.Filename != "vbeats-trim-1.mp4" {
		t.Errorf("expected filename, got %q", got.Filename)
	}
	if !got.CompletedAt.Equal(job.CompletedAt) {
		t.Errorf("CompletedAt mismatch: %v vs %v", got.CompletedAt, job.CompletedAt)
	}
}

func TestRedisRepository_ListAndDelete(t *testing.T) {
	repo := redisRepo(t)
	ctx := context.Background()

	a := New("s1", 0, 5)
	b := New("s1", 5, 10)
	b.CreatedAt = a.CreatedAt.Add(time.Second)
	c := New("s2", 0, 5)
	for _, j := range []*Job{b, a, c} {
		if err := repo.Save(ctx, j); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	jobs, err := repo.ListBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("ListBySession failed: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != a.ID || jobs[1].ID != b.ID {
		t.Fatalf("unexpected listing: %+v", jobs)
	}

	if err := repo.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := repo.FindByID(ctx, a.ID); err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
	if err := repo.Delete(ctx, a.ID); err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound on second delete, got %v", err)
	}

	jobs, _ = repo.ListBySession(ctx, "s1")
	if len(jobs) != 1 {
		t.Errorf("expected 1 job left, got %d", len(jobs))
	}
}
