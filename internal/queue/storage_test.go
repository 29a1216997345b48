package queue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRenderObjectPath(t *testing.T) {
	got := renderObjectPath("trk_123", "mp3")
	want := "tracks/trk_123/rendered.mp3"
	if got != want {
		t.Errorf("renderObjectPath = %q, want %q", got, want)
	}
}

func TestBackoffForAttempt(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 6 * time.Second},
	}
	for _, c := range cases {
		if got := backoffForAttempt(c.attempt); got != c.want {
			t.Errorf("backoffForAttempt(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestIsRetryableUploadErr(t *testing.T) {
	if !isRetryableUploadErr(503, nil) {
		t.Error("503 should be retryable")
	}
	if isRetryableUploadErr(404, nil) {
		t.Error("404 should not be retryable")
	}
	if isRetryableUploadErr(400, nil) {
		t.Error("400 should not be retryable")
	}
}

func TestResolveBucketURL_PassesThroughHTTPS(t *testing.T) {
	c := &Client{musicBucketBaseURL: "https://music.example.com"}
	got := c.resolveBucketURL("https://cdn.example.com/calm.mp3")
	if got != "https://cdn.example.com/calm.mp3" {
		t.Errorf("expected passthrough, got %q", got)
	}
}

func TestResolveBucketURL_RewritesBucketScheme(t *testing.T) {
	c := &Client{musicBucketBaseURL: "https://music.example.com"}
	got := c.resolveBucketURL("s3://calm-tracks/calm.mp3")
	want := "https://music.example.com/calm-tracks/calm.mp3"
	if got != want {
		t.Errorf("resolveBucketURL = %q, want %q", got, want)
	}
}

func TestUploadRender_SucceedsFirstAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dir := t.TempDir()
	localPath := filepath.Join(dir, "render.mp3")
	if err := os.WriteFile(localPath, []byte("audio bytes"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	c := &Client{
		httpClient:          server.Client(),
		renderBucketBaseURL: server.URL,
		maxAttempts:         3,
	}

	result, err := c.UploadRender(context.Background(), localPath, "trk_1", "mp3")
	if err != nil {
		t.Fatalf("UploadRender: %v", err)
	}
	if result.StoragePath != "tracks/trk_1/rendered.mp3" {
		t.Errorf("StoragePath = %q", result.StoragePath)
	}
}

func TestUploadRender_NonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	dir := t.TempDir()
	localPath := filepath.Join(dir, "render.mp3")
	os.WriteFile(localPath, []byte("audio bytes"), 0o644)

	c := &Client{
		httpClient:          server.Client(),
		renderBucketBaseURL: server.URL,
		maxAttempts:         3,
	}

	_, err := c.UploadRender(context.Background(), localPath, "trk_1", "mp3")
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 attempt for a non-retryable error, got %d", calls)
	}
}

func TestUploadRender_RetryableExhaustsAttempts(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	dir := t.TempDir()
	localPath := filepath.Join(dir, "render.mp3")
	os.WriteFile(localPath, []byte("audio bytes"), 0o644)

	c := &Client{
		httpClient:          server.Client(),
		renderBucketBaseURL: server.URL,
		maxAttempts:         2,
	}

	start := time.Now()
	_, err := c.UploadRender(context.Background(), localPath, "trk_1", "mp3")
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error")
	}
	var finalErr *UploadFinalError
	if fe, ok := err.(*UploadFinalError); ok {
		finalErr = fe
	}
	if finalErr == nil {
		t.Fatalf("expected *UploadFinalError, got %T", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
	if elapsed < 2*time.Second {
		t.Errorf("expected at least one backoff delay, elapsed = %v", elapsed)
	}
}

func TestDownloadBackgroundMusic_404ReturnsFalse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := &Client{httpClient: server.Client(), musicBucketBaseURL: server.URL}
	ok := c.DownloadBackgroundMusic(context.Background(), server.URL+"/missing.mp3", filepath.Join(t.TempDir(), "out.mp3"))
	if ok {
		t.Error("expected false for 404 response")
	}
}

func TestDownloadBackgroundMusic_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("music bytes"))
	}))
	defer server.Close()

	outPath := filepath.Join(t.TempDir(), "out.mp3")
	c := &Client{httpClient: server.Client(), musicBucketBaseURL: server.URL}
	if !c.DownloadBackgroundMusic(context.Background(), server.URL+"/calm.mp3", outPath) {
		t.Fatal("expected successful download")
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "music bytes" {
		t.Errorf("unexpected content: %q", data)
	}
}
