package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// UploadResult is the location of a successfully uploaded render.
type UploadResult struct {
	URL         string
	StoragePath string
}

// UploadFinalError is returned once UploadRender has exhausted its retry
// budget against a retryable error. The pipeline treats this as a fatal
// job failure.
type UploadFinalError struct {
	Attempts int
	Cause    error
}

func (e *UploadFinalError) Error() string {
	return fmt.Sprintf("queue: upload_render: failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *UploadFinalError) Unwrap() error { return e.Cause }

// backoffForAttempt implements the exponential-ish backoff named in §4.D:
// attempt * 2000ms.
func backoffForAttempt(attempt int) time.Duration {
	return time.Duration(attempt) * 2 * time.Second
}

func isRetryableUploadErr(statusCode int, err error) bool {
	if statusCode != 0 {
		// Got a response: only 5xx is worth retrying. 4xx (bad signed URL,
		// missing object, auth failure) won't succeed on a later attempt.
		return statusCode/100 == 5
	}
	if err == nil {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) // connection refused, DNS failure, timeout, etc.
}

// renderObjectPath builds the bucket-relative path a rendered track is
// addressed by: tracks/{track_id}/rendered.{format}.
func renderObjectPath(trackID, format string) string {
	return fmt.Sprintf("tracks/%s/rendered.%s", trackID, format)
}

// UploadRender uploads the file at localPath to the audio-renders bucket
// under the canonical track path, making at most maxAttempts attempts with
// backoffForAttempt delay between attempts for retryable errors. A
// non-retryable error is returned immediately without retrying.
func (c *Client) UploadRender(ctx context.Context, localPath, trackID, format string) (*UploadResult, error) {
	objectPath := renderObjectPath(trackID, format)
	uploadURL := c.renderBucketBaseURL + "/" + objectPath

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		result, statusCode, err := c.putFile(ctx, uploadURL, localPath, objectPath)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryableUploadErr(statusCode, err) {
			return nil, err
		}
		if attempt < c.maxAttempts {
			select {
			case <-time.After(backoffForAttempt(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, &UploadFinalError{Attempts: c.maxAttempts, Cause: lastErr}
}

func (c *Client) putFile(ctx context.Context, uploadURL, localPath, objectPath string) (*UploadResult, int, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, f)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return nil, resp.StatusCode, fmt.Errorf("upload: http %d", resp.StatusCode)
	}
	return &UploadResult{URL: uploadURL, StoragePath: objectPath}, resp.StatusCode, nil
}

// DownloadBackgroundMusic downloads the file at the given URL to
// localPath. It supports both storage-bucket URLs (scheme-prefixed,
// decomposed into bucket/object and resolved against the configured
// background-music bucket base URL) and arbitrary HTTPS URLs. Returns
// false — never an error — on any failure, since a missing background
// track degrades to "skip the layer", not a job failure.
func (c *Client) DownloadBackgroundMusic(ctx context.Context, musicURL, localPath string) bool {
	resolved := c.resolveBucketURL(musicURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return false
	}

	out, err := os.Create(localPath)
	if err != nil {
		return false
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return false
	}
	return true
}

// resolveBucketURL rewrites a storage-bucket URL (e.g. s3://bucket/path)
// into an HTTPS URL against the configured music bucket base; any other
// scheme (http/https) passes through unchanged.
func (c *Client) resolveBucketURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return raw
	}
	// Bucket-style URL: the scheme is dropped and host plus path form the
	// object key under the music bucket base (s3://bucket/key becomes
	// {base}/bucket/key).
	objectKey := strings.TrimPrefix(u.Host+u.Path, "/")
	return strings.TrimRight(c.musicBucketBaseURL, "/") + "/" + objectKey
}
