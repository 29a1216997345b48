package queue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridianaudio/renderworker/internal/resilience"
)

// DefaultLeaseTTL and DefaultMaxAttempts are the lease-duration and
// retry-budget defaults decided in the absence of an explicit source
// policy (see DESIGN.md's Open Question decisions).
const (
	DefaultLeaseTTL    = 15 * time.Minute
	DefaultMaxAttempts = 3
)

// QueueError wraps a backing-store failure. The caller's policy (per
// spec §7) is: log it, leave the job in processing until the lease
// expires, and continue to the next cycle — never crash the worker loop.
type QueueError struct {
	Op    string
	Cause error
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("queue: %s: %v", e.Op, e.Cause)
}

func (e *QueueError) Unwrap() error { return e.Cause }

// ErrNoPendingJob is returned by DequeueOne when no pending row is
// available to claim.
var ErrNoPendingJob = errors.New("queue: no pending job")

// Option configures a Client.
type Option func(*Client)

// WithLeaseTTL overrides DefaultLeaseTTL.
func WithLeaseTTL(d time.Duration) Option {
	return func(c *Client) { c.leaseTTL = d }
}

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

// WithHTTPClient overrides the HTTP client used for storage upload,
// background-music download, and signed-URL requests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithRenderBucketBaseURL sets the base URL the audio-renders bucket is
// reachable at, used to build the upload PUT URL for a track's rendered
// object.
func WithRenderBucketBaseURL(base string) Option {
	return func(c *Client) { c.renderBucketBaseURL = base }
}

// WithMusicBucketBaseURL sets the base URL the background-music bucket is
// reachable at, used to resolve bucket-style background music URLs.
func WithMusicBucketBaseURL(base string) Option {
	return func(c *Client) { c.musicBucketBaseURL = base }
}

// Client is the PostgreSQL-backed queue client: atomic dequeue with lease
// semantics, progress updates, terminal transitions, storage
// upload/download, and insert notification. All operations are safe for
// concurrent use.
type Client struct {
	pool                *pgxpool.Pool
	leaseTTL            time.Duration
	maxAttempts         int
	httpClient          *http.Client
	breaker             *resilience.CircuitBreaker
	renderBucketBaseURL string
	musicBucketBaseURL  string
}

// New connects to the PostgreSQL database at dsn, runs Migrate, and
// returns a ready Client.
func New(ctx context.Context, dsn string, opts ...Option) (*Client, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("queue: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("queue: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("queue: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("queue: migrate: %w", err)
	}

	c := &Client{
		pool:        pool,
		leaseTTL:    DefaultLeaseTTL,
		maxAttempts: DefaultMaxAttempts,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        "queue-store",
			MaxFailures: 5,
			ResetTimeout: 30 * time.Second,
		}),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Close releases all connections held by the underlying connection pool.
func (c *Client) Close() {
	c.pool.Close()
}
