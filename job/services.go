package job

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/conveyorhq/conveyor"
)

// Mailer sends transactional email on behalf of jobs.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// FileStore reads and writes named blobs on behalf of jobs.
type FileStore interface {
	Put(ctx context.Context, name string, r io.Reader) error
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
}

// Services is the capability bag passed to jobs at execution time.
// Every handle is optional; the accessors return a descriptive error
// when a handle is absent so handlers fail gracefully instead of
// dereferencing nil.
type Services struct {
	mailer Mailer
	db     *pgxpool.Pool
	redis  redis.UniversalClient
	files  FileStore
}

// ServicesOption configures a Services bag.
type ServicesOption func(*Services)

// WithMailer provides an email sender to jobs.
func WithMailer(m Mailer) ServicesOption {
	return func(s *Services) { s.mailer = m }
}

// WithDB provides a Postgres connection pool to jobs.
func WithDB(pool *pgxpool.Pool) ServicesOption {
	return func(s *Services) { s.db = pool }
}

// WithRedis provides a Redis client to jobs.
func WithRedis(c redis.UniversalClient) ServicesOption {
	return func(s *Services) { s.redis = c }
}

// WithFileStore provides a blob store to jobs.
func WithFileStore(fs FileStore) ServicesOption {
	return func(s *Services) { s.files = fs }
}

// NewServices creates a Services bag. With no options every accessor
// reports the service as unavailable.
func NewServices(opts ...ServicesOption) *Services {
	s := &Services{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mailer returns the configured email sender.
func (s *Services) Mailer() (Mailer, error) {
	if s == nil || s.mailer == nil {
		return nil, fmt.Errorf("mailer: %w", conveyor.ErrServiceUnavailable)
	}
	return s.mailer, nil
}

// DB returns the configured Postgres pool.
func (s *Services) DB() (*pgxpool.Pool, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("db: %w", conveyor.ErrServiceUnavailable)
	}
	return s.db, nil
}

// Redis returns the configured Redis client.
func (s *Services) Redis() (redis.UniversalClient, error) {
	if s == nil || s.redis == nil {
		return nil, fmt.Errorf("redis: %w", conveyor.ErrServiceUnavailable)
	}
	return s.redis, nil
}

// Files returns the configured blob store.
func (s *Services) Files() (FileStore, error) {
	if s == nil || s.files == nil {
		return nil, fmt.Errorf("file store: %w", conveyor.ErrServiceUnavailable)
	}
	return s.files, nil
}

type servicesKey struct{}

// NewContext attaches a Services bag to the context. The scheduler calls
// this once per execution so handlers can reach their capabilities.
func NewContext(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the Services bag from the context. It never
// returns nil: absent services yield an empty bag whose accessors
// report every capability as unavailable.
func ServicesFrom(ctx context.Context) *Services {
	if s, ok := ctx.Value(servicesKey{}).(*Services); ok && s != nil {
		return s
	}
	return &Services{}
}
