package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Type is the unique tag for this job kind.
	Type string

	// Handler is the function that processes the job payload. Service
	// handles are available through ServicesFrom(ctx); every handle is
	// optional and handlers must fail with a descriptive error rather
	// than panic when one is absent.
	Handler func(ctx context.Context, payload T) error

	// Opts configures retries, priority, and timeout.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](jobType string, handler func(ctx context.Context, payload T) error, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Type:    jobType,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
